package plugins

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kilianp07/yardfleet/config"
	corestore "github.com/kilianp07/yardfleet/core/store"
)

// StoreFactory opens a persistence backend from its configuration.
type StoreFactory func(cfg config.StoreConfig) (corestore.Store, error)

var Stores = map[string]StoreFactory{}

func RegisterStore(driver string, f StoreFactory) { Stores[driver] = f }

// OpenStore opens the backend named by cfg.Driver.
func OpenStore(cfg config.StoreConfig) (corestore.Store, error) {
	f, ok := Stores[cfg.Driver]
	if !ok {
		known := make([]string, 0, len(Stores))
		for name := range Stores {
			known = append(known, name)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("unknown store driver %q (known: %s)", cfg.Driver, strings.Join(known, ", "))
	}
	return f(cfg)
}
