package plugins

import (
	"github.com/kilianp07/yardfleet/config"
	corestore "github.com/kilianp07/yardfleet/core/store"
	infrastore "github.com/kilianp07/yardfleet/infra/store"
)

func init() {
	RegisterStore(config.DriverMemory, func(config.StoreConfig) (corestore.Store, error) {
		return infrastore.NewMemoryStore(), nil
	})
	RegisterStore(config.DriverSQLite, func(cfg config.StoreConfig) (corestore.Store, error) {
		st, err := infrastore.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	})
}
