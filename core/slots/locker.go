package slots

import (
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// Locker provides mutual exclusion keyed by an identity such as a yard name.
type Locker struct {
	locks *xsync.Map[string, *sync.Mutex]
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: xsync.NewMap[string, *sync.Mutex]()}
}

func (l *Locker) mutex(key string) *sync.Mutex {
	if mu, ok := l.locks.Load(key); ok {
		return mu
	}
	mu, _ := l.locks.LoadOrStore(key, &sync.Mutex{})
	return mu
}

// Lock acquires the locks for all keys and returns a function releasing them.
// Keys are de-duplicated and taken in sorted order, so two callers locking
// overlapping sets cannot deadlock. Empty keys are ignored.
func (l *Locker) Lock(keys ...string) (unlock func()) {
	set := make(map[string]struct{}, len(keys))
	ordered := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := set[k]; dup {
			continue
		}
		set[k] = struct{}{}
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)
	held := make([]*sync.Mutex, 0, len(ordered))
	for _, k := range ordered {
		mu := l.mutex(k)
		mu.Lock()
		held = append(held, mu)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// YardKey returns the lock key of a yard.
func YardKey(name string) string { return "yard:" + name }

// VehicleKey returns the lock key of a vehicle plate.
func VehicleKey(plate string) string { return "vehicle:" + plate }
