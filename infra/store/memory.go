package store

import (
	"context"
	"sort"
	"sync"

	"github.com/kilianp07/yardfleet/core/model"
	corestore "github.com/kilianp07/yardfleet/core/store"
)

// MemoryStore keeps all records in process memory. Transactions stage their
// writes and apply them in one step on commit, so a failed or cancelled unit
// of work leaves no trace. It does not serialize concurrent transactions;
// callers coordinate writers with slots.Locker.
type MemoryStore struct {
	mu       sync.RWMutex
	yards    map[string]model.Yard
	vehicles map[string]model.Vehicle
	staff    map[string]model.Staff
	clients  map[string]model.Client
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		yards:    map[string]model.Yard{},
		vehicles: map[string]model.Vehicle{},
		staff:    map[string]model.Staff{},
		clients:  map[string]model.Client{},
	}
}

// Atomic runs fn against a staging transaction and commits on success.
func (s *MemoryStore) Atomic(ctx context.Context, fn func(tx corestore.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		s:        s,
		yards:    newLayer[model.Yard](),
		vehicles: newLayer[model.Vehicle](),
		staff:    newLayer[model.Staff](),
		clients:  newLayer[model.Client](),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Checked under the write lock so a cancelled caller never commits.
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.yards.apply(s.yards)
	tx.vehicles.apply(s.vehicles)
	tx.staff.apply(s.staff)
	tx.clients.apply(s.clients)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

type layer[V any] struct {
	puts map[string]V
	dels map[string]struct{}
}

func newLayer[V any]() *layer[V] {
	return &layer[V]{puts: map[string]V{}, dels: map[string]struct{}{}}
}

func (l *layer[V]) get(base map[string]V, key string) (V, bool) {
	var zero V
	if _, ok := l.dels[key]; ok {
		return zero, false
	}
	if v, ok := l.puts[key]; ok {
		return v, true
	}
	v, ok := base[key]
	return v, ok
}

func (l *layer[V]) put(key string, v V) {
	delete(l.dels, key)
	l.puts[key] = v
}

func (l *layer[V]) del(key string) {
	delete(l.puts, key)
	l.dels[key] = struct{}{}
}

// merged returns the visible rows ordered by key.
func (l *layer[V]) merged(base map[string]V) []V {
	keys := make([]string, 0, len(base)+len(l.puts))
	seen := map[string]struct{}{}
	for k := range base {
		keys = append(keys, k)
		seen[k] = struct{}{}
	}
	for k := range l.puts {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		if v, ok := l.get(base, k); ok {
			out = append(out, v)
		}
	}
	return out
}

func (l *layer[V]) apply(base map[string]V) {
	for k := range l.dels {
		delete(base, k)
	}
	for k, v := range l.puts {
		base[k] = v
	}
}

type memTx struct {
	s        *MemoryStore
	yards    *layer[model.Yard]
	vehicles *layer[model.Vehicle]
	staff    *layer[model.Staff]
	clients  *layer[model.Client]
}

func (t *memTx) GetYard(_ context.Context, name string) (model.Yard, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	y, ok := t.yards.get(t.s.yards, name)
	if !ok {
		return model.Yard{}, corestore.ErrNotFound
	}
	return y, nil
}

func (t *memTx) SaveYard(_ context.Context, y model.Yard) error {
	t.yards.put(y.Name, y)
	return nil
}

func (t *memTx) DeleteYard(_ context.Context, name string) error {
	t.yards.del(name)
	return nil
}

func (t *memTx) ListYards(_ context.Context) ([]model.Yard, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.yards.merged(t.s.yards), nil
}

func (t *memTx) GetVehicle(_ context.Context, plate string) (model.Vehicle, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	v, ok := t.vehicles.get(t.s.vehicles, plate)
	if !ok {
		return model.Vehicle{}, corestore.ErrNotFound
	}
	return cloneVehicle(v), nil
}

func (t *memTx) VehicleExists(_ context.Context, plate string) (bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	_, ok := t.vehicles.get(t.s.vehicles, plate)
	return ok, nil
}

func (t *memTx) SaveVehicle(_ context.Context, v model.Vehicle) error {
	t.vehicles.put(v.Plate, cloneVehicle(v))
	return nil
}

func (t *memTx) DeleteVehicle(_ context.Context, plate string) error {
	t.vehicles.del(plate)
	return nil
}

func (t *memTx) ListVehicles(_ context.Context, f corestore.VehicleFilter) ([]model.Vehicle, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []model.Vehicle
	for _, v := range t.vehicles.merged(t.s.vehicles) {
		if f.Match(v) {
			out = append(out, cloneVehicle(v))
		}
	}
	return out, nil
}

func (t *memTx) GetStaff(_ context.Context, username string) (model.Staff, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	st, ok := t.staff.get(t.s.staff, username)
	if !ok {
		return model.Staff{}, corestore.ErrNotFound
	}
	return st, nil
}

func (t *memTx) SaveStaff(_ context.Context, st model.Staff) error {
	t.staff.put(st.Username, st)
	return nil
}

func (t *memTx) CountStaff(_ context.Context, yard string) (int, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	n := 0
	for _, st := range t.staff.merged(t.s.staff) {
		if st.Yard == yard {
			n++
		}
	}
	return n, nil
}

func (t *memTx) GetClient(_ context.Context, username string) (model.Client, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	c, ok := t.clients.get(t.s.clients, username)
	if !ok {
		return model.Client{}, corestore.ErrNotFound
	}
	return c, nil
}

func (t *memTx) ClientByVehicle(_ context.Context, plate string) (model.Client, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, c := range t.clients.merged(t.s.clients) {
		if c.VehiclePlate == plate {
			return c, nil
		}
	}
	return model.Client{}, corestore.ErrNotFound
}

func (t *memTx) SaveClient(_ context.Context, c model.Client) error {
	t.clients.put(c.Username, c)
	return nil
}

func cloneVehicle(v model.Vehicle) model.Vehicle {
	if v.LastServiceDate != nil {
		d := *v.LastServiceDate
		v.LastServiceDate = &d
	}
	return v
}
