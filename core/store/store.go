// Package store declares the persistence boundary used by the fleet
// coordinator. Implementations live in infra/store.
package store

import (
	"context"
	"errors"

	"github.com/kilianp07/yardfleet/core/model"
)

// ErrNotFound is returned by getters when the record does not exist. Any other
// error is a storage failure and must not be treated as absence.
var ErrNotFound = errors.New("record not found")

// VehicleFilter restricts ListVehicles. Zero fields match everything.
type VehicleFilter struct {
	Yard             string
	Status           model.Status
	NeedsMaintenance *bool
}

// Match reports whether v passes the filter.
func (f VehicleFilter) Match(v model.Vehicle) bool {
	if f.Yard != "" && v.Yard != f.Yard {
		return false
	}
	if f.Status != "" && v.Status != f.Status {
		return false
	}
	if f.NeedsMaintenance != nil && v.NeedsMaintenance != *f.NeedsMaintenance {
		return false
	}
	return true
}

// Tx is a unit of work. Reads observe the transaction's own writes.
type Tx interface {
	GetYard(ctx context.Context, name string) (model.Yard, error)
	SaveYard(ctx context.Context, y model.Yard) error
	DeleteYard(ctx context.Context, name string) error
	ListYards(ctx context.Context) ([]model.Yard, error)

	GetVehicle(ctx context.Context, plate string) (model.Vehicle, error)
	VehicleExists(ctx context.Context, plate string) (bool, error)
	SaveVehicle(ctx context.Context, v model.Vehicle) error
	DeleteVehicle(ctx context.Context, plate string) error
	ListVehicles(ctx context.Context, f VehicleFilter) ([]model.Vehicle, error)

	GetStaff(ctx context.Context, username string) (model.Staff, error)
	SaveStaff(ctx context.Context, s model.Staff) error
	CountStaff(ctx context.Context, yard string) (int, error)

	GetClient(ctx context.Context, username string) (model.Client, error)
	ClientByVehicle(ctx context.Context, plate string) (model.Client, error)
	SaveClient(ctx context.Context, c model.Client) error
}

// Store runs units of work.
type Store interface {
	// Atomic runs fn in a transaction. Writes are committed only when fn
	// returns nil and ctx is still live; otherwise none of them persist.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
