package events

import (
	"time"

	"github.com/kilianp07/yardfleet/core/model"
	"github.com/kilianp07/yardfleet/core/risk"
)

// VehicleOp names a coordinator operation.
type VehicleOp string

const (
	OpCreate VehicleOp = "create"
	OpUpdate VehicleOp = "update"
	OpDelete VehicleOp = "delete"
	OpScore  VehicleOp = "score"
)

// OutcomeOK marks a successful operation. Failed operations carry the error
// reason instead.
const OutcomeOK = "ok"

// VehicleEvent is published once per coordinator operation on a vehicle.
type VehicleEvent struct {
	ID           string
	Op           VehicleOp
	Plate        string
	Yard         string
	PreviousYard string
	Status       model.Status
	Outcome      string
	// Assessment is set when the operation scored the vehicle.
	Assessment *risk.Assessment
	Time       time.Time
}

// Succeeded reports whether the operation committed.
func (e VehicleEvent) Succeeded() bool { return e.Outcome == OutcomeOK }

// OccupancyEvent is published after a yard's counters changed.
type OccupancyEvent struct {
	Occupancy model.Occupancy
	// Removed is set when the yard no longer exists.
	Removed bool
	Time    time.Time
}
