package metrics

import (
	"time"

	"github.com/kilianp07/yardfleet/core/model"
	"github.com/kilianp07/yardfleet/core/risk"
)

// VehicleOpEvent is one coordinator operation on a vehicle.
type VehicleOpEvent struct {
	Op      string
	Plate   string
	Yard    string
	Outcome string
	Time    time.Time
}

// MetricsSink records fleet activity for observability purposes.
type MetricsSink interface {
	RecordVehicleOp(ev VehicleOpEvent) error
}

// OccupancyEvent is a yard's counters at a point in time.
type OccupancyEvent struct {
	Occupancy model.Occupancy
	// Removed is set when the yard no longer exists.
	Removed bool
	Time    time.Time
}

// OccupancyRecorder records yard occupancy snapshots.
type OccupancyRecorder interface {
	RecordOccupancy(ev OccupancyEvent) error
}

// AssessmentEvent is a risk assessment produced for a vehicle.
type AssessmentEvent struct {
	Assessment risk.Assessment
	Yard       string
	Time       time.Time
}

// AssessmentRecorder records maintenance risk assessments.
type AssessmentRecorder interface {
	RecordAssessment(ev AssessmentEvent) error
}

// Closer is implemented by sinks holding connections.
type Closer interface {
	Close()
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordVehicleOp(VehicleOpEvent) error   { return nil }
func (NopSink) RecordOccupancy(OccupancyEvent) error   { return nil }
func (NopSink) RecordAssessment(AssessmentEvent) error { return nil }
