package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordSink struct {
	ops, occupancy, assessments int
	err                         error
}

func (r *recordSink) RecordVehicleOp(VehicleOpEvent) error {
	r.ops++
	return r.err
}

func (r *recordSink) RecordOccupancy(OccupancyEvent) error {
	r.occupancy++
	return r.err
}

func (r *recordSink) RecordAssessment(AssessmentEvent) error {
	r.assessments++
	return r.err
}

// opsOnly implements none of the optional recorders.
type opsOnly struct{ ops int }

func (o *opsOnly) RecordVehicleOp(VehicleOpEvent) error {
	o.ops++
	return nil
}

// TestMultiSink ensures events are forwarded to all sinks.
func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &opsOnly{}
	m := NewMultiSink(s1, s2)
	assert.NoError(t, m.RecordVehicleOp(VehicleOpEvent{Op: "create"}))
	assert.NoError(t, m.RecordOccupancy(OccupancyEvent{}))
	assert.NoError(t, m.RecordAssessment(AssessmentEvent{}))

	assert.Equal(t, 1, s1.ops)
	assert.Equal(t, 1, s1.occupancy)
	assert.Equal(t, 1, s1.assessments)
	assert.Equal(t, 1, s2.ops)
}

func TestMultiSinkStopsOnFirstError(t *testing.T) {
	boom := errors.New("boom")
	s1 := &recordSink{err: boom}
	s2 := &recordSink{}
	m := NewMultiSink(s1, s2)
	assert.ErrorIs(t, m.RecordVehicleOp(VehicleOpEvent{}), boom)
	assert.Equal(t, 0, s2.ops)
}

type closingSink struct {
	opsOnly
	closed bool
}

func (c *closingSink) Close() { c.closed = true }

func TestMultiSinkCloseReachesClosers(t *testing.T) {
	c := &closingSink{}
	NewMultiSink(&opsOnly{}, c).Close()
	assert.True(t, c.closed)
}
