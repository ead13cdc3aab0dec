package metrics

import (
	"context"

	"github.com/kilianp07/yardfleet/core/events"
	"github.com/kilianp07/yardfleet/core/logger"
	coremetrics "github.com/kilianp07/yardfleet/core/metrics"
	"github.com/kilianp07/yardfleet/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records metrics for events.
// It stops when the context is canceled or the bus is closed. The returned
// channel is closed once the collector has exited.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink, log logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || sink == nil {
		close(done)
		return done
	}
	if log == nil {
		log = logger.Nop{}
	}
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if err := record(sink, ev); err != nil {
					log.Warnf("metrics record failed: %v", err)
				}
			}
		}
	}()
	return done
}

func record(sink coremetrics.MetricsSink, ev eventbus.Event) error {
	switch e := ev.(type) {
	case events.VehicleEvent:
		if err := sink.RecordVehicleOp(coremetrics.VehicleOpEvent{
			Op:      string(e.Op),
			Plate:   e.Plate,
			Yard:    e.Yard,
			Outcome: e.Outcome,
			Time:    e.Time,
		}); err != nil {
			return err
		}
		if e.Assessment != nil {
			if r, ok := sink.(coremetrics.AssessmentRecorder); ok {
				return r.RecordAssessment(coremetrics.AssessmentEvent{Assessment: *e.Assessment, Yard: e.Yard, Time: e.Time})
			}
		}
	case events.OccupancyEvent:
		if r, ok := sink.(coremetrics.OccupancyRecorder); ok {
			return r.RecordOccupancy(coremetrics.OccupancyEvent{Occupancy: e.Occupancy, Removed: e.Removed, Time: e.Time})
		}
	}
	return nil
}
