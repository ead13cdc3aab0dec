package mqtt

import (
	"context"
	"time"

	"github.com/kilianp07/yardfleet/core/events"
	"github.com/kilianp07/yardfleet/core/logger"
	"github.com/kilianp07/yardfleet/core/model"
	"github.com/kilianp07/yardfleet/internal/eventbus"
)

// Publisher is the subset of AlertPublisher used by the forwarder.
type Publisher interface {
	PublishAlert(ctx context.Context, a Alert) error
	PublishOccupancy(ctx context.Context, o model.Occupancy, removed bool) error
}

// StartAlertForwarder relays bus events to pub until ctx is canceled or the
// bus closes: committed operations whose assessment flags the vehicle become
// alerts, occupancy changes are retained per yard. The returned channel is
// closed when the forwarder exits.
func StartAlertForwarder(ctx context.Context, bus eventbus.EventBus, pub Publisher, log logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || pub == nil {
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
				if err := forward(ctx, pub, ev); err != nil {
					log.Warnf("mqtt forward failed: %v", err)
				}
			}
		}
	}()
	return done
}

func forward(ctx context.Context, pub Publisher, ev eventbus.Event) error {
	switch e := ev.(type) {
	case events.VehicleEvent:
		if !e.Succeeded() || e.Op == events.OpDelete || e.Assessment == nil || !e.Assessment.NeedsMaintenance {
			return nil
		}
		a := e.Assessment
		return pub.PublishAlert(ctx, Alert{
			ID:             e.ID,
			Plate:          e.Plate,
			Yard:           e.Yard,
			Probability:    a.Probability,
			Urgency:        a.Urgency,
			Factors:        a.Factors,
			Recommendation: a.Recommendation,
			Source:         a.Source,
			Timestamp:      timestamp(e.Time),
		})
	case events.OccupancyEvent:
		return pub.PublishOccupancy(ctx, e.Occupancy, e.Removed)
	}
	return nil
}

func timestamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
