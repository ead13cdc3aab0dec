package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/yardfleet/core/events"
	"github.com/kilianp07/yardfleet/core/model"
	"github.com/kilianp07/yardfleet/core/risk"
	"github.com/kilianp07/yardfleet/internal/eventbus"
)

type recordingPublisher struct {
	mu        sync.Mutex
	alerts    []Alert
	occupancy []model.Occupancy
	removed   []bool
}

func (r *recordingPublisher) PublishAlert(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingPublisher) PublishOccupancy(_ context.Context, o model.Occupancy, removed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.occupancy = append(r.occupancy, o)
	r.removed = append(r.removed, removed)
	return nil
}

func (r *recordingPublisher) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts), len(r.occupancy)
}

func TestAlertForwarder(t *testing.T) {
	bus := eventbus.New()
	pub := &recordingPublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	done := StartAlertForwarder(ctx, bus, pub, nil)

	flagged := &risk.Assessment{Plate: "ABC-1234", NeedsMaintenance: true, Probability: 0.85, Urgency: risk.UrgencyHigh, Source: risk.SourceRules}
	healthy := &risk.Assessment{Plate: "DEF-5678", Probability: 0.1, Urgency: risk.UrgencyNone}
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	bus.Publish(events.VehicleEvent{ID: "ev-1", Op: events.OpScore, Plate: "ABC-1234", Yard: "North", Outcome: events.OutcomeOK, Assessment: flagged, Time: at})
	bus.Publish(events.VehicleEvent{Op: events.OpCreate, Plate: "DEF-5678", Outcome: events.OutcomeOK, Assessment: healthy})
	bus.Publish(events.VehicleEvent{Op: events.OpCreate, Plate: "GHI-0001", Outcome: "no_slot_available", Assessment: flagged})
	bus.Publish(events.VehicleEvent{Op: events.OpDelete, Plate: "ABC-1234", Outcome: events.OutcomeOK, Assessment: flagged})
	bus.Publish(events.OccupancyEvent{Occupancy: model.Occupancy{Yard: "North", Total: 2, Occupied: 1}, Time: at})
	bus.Publish(events.OccupancyEvent{Occupancy: model.Occupancy{Yard: "South"}, Removed: true, Time: at})

	assert.Eventually(t, func() bool {
		_, occ := pub.counts()
		return occ == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.alerts, 1)
	a := pub.alerts[0]
	assert.Equal(t, "ev-1", a.ID)
	assert.Equal(t, "ABC-1234", a.Plate)
	assert.Equal(t, "North", a.Yard)
	assert.Equal(t, risk.UrgencyHigh, a.Urgency)
	assert.Equal(t, at.UnixMilli(), a.Timestamp)
	assert.Equal(t, []bool{false, true}, pub.removed)
}

func TestAlertForwarderStopsWhenBusCloses(t *testing.T) {
	bus := eventbus.New()
	done := StartAlertForwarder(context.Background(), bus, &recordingPublisher{}, nil)
	bus.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarder did not stop")
	}
}

func TestAlertForwarderNilDependencies(t *testing.T) {
	done := StartAlertForwarder(context.Background(), nil, &recordingPublisher{}, nil)
	_, open := <-done
	assert.False(t, open)
}
