package scenarios

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/yardfleet/core/fleet"
	"github.com/kilianp07/yardfleet/core/model"
	"github.com/kilianp07/yardfleet/core/risk"
	"github.com/kilianp07/yardfleet/core/store"
	"github.com/kilianp07/yardfleet/infra/metrics"
	infrastore "github.com/kilianp07/yardfleet/infra/store"
	"github.com/kilianp07/yardfleet/internal/eventbus"
)

const opsMetric = "fleet_vehicle_operations_total"

// StepResult is what a single step produced.
type StepResult struct {
	Op      string
	Plate   string
	Outcome string
	Urgency risk.Urgency
}

// Report is the observable state after a scenario has been played.
type Report struct {
	Steps            []StepResult
	Occupancy        map[string]int
	NeedsMaintenance []string
	Operations       map[string]int
	Dropped          uint64
}

// Play runs sc against a fresh in-memory coordinator using the rules scorer,
// so results do not depend on model training.
func Play(ctx context.Context, sc *Scenario) (*Report, error) {
	now, err := sc.Clock()
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(reg)
	if err != nil {
		return nil, fmt.Errorf("prom sink: %w", err)
	}

	bus := eventbus.NewWithBuffer(1024)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := metrics.StartEventCollector(runCtx, bus, sink, nil)

	c := fleet.New(infrastore.NewMemoryStore(), risk.NewHybridWithPredictor(nil, nil),
		fleet.WithClock(func() time.Time { return now }),
		fleet.WithEventBus(bus),
	)
	if err := setup(ctx, c, sc); err != nil {
		bus.Close()
		return nil, err
	}

	rep := &Report{}
	for i, st := range sc.Steps {
		res, err := runStep(ctx, c, st)
		if err != nil {
			bus.Close()
			return nil, fmt.Errorf("step %d (%s): %w", i+1, st.Op, err)
		}
		rep.Steps = append(rep.Steps, res)
	}

	if err := snapshot(ctx, c, rep); err != nil {
		bus.Close()
		return nil, err
	}
	bus.Close()
	<-done
	rep.Dropped = bus.Dropped()

	ops, err := gatherOperations(reg)
	if err != nil {
		return nil, err
	}
	rep.Operations = ops
	return rep, nil
}

func setup(ctx context.Context, c *fleet.Coordinator, sc *Scenario) error {
	for _, y := range sc.Yards {
		if _, err := c.ProvisionYard(ctx, y.ToSpec()); err != nil {
			return fmt.Errorf("yard %s: %w", y.Name, err)
		}
	}
	for _, s := range sc.Staff {
		if _, err := c.RegisterStaff(ctx, s.ToModel()); err != nil {
			return fmt.Errorf("staff %s: %w", s.Username, err)
		}
	}
	for _, cl := range sc.Clients {
		if _, err := c.RegisterClient(ctx, cl.ToModel()); err != nil {
			return fmt.Errorf("client %s: %w", cl.Username, err)
		}
	}
	return nil
}

// runStep returns an error only for malformed steps; coordinator failures
// are reported through the outcome.
func runStep(ctx context.Context, c *fleet.Coordinator, st Step) (StepResult, error) {
	res := StepResult{Op: st.Op, Plate: model.NormalizePlate(st.Plate)}
	var err error
	switch st.Op {
	case OpCreate:
		spec, serr := st.Overlay(model.VehicleSpec{})
		if serr != nil {
			return res, serr
		}
		_, err = c.CreateVehicle(ctx, spec)
	case OpUpdate:
		base := model.VehicleSpec{}
		if cur, gerr := c.GetVehicle(ctx, st.Plate); gerr == nil {
			base = model.VehicleSpec{
				Model: cur.Model, Status: cur.Status, Sector: cur.Sector,
				Yard: cur.Yard, Staff: cur.Staff, Mileage: cur.Mileage,
			}
		}
		spec, serr := st.Overlay(base)
		if serr != nil {
			return res, serr
		}
		_, err = c.UpdateVehicle(ctx, st.Plate, spec)
	case OpDelete:
		err = c.DeleteVehicle(ctx, st.Plate)
	case OpScore:
		var a risk.Assessment
		a, err = c.ScoreVehicle(ctx, st.Plate)
		res.Urgency = a.Urgency
	case OpResize:
		_, err = c.ResizeYard(ctx, yardOf(st), st.Slots)
	case OpRemoveYard:
		err = c.RemoveYard(ctx, yardOf(st))
	case OpLink:
		_, err = c.LinkClient(ctx, st.Client, st.Plate)
	default:
		return res, fmt.Errorf("unknown op %q", st.Op)
	}
	res.Outcome = fleet.Outcome(err)
	return res, nil
}

func yardOf(st Step) string {
	if st.Yard == nil {
		return ""
	}
	return *st.Yard
}

func snapshot(ctx context.Context, c *fleet.Coordinator, rep *Report) error {
	occ, err := c.YardOccupancy(ctx)
	if err != nil {
		return err
	}
	rep.Occupancy = make(map[string]int, len(occ))
	for _, o := range occ {
		rep.Occupancy[o.Yard] = o.Occupied
	}
	needs := true
	flagged, err := c.ListVehicles(ctx, store.VehicleFilter{NeedsMaintenance: &needs})
	if err != nil {
		return err
	}
	for _, v := range flagged {
		rep.NeedsMaintenance = append(rep.NeedsMaintenance, v.Plate)
	}
	sort.Strings(rep.NeedsMaintenance)
	return nil
}

func gatherOperations(g prometheus.Gatherer) (map[string]int, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}
	out := map[string]int{}
	for _, mf := range families {
		if mf.GetName() != opsMetric {
			continue
		}
		for _, m := range mf.GetMetric() {
			var op, outcome string
			for _, l := range m.GetLabel() {
				switch l.GetName() {
				case "op":
					op = l.GetValue()
				case "outcome":
					outcome = l.GetValue()
				}
			}
			out[op+"/"+outcome] = int(m.GetCounter().GetValue())
		}
	}
	return out, nil
}

// RunScenario plays sc and fails t on every mismatch with its expectations.
func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	rep, err := Play(context.Background(), sc)
	if err != nil {
		t.Fatalf("scenario %s: %v", sc.Name, err)
	}
	for i, st := range sc.Steps {
		got := rep.Steps[i]
		if got.Outcome != st.expected() {
			t.Errorf("step %d %s %s: expected %s, got %s", i+1, st.Op, got.Plate, st.expected(), got.Outcome)
		}
		if st.Urgency != "" && string(got.Urgency) != st.Urgency {
			t.Errorf("step %d %s %s: expected urgency %s, got %s", i+1, st.Op, got.Plate, st.Urgency, got.Urgency)
		}
	}
	for yard, want := range sc.Expected.Occupancy {
		if got, ok := rep.Occupancy[yard]; !ok || got != want {
			t.Errorf("yard %s: expected %d occupied, got %d (present=%v)", yard, want, got, ok)
		}
	}
	want := append([]string(nil), sc.Expected.NeedsMaintenance...)
	sort.Strings(want)
	if fmt.Sprint(want) != fmt.Sprint(rep.NeedsMaintenance) {
		t.Errorf("needs maintenance: expected %v, got %v", want, rep.NeedsMaintenance)
	}
	if rep.Dropped > 0 {
		t.Errorf("%d events dropped", rep.Dropped)
	}
	for key, want := range sc.Expected.Operations {
		if got := rep.Operations[key]; got != want {
			t.Errorf("operations %s: expected %d, got %d", key, want, got)
		}
	}
}
