package fleet

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/yardfleet/core/events"
	"github.com/kilianp07/yardfleet/core/model"
	"github.com/kilianp07/yardfleet/core/monitoring"
	"github.com/kilianp07/yardfleet/core/risk"
	"github.com/kilianp07/yardfleet/core/store"
	infrastore "github.com/kilianp07/yardfleet/infra/store"
	"github.com/kilianp07/yardfleet/internal/eventbus"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestCoordinator(t *testing.T, st store.Store, opts ...Option) *Coordinator {
	t.Helper()
	if st == nil {
		st = infrastore.NewMemoryStore()
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(st, risk.NewHybridWithPredictor(nil, nil), opts...)
}

func sqliteStore(t *testing.T) store.Store {
	t.Helper()
	st, err := infrastore.NewSQLiteStore(filepath.Join(t.TempDir(), "fleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// provision creates a yard with one staff member named after it.
func provision(t *testing.T, c *Coordinator, name string, total int) string {
	t.Helper()
	ctx := context.Background()
	_, err := c.ProvisionYard(ctx, YardSpec{Name: name, Location: "Av Paulista 1000", TotalSlots: total})
	require.NoError(t, err)
	username := "staff-" + name
	_, err = c.RegisterStaff(ctx, model.Staff{Username: username, Name: "Staff " + name, Yard: name})
	require.NoError(t, err)
	return username
}

// vehicleSpec describes a healthy vehicle serviced ten days before fixedNow.
func vehicleSpec(plate, yard string, status model.Status) model.VehicleSpec {
	served := fixedNow.AddDate(0, 0, -10)
	return model.VehicleSpec{
		Plate:           plate,
		Model:           model.ModelSport,
		Status:          status,
		Sector:          model.SectorGood,
		Yard:            yard,
		Staff:           "staff-" + yard,
		Mileage:         1000,
		LastServiceDate: &served,
	}
}

func occupied(t *testing.T, c *Coordinator, yard string) int {
	t.Helper()
	occ, err := c.YardOccupancy(context.Background())
	require.NoError(t, err)
	for _, o := range occ {
		if o.Yard == yard {
			return o.Occupied
		}
	}
	t.Fatalf("yard %s not found", yard)
	return 0
}

func TestCreateVehicleSecondCreateOnFullYardConflicts(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	provision(t, c, "North", 1)

	v, err := c.CreateVehicle(ctx, vehicleSpec("AAA-0001", "North", model.StatusAvailable))
	require.NoError(t, err)
	assert.Equal(t, "AAA-0001", v.Plate)
	assert.Equal(t, 1, occupied(t, c, "North"))

	_, err = c.CreateVehicle(ctx, vehicleSpec("AAA-0002", "North", model.StatusAvailable))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSlotAvailable)
	assert.True(t, IsConflict(err))
	assert.Equal(t, 1, occupied(t, c, "North"))

	_, err = c.GetVehicle(ctx, "AAA-0002")
	assert.ErrorIs(t, err, ErrVehicleNotFound)
}

func TestCreateRentedVehicleHoldsNoSlot(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	provision(t, c, "North", 1)

	_, err := c.CreateVehicle(ctx, vehicleSpec("AAA-0001", "North", model.StatusAvailable))
	require.NoError(t, err)
	_, err = c.CreateVehicle(ctx, vehicleSpec("AAA-0002", "North", model.StatusRented))
	require.NoError(t, err)
	assert.Equal(t, 1, occupied(t, c, "North"))
}

func TestCreateVehiclePreconditions(t *testing.T) {
	ctx := context.Background()
	st := infrastore.NewMemoryStore()
	c := newTestCoordinator(t, st)
	provision(t, c, "North", 5)
	provision(t, c, "South", 5)
	_, err := c.CreateVehicle(ctx, vehicleSpec("AAA-0001", "North", model.StatusAvailable))
	require.NoError(t, err)

	// a staff member pointing at a yard that does not exist
	require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
		return tx.SaveStaff(ctx, model.Staff{Username: "staff-Ghost", Name: "Ghost", Yard: "Ghost", Role: model.RoleStaff})
	}))

	cases := []struct {
		name string
		spec model.VehicleSpec
		want error
	}{
		{"malformed plate", vehicleSpec("AB-12", "North", model.StatusAvailable), ErrMalformedPlate},
		{"duplicate plate", vehicleSpec("aaa-0001", "North", model.StatusAvailable), ErrDuplicatePlate},
		{"unknown staff", func() model.VehicleSpec {
			s := vehicleSpec("AAA-0002", "North", model.StatusAvailable)
			s.Staff = "nobody"
			return s
		}(), ErrStaffNotFound},
		{"staff of another yard", func() model.VehicleSpec {
			s := vehicleSpec("AAA-0002", "North", model.StatusAvailable)
			s.Staff = "staff-South"
			return s
		}(), ErrStaffNotInYard},
		{"unknown yard", vehicleSpec("AAA-0002", "Ghost", model.StatusAvailable), ErrYardNotFound},
		{"mileage out of range", func() model.VehicleSpec {
			s := vehicleSpec("AAA-0002", "North", model.StatusAvailable)
			s.Mileage = -1
			return s
		}(), ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.CreateVehicle(ctx, tc.spec)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, 1, occupied(t, c, "North"))
}

func TestCreateVehicleDerivesRiskAndServiceCount(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	provision(t, c, "North", 5)

	spec := vehicleSpec("AAA-0001", "North", model.StatusAvailable)
	spec.Mileage = 20000
	spec.Sector = model.SectorBad
	spec.LastServiceDate = nil
	v, err := c.CreateVehicle(ctx, spec)
	require.NoError(t, err)
	assert.True(t, v.NeedsMaintenance)
	assert.Equal(t, 1.0, v.MaintenanceProbability)
	assert.Equal(t, 0, v.ServiceCount)

	v, err = c.CreateVehicle(ctx, vehicleSpec("AAA-0002", "North", model.StatusAvailable))
	require.NoError(t, err)
	assert.False(t, v.NeedsMaintenance)
	assert.Equal(t, 1, v.ServiceCount)
}

func TestUpdateVehicleSlotTransitions(t *testing.T) {
	cases := []struct {
		name             string
		from, to         model.Status
		toYard           string
		wantNorth, wantS int
	}{
		{"same yard occupied to occupied", model.StatusAvailable, model.StatusMaintenance, "North", 1, 0},
		{"same yard occupied to free", model.StatusAvailable, model.StatusRented, "North", 0, 0},
		{"same yard free to occupied", model.StatusRented, model.StatusAvailable, "North", 1, 0},
		{"same yard free to free", model.StatusRented, model.StatusRented, "North", 0, 0},
		{"transfer occupied to occupied", model.StatusAvailable, model.StatusAvailable, "South", 0, 1},
		{"transfer occupied to free", model.StatusMaintenance, model.StatusRented, "South", 0, 0},
		{"transfer free to occupied", model.StatusRented, model.StatusMaintenance, "South", 0, 1},
		{"transfer free to free", model.StatusRented, model.StatusRented, "South", 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			c := newTestCoordinator(t, nil)
			provision(t, c, "North", 2)
			provision(t, c, "South", 1)
			_, err := c.CreateVehicle(ctx, vehicleSpec("AAA-0001", "North", tc.from))
			require.NoError(t, err)

			v, err := c.UpdateVehicle(ctx, "AAA-0001", vehicleSpec("", tc.toYard, tc.to))
			require.NoError(t, err)
			assert.Equal(t, tc.to, v.Status)
			assert.Equal(t, tc.toYard, v.Yard)
			assert.Equal(t, tc.wantNorth, occupied(t, c, "North"))
			assert.Equal(t, tc.wantS, occupied(t, c, "South"))
		})
	}
}

func TestUpdateVehicleSameYardAcquireOnFullYard(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	provision(t, c, "North", 1)
	_, err := c.CreateVehicle(ctx, vehicleSpec("AAA-0001", "North", model.StatusAvailable))
	require.NoError(t, err)
	_, err = c.CreateVehicle(ctx, vehicleSpec("AAA-0002", "North", model.StatusRented))
	require.NoError(t, err)

	_, err = c.UpdateVehicle(ctx, "AAA-0002", vehicleSpec("", "North", model.StatusAvailable))
	assert.ErrorIs(t, err, ErrNoSlotAvailable)

	v, err := c.GetVehicle(ctx, "AAA-0002")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRented, v.Status)
	assert.Equal(t, 1, occupied(t, c, "North"))
}

func TestUpdateVehicleTransferIntoFullYardKeepsSourceSlot(t *testing.T) {
	for name, st := range map[string]store.Store{"memory": infrastore.NewMemoryStore(), "sqlite": sqliteStore(t)} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := newTestCoordinator(t, st)
			provision(t, c, "Yard X", 1)
			provision(t, c, "Yard Z", 1)
			_, err := c.CreateVehicle(ctx, vehicleSpec("VVV-0001", "Yard X", model.StatusAvailable))
			require.NoError(t, err)
			_, err = c.CreateVehicle(ctx, vehicleSpec("ZZZ-0001", "Yard Z", model.StatusAvailable))
			require.NoError(t, err)

			_, err = c.UpdateVehicle(ctx, "VVV-0001", vehicleSpec("", "Yard Z", model.StatusAvailable))
			assert.ErrorIs(t, err, ErrNoSlotAvailable)

			assert.Equal(t, 1, occupied(t, c, "Yard X"))
			assert.Equal(t, 1, occupied(t, c, "Yard Z"))
			v, err := c.GetVehicle(ctx, "VVV-0001")
			require.NoError(t, err)
			assert.Equal(t, "Yard X", v.Yard)
		})
	}
}

func TestUpdateVehicleValidation(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	provision(t, c, "North", 2)
	provision(t, c, "South", 2)
	_, err := c.CreateVehicle(ctx, vehicleSpec("AAA-0001", "North", model.StatusAvailable))
	require.NoError(t, err)

	_, err = c.UpdateVehicle(ctx, "ZZZ-9999", vehicleSpec("", "North", model.StatusAvailable))
	assert.ErrorIs(t, err, ErrVehicleNotFound)

	_, err = c.UpdateVehicle(ctx, "AAA-0001", vehicleSpec("BBB-0001", "North", model.StatusAvailable))
	assert.ErrorIs(t, err, ErrInvalidInput)

	// moving to South with North's staff
	spec := vehicleSpec("", "South", model.StatusAvailable)
	spec.Staff = "staff-North"
	_, err = c.UpdateVehicle(ctx, "AAA-0001", spec)
	assert.ErrorIs(t, err, ErrStaffNotInYard)

	_, err = c.UpdateVehicle(ctx, "AAA-0001", vehicleSpec("", "Nowhere", model.StatusAvailable))
	assert.ErrorIs(t, err, ErrStaffNotFound)
	assert.Equal(t, 1, occupied(t, c, "North"))
}

func TestUpdateVehicleBumpsServiceCountOnNewDate(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	provision(t, c, "North", 2)
	first := fixedNow.AddDate(0, -2, 0)
	spec := vehicleSpec("AAA-0001", "North", model.StatusAvailable)
	spec.LastServiceDate = &first
	_, err := c.CreateVehicle(ctx, spec)
	require.NoError(t, err)

	same := first
	spec.LastServiceDate = &same
	v, err := c.UpdateVehicle(ctx, "AAA-0001", spec)
	require.NoError(t, err)
	assert.Equal(t, 1, v.ServiceCount)

	second := fixedNow.AddDate(0, 0, -1)
	spec.LastServiceDate = &second
	v, err = c.UpdateVehicle(ctx, "AAA-0001", spec)
	require.NoError(t, err)
	assert.Equal(t, 2, v.ServiceCount)

	spec.LastServiceDate = nil
	v, err = c.UpdateVehicle(ctx, "AAA-0001", spec)
	require.NoError(t, err)
	assert.Equal(t, 2, v.ServiceCount)
	require.NotNil(t, v.LastServiceDate)
	assert.True(t, second.Equal(*v.LastServiceDate))

	// enum fields are replaced, falling back to their defaults
	spec.Model = ""
	v, err = c.UpdateVehicle(ctx, "AAA-0001", spec)
	require.NoError(t, err)
	assert.Equal(t, model.ModelPop, v.Model)
	require.NotNil(t, v.LastServiceDate)
}

func TestUpdateVehicleRescoresRisk(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	provision(t, c, "North", 2)
	v, err := c.CreateVehicle(ctx, vehicleSpec("AAA-0001", "North", model.StatusAvailable))
	require.NoError(t, err)
	assert.False(t, v.NeedsMaintenance)

	spec := vehicleSpec("", "North", model.StatusAvailable)
	spec.Mileage = 16000
	v, err = c.UpdateVehicle(ctx, "AAA-0001", spec)
	require.NoError(t, err)
	assert.True(t, v.NeedsMaintenance)
	assert.InDelta(t, 0.40, v.MaintenanceProbability, 1e-9)
	assert.Equal(t, 1, v.ServiceCount)
}

func TestDeleteVehicle(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	provision(t, c, "North", 2)
	_, err := c.CreateVehicle(ctx, vehicleSpec("AAA-0001", "North", model.StatusMaintenance))
	require.NoError(t, err)
	_, err = c.CreateVehicle(ctx, vehicleSpec("AAA-0002", "North", model.StatusRented))
	require.NoError(t, err)
	_, err = c.RegisterClient(ctx, model.Client{Username: "joao", Name: "Joao", VehiclePlate: "AAA-0001"})
	require.NoError(t, err)
	assert.Equal(t, 1, occupied(t, c, "North"))

	require.NoError(t, c.DeleteVehicle(ctx, "AAA-0002"))
	assert.Equal(t, 1, occupied(t, c, "North"))

	require.NoError(t, c.DeleteVehicle(ctx, "AAA-0001"))
	assert.Equal(t, 0, occupied(t, c, "North"))

	// the client survives, unlinked, and can take another vehicle
	_, err = c.CreateVehicle(ctx, vehicleSpec("AAA-0003", "North", model.StatusAvailable))
	require.NoError(t, err)
	cl, err := c.LinkClient(ctx, "joao", "AAA-0003")
	require.NoError(t, err)
	assert.Equal(t, "AAA-0003", cl.VehiclePlate)

	assert.ErrorIs(t, c.DeleteVehicle(ctx, "AAA-0001"), ErrVehicleNotFound)
}

func TestScoreVehiclePersistsAssessment(t *testing.T) {
	ctx := context.Background()
	st := infrastore.NewMemoryStore()
	c := newTestCoordinator(t, st)
	provision(t, c, "North", 2)
	_, err := c.CreateVehicle(ctx, vehicleSpec("AAA-0001", "North", model.StatusAvailable))
	require.NoError(t, err)

	// change the stored vehicle behind the coordinator's back
	require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
		v, err := tx.GetVehicle(ctx, "AAA-0001")
		if err != nil {
			return err
		}
		v.Mileage = 20000
		v.Sector = model.SectorBad
		v.LastServiceDate = nil
		v.ServiceCount = 0
		return tx.SaveVehicle(ctx, v)
	}))

	a, err := c.ScoreVehicle(ctx, "aaa-0001")
	require.NoError(t, err)
	assert.Equal(t, "AAA-0001", a.Plate)
	assert.True(t, a.NeedsMaintenance)
	assert.Equal(t, risk.UrgencyHigh, a.Urgency)
	assert.Contains(t, a.Factors, risk.FactorHighMileage)
	assert.Contains(t, a.Factors, risk.FactorPoorSector)

	v, err := c.GetVehicle(ctx, "AAA-0001")
	require.NoError(t, err)
	assert.True(t, v.NeedsMaintenance)
	assert.Equal(t, a.Probability, v.MaintenanceProbability)

	_, err = c.ScoreVehicle(ctx, "ZZZ-0000")
	assert.ErrorIs(t, err, ErrVehicleNotFound)
}

func TestListVehiclesFilters(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	provision(t, c, "North", 5)
	provision(t, c, "South", 5)
	heavy := vehicleSpec("AAA-0001", "North", model.StatusAvailable)
	heavy.Mileage = 30000
	_, err := c.CreateVehicle(ctx, heavy)
	require.NoError(t, err)
	_, err = c.CreateVehicle(ctx, vehicleSpec("AAA-0002", "North", model.StatusRented))
	require.NoError(t, err)
	_, err = c.CreateVehicle(ctx, vehicleSpec("AAA-0003", "South", model.StatusAvailable))
	require.NoError(t, err)

	all, err := c.ListVehicles(ctx, store.VehicleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	north, err := c.ListVehicles(ctx, store.VehicleFilter{Yard: "North"})
	require.NoError(t, err)
	assert.Len(t, north, 2)

	needs := true
	flagged, err := c.ListVehicles(ctx, store.VehicleFilter{NeedsMaintenance: &needs})
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "AAA-0001", flagged[0].Plate)
}

func TestConcurrentCreatesNeverOvershootCapacity(t *testing.T) {
	const (
		attempts = 20
		free     = 5
	)
	for name, st := range map[string]store.Store{"memory": infrastore.NewMemoryStore(), "sqlite": sqliteStore(t)} {
		t.Run(name, func(t *testing.T) {
			c := newTestCoordinator(t, st)
			provision(t, c, "North", free)

			var ok, full atomic.Int32
			var g errgroup.Group
			for i := 0; i < attempts; i++ {
				plate := fmt.Sprintf("CON-%04d", i)
				g.Go(func() error {
					_, err := c.CreateVehicle(context.Background(), vehicleSpec(plate, "North", model.StatusAvailable))
					switch {
					case err == nil:
						ok.Add(1)
					case errors.Is(err, ErrNoSlotAvailable):
						full.Add(1)
					default:
						return err
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())
			assert.Equal(t, int32(free), ok.Load())
			assert.Equal(t, int32(attempts-free), full.Load())
			assert.Equal(t, free, occupied(t, c, "North"))
		})
	}
}

func TestConcurrentTransfersKeepTotalsConsistent(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	provision(t, c, "North", 4)
	provision(t, c, "South", 4)
	for i := 0; i < 4; i++ {
		_, err := c.CreateVehicle(ctx, vehicleSpec(fmt.Sprintf("NOR-%04d", i), "North", model.StatusAvailable))
		require.NoError(t, err)
		_, err = c.CreateVehicle(ctx, vehicleSpec(fmt.Sprintf("SOU-%04d", i), "South", model.StatusRented))
		require.NoError(t, err)
	}

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		north, south := fmt.Sprintf("NOR-%04d", i), fmt.Sprintf("SOU-%04d", i)
		g.Go(func() error {
			_, err := c.UpdateVehicle(ctx, north, vehicleSpec("", "South", model.StatusAvailable))
			return err
		})
		g.Go(func() error {
			_, err := c.UpdateVehicle(ctx, south, vehicleSpec("", "North", model.StatusRented))
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, occupied(t, c, "North"))
	assert.Equal(t, 4, occupied(t, c, "South"))
}

func TestCancelledContextLeavesNoSlotMutation(t *testing.T) {
	c := newTestCoordinator(t, nil)
	provision(t, c, "North", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.CreateVehicle(ctx, vehicleSpec("AAA-0001", "North", model.StatusAvailable))
	require.Error(t, err)
	assert.True(t, IsInternal(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, occupied(t, c, "North"))
}

type faultyStore struct {
	store.Store
	err error
}

func (f faultyStore) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.Store.Atomic(ctx, func(tx store.Tx) error {
		return fn(faultyTx{Tx: tx, err: f.err})
	})
}

type faultyTx struct {
	store.Tx
	err error
}

func (f faultyTx) GetVehicle(context.Context, string) (model.Vehicle, error) {
	return model.Vehicle{}, f.err
}

func (f faultyTx) VehicleExists(context.Context, string) (bool, error) { return false, f.err }

type capturingMonitor struct {
	mu   sync.Mutex
	tags []map[string]string
}

func (m *capturingMonitor) CaptureException(_ error, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags = append(m.tags, tags)
}

func (m *capturingMonitor) Flush(time.Duration) {}

func TestStorageFailuresSurfaceAsInternal(t *testing.T) {
	ctx := context.Background()
	base := infrastore.NewMemoryStore()
	setup := newTestCoordinator(t, base)
	provision(t, setup, "North", 2)

	boom := errors.New("disk on fire")
	c := newTestCoordinator(t, faultyStore{Store: base, err: boom})
	mon := &capturingMonitor{}
	monitoring.Init(mon)
	t.Cleanup(func() { monitoring.Init(nil) })

	_, err := c.ScoreVehicle(ctx, "AAA-0001")
	require.Error(t, err)
	assert.True(t, IsInternal(err))
	assert.False(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, err, boom)
	require.Len(t, mon.tags, 1, "storage faults are reported")
	assert.Equal(t, map[string]string{"op": "score", "plate": "AAA-0001"}, mon.tags[0])

	_, err = c.CreateVehicle(ctx, vehicleSpec("AAA-0001", "North", model.StatusAvailable))
	assert.True(t, IsInternal(err))
	assert.Equal(t, 0, occupied(t, setup, "North"))

	assert.True(t, IsInternal(c.DeleteVehicle(ctx, "AAA-0001")))
}

func TestCoordinatorPublishesEvents(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	sub := bus.Subscribe()
	c := newTestCoordinator(t, nil, WithEventBus(bus))
	provision(t, c, "North", 1)
	<-sub // yard provisioned

	spec := vehicleSpec("AAA-0001", "North", model.StatusAvailable)
	spec.Mileage = 20000
	_, err := c.CreateVehicle(ctx, spec)
	require.NoError(t, err)

	occ, ok := (<-sub).(events.OccupancyEvent)
	require.True(t, ok)
	assert.Equal(t, "North", occ.Occupancy.Yard)
	assert.Equal(t, 1, occ.Occupancy.Occupied)

	ev, ok := (<-sub).(events.VehicleEvent)
	require.True(t, ok)
	assert.Equal(t, events.OpCreate, ev.Op)
	assert.True(t, ev.Succeeded())
	assert.NotEmpty(t, ev.ID)
	require.NotNil(t, ev.Assessment)
	assert.True(t, ev.Assessment.NeedsMaintenance)

	_, err = c.CreateVehicle(ctx, vehicleSpec("AAA-0002", "North", model.StatusAvailable))
	require.Error(t, err)
	ev, ok = (<-sub).(events.VehicleEvent)
	require.True(t, ok)
	assert.Equal(t, string(ReasonNoSlotAvailable), ev.Outcome)
	assert.Nil(t, ev.Assessment)
}

func TestAssessVehicleDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	st := infrastore.NewMemoryStore()
	bus := eventbus.New()
	c := newTestCoordinator(t, st, WithEventBus(bus))
	provision(t, c, "North", 2)
	_, err := c.CreateVehicle(ctx, vehicleSpec("AAA-0001", "North", model.StatusAvailable))
	require.NoError(t, err)

	require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
		v, err := tx.GetVehicle(ctx, "AAA-0001")
		if err != nil {
			return err
		}
		v.Mileage = 20000
		return tx.SaveVehicle(ctx, v)
	}))

	sub := bus.Subscribe()
	a, err := c.AssessVehicle(ctx, "AAA-0001")
	require.NoError(t, err)
	assert.True(t, a.NeedsMaintenance)
	assert.Equal(t, risk.SourceRules, a.Source)

	v, err := c.GetVehicle(ctx, "AAA-0001")
	require.NoError(t, err)
	assert.False(t, v.NeedsMaintenance, "stored flag is only refreshed by ScoreVehicle")
	assert.Empty(t, sub, "read-only assessment publishes nothing")

	_, err = c.AssessVehicle(ctx, "bad")
	assert.ErrorIs(t, err, ErrMalformedPlate)
	_, err = c.AssessVehicle(ctx, "ZZZ-0000")
	assert.ErrorIs(t, err, ErrVehicleNotFound)
}

// gatedBus holds the first armed occupancy snapshot until gate is closed and
// records the occupied count of every snapshot in publish order.
type gatedBus struct {
	eventbus.EventBus
	armed atomic.Bool
	held  chan struct{}
	gate  chan struct{}

	mu       sync.Mutex
	occupied []int
}

func (b *gatedBus) Publish(ev eventbus.Event) {
	if occ, ok := ev.(events.OccupancyEvent); ok {
		if b.armed.CompareAndSwap(true, false) {
			close(b.held)
			<-b.gate
		}
		b.mu.Lock()
		b.occupied = append(b.occupied, occ.Occupancy.Occupied)
		b.mu.Unlock()
	}
	b.EventBus.Publish(ev)
}

func (b *gatedBus) snapshots() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.occupied...)
}

func TestOccupancySnapshotsFollowCommitOrder(t *testing.T) {
	ctx := context.Background()
	bus := &gatedBus{EventBus: eventbus.New(), held: make(chan struct{}), gate: make(chan struct{})}
	c := newTestCoordinator(t, nil, WithEventBus(bus))
	provision(t, c, "North", 2)

	bus.armed.Store(true)
	first := make(chan error, 1)
	go func() {
		_, err := c.CreateVehicle(ctx, vehicleSpec("AAA-0001", "North", model.StatusAvailable))
		first <- err
	}()
	<-bus.held

	second := make(chan error, 1)
	go func() {
		_, err := c.CreateVehicle(ctx, vehicleSpec("AAA-0002", "North", model.StatusAvailable))
		second <- err
	}()
	select {
	case err := <-second:
		t.Fatalf("second create finished before the first snapshot was published: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(bus.gate)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	snaps := bus.snapshots()
	require.GreaterOrEqual(t, len(snaps), 2)
	assert.Equal(t, []int{1, 2}, snaps[len(snaps)-2:])
	assert.Equal(t, 2, occupied(t, c, "North"))
}
