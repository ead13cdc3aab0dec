package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/yardfleet/core/events"
	"github.com/kilianp07/yardfleet/core/logger"
	"github.com/kilianp07/yardfleet/core/model"
	"github.com/kilianp07/yardfleet/core/monitoring"
	"github.com/kilianp07/yardfleet/core/risk"
	"github.com/kilianp07/yardfleet/core/slots"
	"github.com/kilianp07/yardfleet/core/store"
	"github.com/kilianp07/yardfleet/internal/eventbus"
)

// Coordinator orchestrates vehicle writes. Every mutation runs under the
// per-identity locks of a slots.Locker and inside one store transaction, so
// slot bookkeeping and the vehicle record commit together or not at all.
type Coordinator struct {
	store  store.Store
	scorer risk.Scorer
	locks  *slots.Locker
	bus    eventbus.EventBus
	log    logger.Logger
	now    func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithEventBus publishes operation events on bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Coordinator over st using scorer for risk assessments.
func New(st store.Store, scorer risk.Scorer, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  st,
		scorer: scorer,
		locks:  slots.NewLocker(),
		log:    logger.Nop{},
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// change collects what an operation touched, for publishing after commit.
type change struct {
	vehicle      model.Vehicle
	previousYard string
	assessment   *risk.Assessment
	yards        map[string]model.Yard
}

func (ch *change) touch(y model.Yard) {
	if ch.yards == nil {
		ch.yards = map[string]model.Yard{}
	}
	ch.yards[y.Name] = y
}

// CreateVehicle registers a new vehicle and acquires a slot in its yard when
// its status occupies one.
func (c *Coordinator) CreateVehicle(ctx context.Context, spec model.VehicleSpec) (model.Vehicle, error) {
	spec = spec.Normalize()
	var ch change
	err := c.createVehicle(ctx, spec, &ch)
	c.publish(events.OpCreate, spec.Plate, &ch, err)
	if err != nil {
		return model.Vehicle{}, err
	}
	c.log.Infow("vehicle created", map[string]any{"plate": ch.vehicle.Plate, "yard": ch.vehicle.Yard, "status": ch.vehicle.Status})
	return ch.vehicle, nil
}

func (c *Coordinator) createVehicle(ctx context.Context, spec model.VehicleSpec, ch *change) error {
	if !model.ValidPlate(spec.Plate) {
		return invalid(ReasonMalformedPlate, fmt.Sprintf("plate %q must match XXX-0000", spec.Plate))
	}
	if err := spec.Validate(); err != nil {
		return invalid(ReasonInvalidInput, err.Error())
	}
	defer c.locks.Lock(slots.VehicleKey(spec.Plate))()
	defer c.locks.Lock(slots.YardKey(spec.Yard))()

	now := c.now().UTC()
	return c.commit(ctx, "create vehicle", ch, func(tx store.Tx) error {
		exists, err := tx.VehicleExists(ctx, spec.Plate)
		if err != nil {
			return internal("check plate", err)
		}
		if exists {
			return conflict(ReasonDuplicatePlate, EntityVehicle, spec.Plate, "plate already registered")
		}
		if err := checkStaff(ctx, tx, spec.Staff, spec.Yard); err != nil {
			return err
		}
		y, err := tx.GetYard(ctx, spec.Yard)
		if err := lookup(err, EntityYard, spec.Yard); err != nil {
			return err
		}
		if spec.Status.OccupiesSlot() {
			if !slots.Acquire(&y) {
				return conflict(ReasonNoSlotAvailable, EntityYard, y.Name, "no slot available")
			}
			y.UpdatedAt = now
			if err := tx.SaveYard(ctx, y); err != nil {
				return internal("save yard", err)
			}
			ch.touch(y)
		}

		v := model.Vehicle{
			Plate:           spec.Plate,
			Model:           spec.Model,
			Status:          spec.Status,
			Sector:          spec.Sector,
			Yard:            spec.Yard,
			Staff:           spec.Staff,
			Mileage:         spec.Mileage,
			LastServiceDate: spec.LastServiceDate,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if v.LastServiceDate != nil {
			v.ServiceCount = 1
		}
		ch.assessment = c.assess(&v, now)
		if err := tx.SaveVehicle(ctx, v); err != nil {
			return internal("save vehicle", err)
		}
		ch.vehicle = v
		return nil
	})
}

// UpdateVehicle applies spec to the stored vehicle. Model, status, sector,
// yard, staff and mileage are replaced, with empty enum fields taking their
// defaults (mottu-pop, available, good). LastServiceDate is patched: nil
// keeps the stored date and a different date bumps ServiceCount. Slot moves
// follow the vehicle's yard and status transition; a cross-yard transfer
// that cannot acquire a slot in the target yard leaves both yards untouched.
func (c *Coordinator) UpdateVehicle(ctx context.Context, plate string, spec model.VehicleSpec) (model.Vehicle, error) {
	plate = model.NormalizePlate(plate)
	spec = spec.Normalize()
	var ch change
	err := c.updateVehicle(ctx, plate, spec, &ch)
	c.publish(events.OpUpdate, plate, &ch, err)
	if err != nil {
		return model.Vehicle{}, err
	}
	return ch.vehicle, nil
}

func (c *Coordinator) updateVehicle(ctx context.Context, plate string, spec model.VehicleSpec, ch *change) error {
	if !model.ValidPlate(plate) {
		return invalid(ReasonMalformedPlate, fmt.Sprintf("plate %q must match XXX-0000", plate))
	}
	if spec.Plate != "" && spec.Plate != plate {
		return invalid(ReasonInvalidInput, "plate cannot be changed")
	}
	spec.Plate = plate
	if err := spec.Validate(); err != nil {
		return invalid(ReasonInvalidInput, err.Error())
	}
	defer c.locks.Lock(slots.VehicleKey(plate))()

	// The vehicle lock pins the current yard, so it is safe to read it
	// before taking the yard locks.
	current, err := c.loadVehicle(ctx, plate)
	if err != nil {
		return err
	}
	defer c.locks.Lock(slots.YardKey(current.Yard), slots.YardKey(spec.Yard))()

	now := c.now().UTC()
	return c.commit(ctx, "update vehicle", ch, func(tx store.Tx) error {
		cur, err := tx.GetVehicle(ctx, plate)
		if err := lookup(err, EntityVehicle, plate); err != nil {
			return err
		}
		if err := checkStaff(ctx, tx, spec.Staff, spec.Yard); err != nil {
			return err
		}
		if err := c.moveSlots(ctx, tx, cur, spec, now, ch); err != nil {
			return err
		}

		next := cur
		next.Model = spec.Model
		next.Status = spec.Status
		next.Sector = spec.Sector
		next.Yard = spec.Yard
		next.Staff = spec.Staff
		next.Mileage = spec.Mileage
		if cur.ServiceDateChanged(spec.LastServiceDate) {
			next.LastServiceDate = spec.LastServiceDate
			next.ServiceCount++
		}
		next.UpdatedAt = now
		ch.assessment = c.assess(&next, now)
		if err := tx.SaveVehicle(ctx, next); err != nil {
			return internal("save vehicle", err)
		}
		ch.vehicle = next
		if cur.Yard != next.Yard {
			ch.previousYard = cur.Yard
		}
		return nil
	})
}

// moveSlots applies the slot transition of an update:
//
//	yard same,    occupied before == after  -> nothing
//	yard same,    occupied -> free          -> release current yard
//	yard same,    free -> occupied          -> acquire current yard
//	yard changed, occupied before           -> release old, acquire new if still occupying
//	yard changed, free -> occupied          -> acquire new
//	yard changed, free -> free              -> nothing
func (c *Coordinator) moveSlots(ctx context.Context, tx store.Tx, cur model.Vehicle, spec model.VehicleSpec, now time.Time, ch *change) error {
	before, after := cur.OccupiesSlot(), spec.Status.OccupiesSlot()

	if cur.Yard == spec.Yard {
		if before == after {
			return nil
		}
		y, err := tx.GetYard(ctx, cur.Yard)
		if err := lookup(err, EntityYard, cur.Yard); err != nil {
			return err
		}
		if before {
			c.release(&y)
		} else if !slots.Acquire(&y) {
			return conflict(ReasonNoSlotAvailable, EntityYard, y.Name, "no slot available")
		}
		return c.saveYard(ctx, tx, y, now, ch)
	}

	target, err := tx.GetYard(ctx, spec.Yard)
	if err := lookup(err, EntityYard, spec.Yard); err != nil {
		return err
	}
	if before {
		old, err := tx.GetYard(ctx, cur.Yard)
		if err := lookup(err, EntityYard, cur.Yard); err != nil {
			return err
		}
		c.release(&old)
		if err := c.saveYard(ctx, tx, old, now, ch); err != nil {
			return err
		}
	}
	if after {
		// Returning here rolls back the release above with the transaction.
		if !slots.Acquire(&target) {
			return conflict(ReasonNoSlotAvailable, EntityYard, target.Name, "no slot available")
		}
		return c.saveYard(ctx, tx, target, now, ch)
	}
	return nil
}

// DeleteVehicle releases the vehicle's slot when it holds one, unlinks its
// client and removes the record.
func (c *Coordinator) DeleteVehicle(ctx context.Context, plate string) error {
	plate = model.NormalizePlate(plate)
	var ch change
	err := c.deleteVehicle(ctx, plate, &ch)
	c.publish(events.OpDelete, plate, &ch, err)
	if err == nil {
		c.log.Infof("vehicle %s deleted", plate)
	}
	return err
}

func (c *Coordinator) deleteVehicle(ctx context.Context, plate string, ch *change) error {
	if !model.ValidPlate(plate) {
		return invalid(ReasonMalformedPlate, fmt.Sprintf("plate %q must match XXX-0000", plate))
	}
	defer c.locks.Lock(slots.VehicleKey(plate))()

	current, err := c.loadVehicle(ctx, plate)
	if err != nil {
		return err
	}
	keys := []string{slots.YardKey(current.Yard)}
	holder, err := c.clientOf(ctx, plate)
	if err != nil {
		return err
	}
	if holder != "" {
		keys = append(keys, clientKey(holder))
	}
	defer c.locks.Lock(keys...)()

	now := c.now().UTC()
	return c.commit(ctx, "delete vehicle", ch, func(tx store.Tx) error {
		v, err := tx.GetVehicle(ctx, plate)
		if err := lookup(err, EntityVehicle, plate); err != nil {
			return err
		}
		if v.OccupiesSlot() {
			y, err := tx.GetYard(ctx, v.Yard)
			if err := lookup(err, EntityYard, v.Yard); err != nil {
				return err
			}
			c.release(&y)
			if err := c.saveYard(ctx, tx, y, now, ch); err != nil {
				return err
			}
		}
		cl, err := tx.ClientByVehicle(ctx, plate)
		switch {
		case err == nil:
			cl.VehiclePlate = ""
			cl.UpdatedAt = now
			if err := tx.SaveClient(ctx, cl); err != nil {
				return internal("unlink client", err)
			}
		case !errors.Is(err, store.ErrNotFound):
			return internal("load client", err)
		}
		if err := tx.DeleteVehicle(ctx, plate); err != nil {
			return internal("delete vehicle", err)
		}
		ch.vehicle = v
		return nil
	})
}

// ScoreVehicle assesses the stored vehicle and persists the refreshed
// maintenance flag and probability.
func (c *Coordinator) ScoreVehicle(ctx context.Context, plate string) (risk.Assessment, error) {
	plate = model.NormalizePlate(plate)
	var ch change
	err := c.scoreVehicle(ctx, plate, &ch)
	c.publish(events.OpScore, plate, &ch, err)
	if err != nil {
		return risk.Assessment{}, err
	}
	return *ch.assessment, nil
}

func (c *Coordinator) scoreVehicle(ctx context.Context, plate string, ch *change) error {
	if !model.ValidPlate(plate) {
		return invalid(ReasonMalformedPlate, fmt.Sprintf("plate %q must match XXX-0000", plate))
	}
	defer c.locks.Lock(slots.VehicleKey(plate))()

	now := c.now().UTC()
	return c.atomic(ctx, "score vehicle", func(tx store.Tx) error {
		v, err := tx.GetVehicle(ctx, plate)
		if err := lookup(err, EntityVehicle, plate); err != nil {
			return err
		}
		ch.assessment = c.assess(&v, now)
		if err := tx.SaveVehicle(ctx, v); err != nil {
			return internal("save vehicle", err)
		}
		ch.vehicle = v
		return nil
	})
}

// GetVehicle returns the stored vehicle.
func (c *Coordinator) GetVehicle(ctx context.Context, plate string) (model.Vehicle, error) {
	plate = model.NormalizePlate(plate)
	if !model.ValidPlate(plate) {
		return model.Vehicle{}, invalid(ReasonMalformedPlate, fmt.Sprintf("plate %q must match XXX-0000", plate))
	}
	return c.loadVehicle(ctx, plate)
}

// AssessVehicle scores the stored vehicle without persisting the result.
func (c *Coordinator) AssessVehicle(ctx context.Context, plate string) (risk.Assessment, error) {
	v, err := c.GetVehicle(ctx, plate)
	if err != nil {
		return risk.Assessment{}, err
	}
	return c.scorer.Assess(v, c.now().UTC()), nil
}

// ListVehicles returns the vehicles matching f, ordered by plate.
func (c *Coordinator) ListVehicles(ctx context.Context, f store.VehicleFilter) ([]model.Vehicle, error) {
	var out []model.Vehicle
	err := c.atomic(ctx, "list vehicles", func(tx store.Tx) error {
		var err error
		out, err = tx.ListVehicles(ctx, f)
		if err != nil {
			return internal("list vehicles", err)
		}
		return nil
	})
	return out, err
}

func (c *Coordinator) loadVehicle(ctx context.Context, plate string) (model.Vehicle, error) {
	var v model.Vehicle
	err := c.atomic(ctx, "load vehicle", func(tx store.Tx) error {
		var err error
		v, err = tx.GetVehicle(ctx, plate)
		return lookup(err, EntityVehicle, plate)
	})
	return v, err
}

// clientOf returns the username linked to plate, or "" when none is.
func (c *Coordinator) clientOf(ctx context.Context, plate string) (string, error) {
	var username string
	err := c.atomic(ctx, "load client", func(tx store.Tx) error {
		cl, err := tx.ClientByVehicle(ctx, plate)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return internal("load client", err)
		}
		username = cl.Username
		return nil
	})
	return username, err
}

func checkStaff(ctx context.Context, tx store.Tx, username, yard string) error {
	st, err := tx.GetStaff(ctx, username)
	if err := lookup(err, EntityStaff, username); err != nil {
		return err
	}
	if !st.BelongsTo(yard) {
		return invalid(ReasonStaffNotInYard, fmt.Sprintf("staff %s works at %s, not %s", st.Username, st.Yard, yard))
	}
	return nil
}

// assess scores v and stores the derived fields on it.
func (c *Coordinator) assess(v *model.Vehicle, now time.Time) *risk.Assessment {
	a := c.scorer.Assess(*v, now)
	v.NeedsMaintenance = a.NeedsMaintenance
	v.MaintenanceProbability = a.Probability
	return &a
}

func (c *Coordinator) release(y *model.Yard) {
	if !slots.Release(y) {
		c.log.Warnf("release on yard %s with no occupied slots ignored", y.Name)
	}
}

func (c *Coordinator) saveYard(ctx context.Context, tx store.Tx, y model.Yard, now time.Time, ch *change) error {
	y.UpdatedAt = now
	if err := tx.SaveYard(ctx, y); err != nil {
		return internal("save yard", err)
	}
	ch.touch(y)
	return nil
}

// atomic runs fn in a store transaction. Errors that are not already typed,
// such as commit failures or a cancelled context, become KindInternal.
func (c *Coordinator) atomic(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	err := c.store.Atomic(ctx, fn)
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return internal(op, err)
}

// commit runs fn in a store transaction and publishes a snapshot of every
// yard it touched. Callers hold the locks of those yards, so snapshots of a
// yard reach the bus in commit order.
func (c *Coordinator) commit(ctx context.Context, op string, ch *change, fn func(tx store.Tx) error) error {
	if err := c.atomic(ctx, op, fn); err != nil {
		return err
	}
	if c.bus != nil {
		now := c.now().UTC()
		for _, y := range ch.yards {
			c.bus.Publish(events.OccupancyEvent{Occupancy: y.Snapshot(), Time: now})
		}
	}
	return nil
}

// publish reports the outcome of an operation.
func (c *Coordinator) publish(op events.VehicleOp, plate string, ch *change, err error) {
	if err != nil && IsInternal(err) {
		c.log.Errorf("%s %s: %v", op, plate, err)
		monitoring.CaptureException(err, map[string]string{"op": string(op), "plate": plate})
	}
	if c.bus == nil {
		return
	}
	now := c.now().UTC()
	ev := events.VehicleEvent{
		ID:      uuid.NewString(),
		Op:      op,
		Plate:   plate,
		Outcome: Outcome(err),
		Time:    now,
	}
	if err == nil {
		ev.Yard = ch.vehicle.Yard
		ev.PreviousYard = ch.previousYard
		ev.Status = ch.vehicle.Status
		ev.Assessment = ch.assessment
	}
	c.bus.Publish(ev)
}

func clientKey(username string) string { return "client:" + username }
