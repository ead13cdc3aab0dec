package fleet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kilianp07/yardfleet/core/events"
	"github.com/kilianp07/yardfleet/core/model"
	"github.com/kilianp07/yardfleet/core/slots"
	"github.com/kilianp07/yardfleet/core/store"
)

// YardSpec is the caller input for provisioning a yard.
type YardSpec struct {
	Name       string `json:"name"`
	Location   string `json:"location"`
	TotalSlots int    `json:"total_slots"`
}

// ProvisionYard creates an empty yard.
func (c *Coordinator) ProvisionYard(ctx context.Context, spec YardSpec) (model.Yard, error) {
	now := c.now().UTC()
	y := model.Yard{
		Name:       strings.TrimSpace(spec.Name),
		Location:   strings.TrimSpace(spec.Location),
		TotalSlots: spec.TotalSlots,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := y.Validate(); err != nil {
		return model.Yard{}, invalid(ReasonInvalidInput, err.Error())
	}
	defer c.locks.Lock(slots.YardKey(y.Name))()

	err := c.atomic(ctx, "provision yard", func(tx store.Tx) error {
		_, err := tx.GetYard(ctx, y.Name)
		switch {
		case err == nil:
			return conflict(ReasonDuplicateYard, EntityYard, y.Name, "yard already exists")
		case !errors.Is(err, store.ErrNotFound):
			return internal("load yard", err)
		}
		if err := tx.SaveYard(ctx, y); err != nil {
			return internal("save yard", err)
		}
		return nil
	})
	if err != nil {
		return model.Yard{}, err
	}
	c.publishYard(y, false)
	c.log.Infof("yard %s provisioned with %d slots", y.Name, y.TotalSlots)
	return y, nil
}

// ResizeYard changes a yard's capacity. It never drops below the number of
// slots currently occupied.
func (c *Coordinator) ResizeYard(ctx context.Context, name string, total int) (model.Yard, error) {
	name = strings.TrimSpace(name)
	if total < 1 || total > model.MaxYardSlots {
		return model.Yard{}, invalid(ReasonInvalidInput, fmt.Sprintf("total slots must be between 1 and %d", model.MaxYardSlots))
	}
	defer c.locks.Lock(slots.YardKey(name))()

	var y model.Yard
	err := c.atomic(ctx, "resize yard", func(tx store.Tx) error {
		var err error
		y, err = tx.GetYard(ctx, name)
		if err := lookup(err, EntityYard, name); err != nil {
			return err
		}
		if total < y.OccupiedSlots {
			return &Error{
				Kind: KindValidation, Reason: ReasonCapacityBelowOccupied, Entity: EntityYard, ID: name,
				Msg: fmt.Sprintf("%d slots are occupied", y.OccupiedSlots),
			}
		}
		y.TotalSlots = total
		y.UpdatedAt = c.now().UTC()
		if err := tx.SaveYard(ctx, y); err != nil {
			return internal("save yard", err)
		}
		return nil
	})
	if err != nil {
		return model.Yard{}, err
	}
	c.publishYard(y, false)
	return y, nil
}

// RemoveYard deletes a yard that holds no vehicles and no staff.
func (c *Coordinator) RemoveYard(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	defer c.locks.Lock(slots.YardKey(name))()

	var y model.Yard
	err := c.atomic(ctx, "remove yard", func(tx store.Tx) error {
		var err error
		y, err = tx.GetYard(ctx, name)
		if err := lookup(err, EntityYard, name); err != nil {
			return err
		}
		vehicles, err := tx.ListVehicles(ctx, store.VehicleFilter{Yard: name})
		if err != nil {
			return internal("list vehicles", err)
		}
		staff, err := tx.CountStaff(ctx, name)
		if err != nil {
			return internal("count staff", err)
		}
		if len(vehicles) > 0 || staff > 0 {
			return conflict(ReasonYardNotEmpty, EntityYard, name,
				fmt.Sprintf("%d vehicles and %d staff still assigned", len(vehicles), staff))
		}
		if err := tx.DeleteYard(ctx, name); err != nil {
			return internal("delete yard", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.publishYard(y, true)
	c.log.Infof("yard %s removed", name)
	return nil
}

// YardOccupancy returns a snapshot of every yard, ordered by name.
func (c *Coordinator) YardOccupancy(ctx context.Context) ([]model.Occupancy, error) {
	var out []model.Occupancy
	err := c.atomic(ctx, "list yards", func(tx store.Tx) error {
		yards, err := tx.ListYards(ctx)
		if err != nil {
			return internal("list yards", err)
		}
		out = make([]model.Occupancy, 0, len(yards))
		for _, y := range yards {
			out = append(out, y.Snapshot())
		}
		return nil
	})
	return out, err
}

// RegisterStaff adds a staff member to an existing yard.
func (c *Coordinator) RegisterStaff(ctx context.Context, st model.Staff) (model.Staff, error) {
	st.Username = strings.TrimSpace(st.Username)
	st.Name = strings.TrimSpace(st.Name)
	st.Yard = strings.TrimSpace(st.Yard)
	if st.Role == "" {
		st.Role = model.RoleStaff
	}
	if st.Username == "" || st.Name == "" {
		return model.Staff{}, invalid(ReasonInvalidInput, "username and name are required")
	}
	if st.Role != model.RoleStaff && st.Role != model.RoleAdmin {
		return model.Staff{}, invalid(ReasonInvalidInput, fmt.Sprintf("unknown role %q", st.Role))
	}
	// The yard lock keeps RemoveYard from deleting the yard between the
	// existence check and the commit.
	defer c.locks.Lock(staffKey(st.Username), slots.YardKey(st.Yard))()

	err := c.atomic(ctx, "register staff", func(tx store.Tx) error {
		_, err := tx.GetStaff(ctx, st.Username)
		switch {
		case err == nil:
			return conflict(ReasonDuplicateUsername, EntityStaff, st.Username, "username taken")
		case !errors.Is(err, store.ErrNotFound):
			return internal("load staff", err)
		}
		_, err = tx.GetYard(ctx, st.Yard)
		if err := lookup(err, EntityYard, st.Yard); err != nil {
			return err
		}
		if err := tx.SaveStaff(ctx, st); err != nil {
			return internal("save staff", err)
		}
		return nil
	})
	if err != nil {
		return model.Staff{}, err
	}
	return st, nil
}

// RegisterClient adds a client. A non-empty VehiclePlate links the vehicle
// in the same transaction.
func (c *Coordinator) RegisterClient(ctx context.Context, cl model.Client) (model.Client, error) {
	cl.Username = strings.TrimSpace(cl.Username)
	cl.Name = strings.TrimSpace(cl.Name)
	cl.VehiclePlate = model.NormalizePlate(cl.VehiclePlate)
	if cl.Username == "" || cl.Name == "" {
		return model.Client{}, invalid(ReasonInvalidInput, "username and name are required")
	}
	if cl.VehiclePlate != "" {
		if !model.ValidPlate(cl.VehiclePlate) {
			return model.Client{}, invalid(ReasonMalformedPlate, fmt.Sprintf("plate %q must match XXX-0000", cl.VehiclePlate))
		}
		defer c.locks.Lock(slots.VehicleKey(cl.VehiclePlate))()
	}
	defer c.locks.Lock(clientKey(cl.Username))()

	now := c.now().UTC()
	cl.CreatedAt, cl.UpdatedAt = now, now
	err := c.atomic(ctx, "register client", func(tx store.Tx) error {
		_, err := tx.GetClient(ctx, cl.Username)
		switch {
		case err == nil:
			return conflict(ReasonDuplicateUsername, EntityClient, cl.Username, "username taken")
		case !errors.Is(err, store.ErrNotFound):
			return internal("load client", err)
		}
		if cl.VehiclePlate != "" {
			if err := checkLinkable(ctx, tx, cl.Username, cl.VehiclePlate); err != nil {
				return err
			}
		}
		if err := tx.SaveClient(ctx, cl); err != nil {
			return internal("save client", err)
		}
		return nil
	})
	if err != nil {
		return model.Client{}, err
	}
	return cl, nil
}

// LinkClient assigns a vehicle to a client, replacing the client's previous
// vehicle. A vehicle is linked to at most one client.
func (c *Coordinator) LinkClient(ctx context.Context, username, plate string) (model.Client, error) {
	username = strings.TrimSpace(username)
	plate = model.NormalizePlate(plate)
	if !model.ValidPlate(plate) {
		return model.Client{}, invalid(ReasonMalformedPlate, fmt.Sprintf("plate %q must match XXX-0000", plate))
	}
	defer c.locks.Lock(slots.VehicleKey(plate))()
	defer c.locks.Lock(clientKey(username))()

	var cl model.Client
	err := c.atomic(ctx, "link client", func(tx store.Tx) error {
		var err error
		cl, err = tx.GetClient(ctx, username)
		if err := lookup(err, EntityClient, username); err != nil {
			return err
		}
		if err := checkLinkable(ctx, tx, username, plate); err != nil {
			return err
		}
		cl.VehiclePlate = plate
		cl.UpdatedAt = c.now().UTC()
		if err := tx.SaveClient(ctx, cl); err != nil {
			return internal("save client", err)
		}
		return nil
	})
	if err != nil {
		return model.Client{}, err
	}
	c.log.Infof("vehicle %s linked to client %s", plate, username)
	return cl, nil
}

// checkLinkable verifies plate exists and is not held by another client.
func checkLinkable(ctx context.Context, tx store.Tx, username, plate string) error {
	exists, err := tx.VehicleExists(ctx, plate)
	if err != nil {
		return internal("check plate", err)
	}
	if !exists {
		return notFound(EntityVehicle, plate)
	}
	holder, err := tx.ClientByVehicle(ctx, plate)
	switch {
	case err == nil && holder.Username != username:
		return conflict(ReasonVehicleAlreadyLinked, EntityVehicle, plate,
			fmt.Sprintf("linked to client %s", holder.Username))
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return internal("load client", err)
	}
	return nil
}

func (c *Coordinator) publishYard(y model.Yard, removed bool) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.OccupancyEvent{Occupancy: y.Snapshot(), Removed: removed, Time: c.now().UTC()})
}

func staffKey(username string) string { return "staff:" + username }
