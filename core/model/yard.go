package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MaxYardSlots bounds the capacity of a single yard.
const MaxYardSlots = 1000

var yardNamePattern = regexp.MustCompile(`^[a-zA-Z0-9 ]{3,50}$`)

// Yard is a parking site with a fixed number of slots. OccupiedSlots is only
// changed through the slot ledger.
type Yard struct {
	Name          string    `json:"name"`
	Location      string    `json:"location"`
	TotalSlots    int       `json:"total_slots"`
	OccupiedSlots int       `json:"occupied_slots"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AvailableSlots returns the number of free slots.
func (y Yard) AvailableSlots() int { return y.TotalSlots - y.OccupiedSlots }

// OccupancyRate returns the occupied fraction in [0,1].
func (y Yard) OccupancyRate() float64 {
	if y.TotalSlots <= 0 {
		return 0
	}
	return float64(y.OccupiedSlots) / float64(y.TotalSlots)
}

// Validate checks the yard's static attributes and counters.
func (y Yard) Validate() error {
	if !yardNamePattern.MatchString(y.Name) {
		return fmt.Errorf("yard name must be 3-50 letters, digits or spaces")
	}
	if y.TotalSlots < 1 || y.TotalSlots > MaxYardSlots {
		return fmt.Errorf("total slots must be between 1 and %d", MaxYardSlots)
	}
	if y.OccupiedSlots < 0 || y.OccupiedSlots > y.TotalSlots {
		return fmt.Errorf("occupied slots %d outside [0,%d]", y.OccupiedSlots, y.TotalSlots)
	}
	return nil
}

// Occupancy is a read-only snapshot of a yard's counters.
type Occupancy struct {
	Yard      string  `json:"yard"`
	Total     int     `json:"total_slots"`
	Occupied  int     `json:"occupied_slots"`
	Available int     `json:"available_slots"`
	Rate      float64 `json:"occupancy_rate"`
}

// Snapshot returns the yard's current occupancy.
func (y Yard) Snapshot() Occupancy {
	return Occupancy{
		Yard:      y.Name,
		Total:     y.TotalSlots,
		Occupied:  y.OccupiedSlots,
		Available: y.AvailableSlots(),
		Rate:      y.OccupancyRate(),
	}
}

// Role is a staff member's permission level.
type Role string

const (
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
)

// Staff is an employee assigned to one yard.
type Staff struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Yard     string `json:"yard"`
	Role     Role   `json:"role"`
}

// BelongsTo reports whether the staff member works at the named yard.
func (s Staff) BelongsTo(yard string) bool {
	return yard != "" && s.Yard == strings.TrimSpace(yard)
}

// Client is a renter optionally linked to one vehicle.
type Client struct {
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	VehiclePlate string    `json:"vehicle_plate,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasVehicle reports whether the client is linked to a vehicle.
func (c Client) HasVehicle() bool { return c.VehiclePlate != "" }
