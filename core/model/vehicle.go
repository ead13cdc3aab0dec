package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status is the operational status of a vehicle.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusRented      Status = "rented"
	StatusMaintenance Status = "maintenance"
)

// ParseStatus converts a string into a Status. Matching is case-insensitive.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusAvailable:
		return StatusAvailable, nil
	case StatusRented:
		return StatusRented, nil
	case StatusMaintenance:
		return StatusMaintenance, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// OccupiesSlot reports whether a vehicle in this status holds a yard slot.
// Rented vehicles are out on the street and never do.
func (s Status) OccupiesSlot() bool {
	return s == StatusAvailable || s == StatusMaintenance
}

func (s Status) String() string { return string(s) }

// UnmarshalJSON accepts any casing of the known statuses.
func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Sector is the condition tier of a vehicle.
type Sector string

const (
	SectorGood         Sector = "good"
	SectorIntermediate Sector = "intermediate"
	SectorBad          Sector = "bad"
)

// ParseSector converts a string into a Sector.
func ParseSector(s string) (Sector, error) {
	switch Sector(strings.ToLower(strings.TrimSpace(s))) {
	case SectorGood:
		return SectorGood, nil
	case SectorIntermediate:
		return SectorIntermediate, nil
	case SectorBad:
		return SectorBad, nil
	}
	return "", fmt.Errorf("unknown sector %q", s)
}

// Ordinal encodes the sector as 0 (good), 1 (intermediate) or 2 (bad).
func (s Sector) Ordinal() int {
	switch s {
	case SectorIntermediate:
		return 1
	case SectorBad:
		return 2
	default:
		return 0
	}
}

func (s Sector) String() string { return string(s) }

// VehicleModel identifies the scooter model.
type VehicleModel string

const (
	ModelSport VehicleModel = "mottu-sport"
	ModelE     VehicleModel = "mottu-e"
	ModelPop   VehicleModel = "mottu-pop"
)

// ParseVehicleModel converts a string into a VehicleModel. An empty string
// maps to ModelPop.
func ParseVehicleModel(s string) (VehicleModel, error) {
	switch VehicleModel(strings.ToLower(strings.TrimSpace(s))) {
	case ModelSport:
		return ModelSport, nil
	case ModelE:
		return ModelE, nil
	case ModelPop, "":
		return ModelPop, nil
	}
	return "", fmt.Errorf("unknown model %q", s)
}

// MaxMileage is the largest odometer value accepted, in km.
const MaxMileage = 1_000_000

var platePattern = regexp.MustCompile(`^[A-Z]{3}-\d{4}$`)

// NormalizePlate trims and upper-cases a plate.
func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.TrimSpace(plate))
}

// ValidPlate reports whether plate matches the XXX-0000 format. The plate
// must already be normalized.
func ValidPlate(plate string) bool {
	return platePattern.MatchString(plate)
}

// Vehicle is a tracked scooter parked in exactly one yard and under the
// responsibility of one staff member. Yard and Staff are identifiers, not
// embedded records.
type Vehicle struct {
	Plate           string       `json:"plate"`
	Model           VehicleModel `json:"model"`
	Status          Status       `json:"status"`
	Sector          Sector       `json:"sector"`
	Yard            string       `json:"yard"`
	Staff           string       `json:"staff"`
	Mileage         int          `json:"mileage"`
	LastServiceDate *time.Time   `json:"last_service_date,omitempty"`
	ServiceCount    int          `json:"service_count"`

	// NeedsMaintenance and MaintenanceProbability are derived by the risk
	// scorer on every write and never set by callers.
	NeedsMaintenance       bool    `json:"needs_maintenance"`
	MaintenanceProbability float64 `json:"maintenance_probability"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OccupiesSlot reports whether the vehicle currently holds a slot in its yard.
func (v Vehicle) OccupiesSlot() bool { return v.Status.OccupiesSlot() }

// AvailableForRent is true for available vehicles not flagged for maintenance.
func (v Vehicle) AvailableForRent() bool {
	return v.Status == StatusAvailable && !v.NeedsMaintenance
}

// NeverServiced reports whether no service date was ever recorded.
func (v Vehicle) NeverServiced() bool { return v.LastServiceDate == nil }

// DaysSinceService returns whole days elapsed since the last service, or
// ok=false when the vehicle was never serviced.
func (v Vehicle) DaysSinceService(now time.Time) (days int, ok bool) {
	if v.LastServiceDate == nil {
		return 0, false
	}
	d := now.Sub(*v.LastServiceDate)
	if d < 0 {
		return 0, true
	}
	return int(d.Hours() / 24), true
}

// VehicleSpec carries the caller-controlled fields of a vehicle for create and
// update operations.
type VehicleSpec struct {
	Plate           string       `json:"plate"`
	Model           VehicleModel `json:"model"`
	Status          Status       `json:"status"`
	Sector          Sector       `json:"sector"`
	Yard            string       `json:"yard"`
	Staff           string       `json:"staff"`
	Mileage         int          `json:"mileage"`
	LastServiceDate *time.Time   `json:"last_service_date,omitempty"`
}

// Normalize trims identifiers and fills zero-valued enums with defaults.
func (s VehicleSpec) Normalize() VehicleSpec {
	s.Plate = NormalizePlate(s.Plate)
	s.Yard = strings.TrimSpace(s.Yard)
	s.Staff = strings.TrimSpace(s.Staff)
	if s.Model == "" {
		s.Model = ModelPop
	}
	if s.Status == "" {
		s.Status = StatusAvailable
	}
	if s.Sector == "" {
		s.Sector = SectorGood
	}
	return s
}

// Validate checks field ranges that do not depend on stored state. Plate
// format is checked separately so callers can report it distinctly.
func (s VehicleSpec) Validate() error {
	if _, err := ParseStatus(string(s.Status)); err != nil {
		return err
	}
	if _, err := ParseSector(string(s.Sector)); err != nil {
		return err
	}
	if _, err := ParseVehicleModel(string(s.Model)); err != nil {
		return err
	}
	if s.Mileage < 0 || s.Mileage > MaxMileage {
		return fmt.Errorf("mileage must be between 0 and %d km", MaxMileage)
	}
	if s.Yard == "" {
		return fmt.Errorf("yard is required")
	}
	if s.Staff == "" {
		return fmt.Errorf("staff is required")
	}
	return nil
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// ServiceDateChanged reports whether next carries a service date different
// from the stored one.
func (v Vehicle) ServiceDateChanged(next *time.Time) bool {
	return next != nil && !sameDate(v.LastServiceDate, next)
}
