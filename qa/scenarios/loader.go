package scenarios

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/yardfleet/core/fleet"
	"github.com/kilianp07/yardfleet/core/model"
)

const dateLayout = "2006-01-02"

// Operations understood by a Step.
const (
	OpCreate     = "create"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpScore      = "score"
	OpResize     = "resize"
	OpRemoveYard = "remove_yard"
	OpLink       = "link"
)

type YardDef struct {
	Name     string `yaml:"name"`
	Location string `yaml:"location"`
	Slots    int    `yaml:"slots"`
}

func (y YardDef) ToSpec() fleet.YardSpec {
	return fleet.YardSpec{Name: y.Name, Location: y.Location, TotalSlots: y.Slots}
}

type StaffDef struct {
	Username string `yaml:"username"`
	Name     string `yaml:"name"`
	Yard     string `yaml:"yard"`
	Role     string `yaml:"role,omitempty"`
}

func (s StaffDef) ToModel() model.Staff {
	return model.Staff{Username: s.Username, Name: s.Name, Yard: s.Yard, Role: model.Role(s.Role)}
}

type ClientDef struct {
	Username string `yaml:"username"`
	Name     string `yaml:"name"`
}

func (c ClientDef) ToModel() model.Client {
	return model.Client{Username: c.Username, Name: c.Name}
}

// Step is one coordinator call. Vehicle fields left out of an update keep
// their stored value.
type Step struct {
	Op       string  `yaml:"op"`
	Plate    string  `yaml:"plate,omitempty"`
	Model    *string `yaml:"model,omitempty"`
	Status   *string `yaml:"status,omitempty"`
	Sector   *string `yaml:"sector,omitempty"`
	Yard     *string `yaml:"yard,omitempty"`
	Staff    *string `yaml:"staff,omitempty"`
	Mileage  *int    `yaml:"mileage,omitempty"`
	Serviced string  `yaml:"serviced,omitempty"`
	Slots    int     `yaml:"slots,omitempty"`
	Client   string  `yaml:"client,omitempty"`

	// Expect is the outcome label of the call, "ok" when empty.
	Expect string `yaml:"expect,omitempty"`
	// Urgency is checked on score steps when set.
	Urgency string `yaml:"urgency,omitempty"`
}

func (s Step) expected() string {
	if s.Expect == "" {
		return "ok"
	}
	return s.Expect
}

// Overlay applies the fields set on the step to base.
func (s Step) Overlay(base model.VehicleSpec) (model.VehicleSpec, error) {
	base.Plate = s.Plate
	if s.Model != nil {
		base.Model = model.VehicleModel(*s.Model)
	}
	if s.Status != nil {
		base.Status = model.Status(strings.ToLower(*s.Status))
	}
	if s.Sector != nil {
		base.Sector = model.Sector(strings.ToLower(*s.Sector))
	}
	if s.Yard != nil {
		base.Yard = *s.Yard
	}
	if s.Staff != nil {
		base.Staff = *s.Staff
	}
	if s.Mileage != nil {
		base.Mileage = *s.Mileage
	}
	if s.Serviced != "" {
		d, err := time.Parse(dateLayout, s.Serviced)
		if err != nil {
			return model.VehicleSpec{}, fmt.Errorf("serviced: %w", err)
		}
		base.LastServiceDate = &d
	}
	return base, nil
}

type Expected struct {
	// Occupancy maps yard names to occupied slots after the last step.
	Occupancy map[string]int `yaml:"occupancy"`
	// NeedsMaintenance lists every plate flagged at the end, in any order.
	NeedsMaintenance []string `yaml:"needs_maintenance"`
	// Operations counts recorded vehicle operations keyed "op/outcome".
	Operations map[string]int `yaml:"operations,omitempty"`
}

type Scenario struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Now         string      `yaml:"now"`
	Yards       []YardDef   `yaml:"yards"`
	Staff       []StaffDef  `yaml:"staff"`
	Clients     []ClientDef `yaml:"clients,omitempty"`
	Steps       []Step      `yaml:"steps"`
	Expected    Expected    `yaml:"expected"`
}

// Clock returns the scenario's fixed time, noon UTC on Now.
func (sc *Scenario) Clock() (time.Time, error) {
	if sc.Now == "" {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), nil
	}
	d, err := time.Parse(dateLayout, sc.Now)
	if err != nil {
		return time.Time{}, fmt.Errorf("now: %w", err)
	}
	return d.Add(12 * time.Hour), nil
}

// Load reads a scenario file. Unknown keys are rejected.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("%s: scenario name is required", path)
	}
	return &sc, nil
}
