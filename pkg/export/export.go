package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/yardfleet/core/model"
)

// Format selects the output encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
)

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatTable, FormatCSV, FormatJSON:
		return f, nil
	case "":
		return FormatTable, nil
	}
	return "", fmt.Errorf("unknown output format %q (want table, csv or json)", s)
}

// WriteJSON writes v to w as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var vehicleHeader = []string{
	"plate", "model", "status", "sector", "yard", "staff", "mileage",
	"last_service_date", "service_count", "needs_maintenance", "maintenance_probability",
}

// WriteVehiclesCSV writes one row per vehicle. A vehicle never serviced has
// an empty last_service_date.
func WriteVehiclesCSV(w io.Writer, vs []model.Vehicle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(vehicleHeader); err != nil {
		return err
	}
	for _, v := range vs {
		served := ""
		if v.LastServiceDate != nil {
			served = v.LastServiceDate.UTC().Format(time.DateOnly)
		}
		rec := []string{
			v.Plate,
			string(v.Model),
			string(v.Status),
			string(v.Sector),
			v.Yard,
			v.Staff,
			strconv.Itoa(v.Mileage),
			served,
			strconv.Itoa(v.ServiceCount),
			strconv.FormatBool(v.NeedsMaintenance),
			strconv.FormatFloat(v.MaintenanceProbability, 'f', 3, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteOccupancyCSV writes one row per yard snapshot.
func WriteOccupancyCSV(w io.Writer, occ []model.Occupancy) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"yard", "total_slots", "occupied_slots", "available_slots", "occupancy_rate"}); err != nil {
		return err
	}
	for _, o := range occ {
		rec := []string{
			o.Yard,
			strconv.Itoa(o.Total),
			strconv.Itoa(o.Occupied),
			strconv.Itoa(o.Available),
			strconv.FormatFloat(o.Rate, 'f', 3, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
