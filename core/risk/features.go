package risk

import (
	"time"

	"github.com/kilianp07/yardfleet/core/model"
)

// NeverServicedDays is the days-since-service value used for vehicles that
// have no recorded service.
const NeverServicedDays = 365

// Features are the numeric inputs of both predictors.
type Features struct {
	Mileage          float64
	DaysSinceService float64
	ServiceCount     float64
	SectorOrdinal    float64
	NeverServiced    bool
}

// FeaturesOf derives the features of v as observed at now.
func FeaturesOf(v model.Vehicle, now time.Time) Features {
	days, ok := v.DaysSinceService(now)
	if !ok {
		days = NeverServicedDays
	}
	return Features{
		Mileage:          float64(v.Mileage),
		DaysSinceService: float64(days),
		ServiceCount:     float64(v.ServiceCount),
		SectorOrdinal:    float64(v.Sector.Ordinal()),
		NeverServiced:    !ok,
	}
}

// vector returns the features in training column order.
func (f Features) vector() []float64 {
	return []float64{f.Mileage, f.ServiceCount, f.DaysSinceService, f.SectorOrdinal}
}

const numFeatures = 4
