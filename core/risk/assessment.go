package risk

// Urgency is a coarse bucket derived from the maintenance probability.
type Urgency string

const (
	UrgencyNone   Urgency = "none"
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// UrgencyTier maps a probability to its urgency bucket.
func UrgencyTier(p float64) Urgency {
	switch {
	case p > 0.8:
		return UrgencyHigh
	case p > 0.6:
		return UrgencyMedium
	case p > 0.4:
		return UrgencyLow
	default:
		return UrgencyNone
	}
}

// Source names the predictor that produced an assessment.
type Source string

const (
	SourceModel Source = "model"
	SourceRules Source = "rules"
)

// Factor messages, in the order they are reported.
const (
	FactorHighMileage    = "high mileage"
	FactorServiceOverdue = "long time since last service"
	FactorPoorSector     = "poor condition sector"
	FactorNeverServiced  = "never serviced despite mileage>5000"
	FactorNone           = "no critical factor identified"
)

// Assessment is the outcome of scoring one vehicle. It is produced fresh on
// every call and never mutated afterwards.
type Assessment struct {
	Plate            string   `json:"plate"`
	NeedsMaintenance bool     `json:"needs_maintenance"`
	Probability      float64  `json:"probability"`
	Score            float64  `json:"score"`
	Urgency          Urgency  `json:"urgency"`
	Factors          []string `json:"factors"`
	Recommendation   string   `json:"recommendation"`
	Source           Source   `json:"source"`
}

// Factors lists the triggered risk conditions. It is computed from raw
// thresholds, independently of the numeric prediction.
func Factors(f Features) []string {
	var out []string
	if f.Mileage > 10000 {
		out = append(out, FactorHighMileage)
	}
	if f.DaysSinceService > 180 {
		out = append(out, FactorServiceOverdue)
	}
	if f.SectorOrdinal == 2 {
		out = append(out, FactorPoorSector)
	}
	if f.ServiceCount == 0 && f.Mileage > 5000 {
		out = append(out, FactorNeverServiced)
	}
	if len(out) == 0 {
		return []string{FactorNone}
	}
	return out
}

// Recommendation turns a decision into an operator-facing instruction.
func Recommendation(needs bool, p float64) string {
	switch {
	case needs && p > 0.8:
		return "urgent maintenance: schedule immediately"
	case needs:
		return "maintenance recommended: schedule preventive service"
	case p < 0.3:
		return "excellent condition: no maintenance needed"
	default:
		return "fair condition: monitor periodically"
	}
}
