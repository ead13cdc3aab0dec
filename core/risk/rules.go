package risk

// Prediction is the raw output of a predictor.
type Prediction struct {
	Label       bool
	Probability float64
	Score       float64
}

// Predictor maps features to a prediction.
type Predictor interface {
	Predict(f Features) (Prediction, error)
}

// Rules is the deterministic predictor. Its probability is a weighted sum of
// threshold hits clipped to [0,1]; its label is computed from raw thresholds
// and can disagree with the probability.
type Rules struct{}

// Predict never fails.
func (Rules) Predict(f Features) (Prediction, error) {
	p := rulesProbability(f)
	score := 0.0
	if p > 0.5 {
		score = 1
	}
	return Prediction{
		Label:       f.Mileage > 10000 || f.DaysSinceService > 180 || f.SectorOrdinal == 2,
		Probability: p,
		Score:       score,
	}, nil
}

func rulesProbability(f Features) float64 {
	p := 0.0
	switch {
	case f.Mileage > 15000:
		p += 0.40
	case f.Mileage > 10000:
		p += 0.30
	case f.Mileage > 5000:
		p += 0.10
	}
	switch {
	case f.DaysSinceService > 365:
		p += 0.35
	case f.DaysSinceService > 180:
		p += 0.25
	case f.DaysSinceService > 90:
		p += 0.15
	}
	if f.NeverServiced {
		p += 0.30
	}
	switch f.SectorOrdinal {
	case 2:
		p += 0.25
	case 1:
		p += 0.15
	}
	if f.ServiceCount == 0 {
		p += 0.10
	}
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}
