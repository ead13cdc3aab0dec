package risk

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Example is one labelled training row.
type Example struct {
	Features Features
	Label    bool
}

// BootstrapSet is the fixed training set the model is fitted on at startup.
// It spans low/high mileage, service recency and condition sector.
var BootstrapSet = []Example{
	{Features{Mileage: 5000, ServiceCount: 2, DaysSinceService: 30, SectorOrdinal: 0}, false},
	{Features{Mileage: 15000, ServiceCount: 1, DaysSinceService: 180, SectorOrdinal: 0}, true},
	{Features{Mileage: 8000, ServiceCount: 3, DaysSinceService: 60, SectorOrdinal: 1}, false},
	{Features{Mileage: 20000, ServiceCount: 0, DaysSinceService: 365, SectorOrdinal: 2}, true},
	{Features{Mileage: 3000, ServiceCount: 1, DaysSinceService: 90, SectorOrdinal: 0}, false},
	{Features{Mileage: 12000, ServiceCount: 2, DaysSinceService: 120, SectorOrdinal: 1}, true},
}

// ErrNonFinite is returned when training or prediction produces NaN or Inf.
var ErrNonFinite = errors.New("non-finite model output")

// Model is a trained logistic-regression classifier with min-max feature
// scaling fitted on the training set. It is immutable after Train returns.
type Model struct {
	weights []float64
	bias    float64
	min     []float64
	span    []float64
}

// TrainConfig tunes the optimiser.
type TrainConfig struct {
	// L2 is the ridge penalty applied to the feature weights.
	L2 float64
	// MaxIterations bounds the BFGS major iterations.
	MaxIterations int
}

// Train fits a Model on set by minimising the L2-regularised log-loss with
// BFGS.
func Train(set []Example, cfg TrainConfig) (*Model, error) {
	n := len(set)
	if n == 0 {
		return nil, errors.New("empty training set")
	}
	m := &Model{min: make([]float64, numFeatures), span: make([]float64, numFeatures)}
	raw := mat.NewDense(n, numFeatures, nil)
	y := mat.NewVecDense(n, nil)
	for i, ex := range set {
		raw.SetRow(i, ex.Features.vector())
		if ex.Label {
			y.SetVec(i, 1)
		}
	}
	for j := 0; j < numFeatures; j++ {
		col := mat.Col(nil, j, raw)
		m.min[j] = floats.Min(col)
		m.span[j] = floats.Max(col) - m.min[j]
	}

	// Design matrix with a trailing bias column.
	x := mat.NewDense(n, numFeatures+1, nil)
	for i := 0; i < n; i++ {
		row := m.scale(mat.Row(nil, i, raw))
		x.SetRow(i, append(row, 1))
	}

	objective := func(w []float64) float64 {
		var z mat.VecDense
		z.MulVec(x, mat.NewVecDense(len(w), w))
		loss := 0.0
		for i := 0; i < n; i++ {
			zi := z.AtVec(i)
			loss += softplus(zi) - y.AtVec(i)*zi
		}
		loss /= float64(n)
		reg := floats.Dot(w[:numFeatures], w[:numFeatures])
		return loss + 0.5*cfg.L2*reg
	}
	gradient := func(grad, w []float64) {
		var z mat.VecDense
		z.MulVec(x, mat.NewVecDense(len(w), w))
		resid := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			resid.SetVec(i, sigmoid(z.AtVec(i))-y.AtVec(i))
		}
		g := mat.NewVecDense(len(grad), grad)
		g.MulVec(x.T(), resid)
		g.ScaleVec(1/float64(n), g)
		for j := 0; j < numFeatures; j++ {
			grad[j] += cfg.L2 * w[j]
		}
	}

	problem := optimize.Problem{Func: objective, Grad: gradient}
	settings := &optimize.Settings{GradientThreshold: 1e-6, MajorIterations: cfg.MaxIterations}
	res, err := optimize.Minimize(problem, make([]float64, numFeatures+1), settings, &optimize.BFGS{})
	if err != nil {
		return nil, fmt.Errorf("minimize: %w", err)
	}
	if !allFinite(res.X) {
		return nil, ErrNonFinite
	}
	m.weights = append([]float64(nil), res.X[:numFeatures]...)
	m.bias = res.X[numFeatures]
	return m, nil
}

// Predict returns the label, calibrated probability and raw score (logit).
func (m *Model) Predict(f Features) (Prediction, error) {
	if m == nil || len(m.weights) != numFeatures {
		return Prediction{}, errors.New("model not trained")
	}
	z := floats.Dot(m.weights, m.scale(f.vector())) + m.bias
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return Prediction{}, ErrNonFinite
	}
	p := sigmoid(z)
	return Prediction{Label: p > 0.5, Probability: p, Score: z}, nil
}

// scale applies the fitted min-max transform. Constant columns map to 0.
func (m *Model) scale(v []float64) []float64 {
	out := make([]float64, len(v))
	for j := range v {
		if m.span[j] == 0 {
			continue
		}
		out[j] = (v[j] - m.min[j]) / m.span[j]
	}
	return out
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// softplus computes log(1+exp(z)) without overflow.
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
