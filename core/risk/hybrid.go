package risk

import (
	"fmt"
	"time"

	"github.com/kilianp07/yardfleet/core/logger"
	"github.com/kilianp07/yardfleet/core/model"
)

// Scorer assesses a vehicle's maintenance risk.
type Scorer interface {
	Assess(v model.Vehicle, now time.Time) Assessment
}

// Config controls the risk scorer.
type Config struct {
	// DisableModel forces the deterministic rules for every call.
	DisableModel bool `json:"disable_model"`
	// L2 is the ridge penalty used when training the model.
	L2 float64 `json:"l2"`
	// MaxIterations bounds the optimiser iterations.
	MaxIterations int `json:"max_iterations"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.L2 <= 0 {
		c.L2 = 0.01
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 200
	}
}

// train points to the function used to fit the model. Tests override it to
// simulate training failures.
var train = Train

// Hybrid answers with the trained model when available and with Rules
// otherwise. It is read-only after construction and safe for concurrent use.
type Hybrid struct {
	model Predictor
	rules Rules
	log   logger.Logger
}

// NewHybrid trains the model on BootstrapSet. When training fails the model
// path stays disabled for the lifetime of the returned scorer.
func NewHybrid(cfg Config, log logger.Logger) *Hybrid {
	if log == nil {
		log = logger.Nop{}
	}
	cfg.SetDefaults()
	h := &Hybrid{log: log}
	if cfg.DisableModel {
		log.Infof("risk model disabled by configuration, using rules")
		return h
	}
	m, err := train(BootstrapSet, TrainConfig{L2: cfg.L2, MaxIterations: cfg.MaxIterations})
	if err != nil {
		log.Errorf("risk model training failed, using rules: %v", err)
		return h
	}
	h.model = m
	log.Infof("risk model trained on %d examples", len(BootstrapSet))
	return h
}

// NewHybridWithPredictor wires an explicit model predictor. A nil predictor
// yields a rules-only scorer.
func NewHybridWithPredictor(p Predictor, log logger.Logger) *Hybrid {
	if log == nil {
		log = logger.Nop{}
	}
	return &Hybrid{model: p, log: log}
}

// ModelAvailable reports whether the trained path is active.
func (h *Hybrid) ModelAvailable() bool { return h.model != nil }

// Assess scores v. Model errors and panics are never surfaced: the rules
// answer instead.
func (h *Hybrid) Assess(v model.Vehicle, now time.Time) Assessment {
	f := FeaturesOf(v, now)
	pred, src := h.predict(v.Plate, f)
	return Assessment{
		Plate:            v.Plate,
		NeedsMaintenance: pred.Label,
		Probability:      pred.Probability,
		Score:            pred.Score,
		Urgency:          UrgencyTier(pred.Probability),
		Factors:          Factors(f),
		Recommendation:   Recommendation(pred.Label, pred.Probability),
		Source:           src,
	}
}

func (h *Hybrid) predict(plate string, f Features) (Prediction, Source) {
	if h.model != nil {
		p, err := safePredict(h.model, f)
		if err == nil {
			h.log.Debugw("model prediction", map[string]any{
				"plate": plate, "label": p.Label, "probability": p.Probability,
			})
			return p, SourceModel
		}
		h.log.Warnf("model prediction failed for %s, using rules: %v", plate, err)
	}
	p, _ := h.rules.Predict(f)
	return p, SourceRules
}

func safePredict(p Predictor, f Features) (pred Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("predictor panic: %v", r)
		}
	}()
	return p.Predict(f)
}
