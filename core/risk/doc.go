// Package risk classifies a vehicle's maintenance need.
//
// Two predictors share the Predictor interface: a logistic-regression Model
// trained once at startup on a fixed bootstrap set, and the deterministic
// Rules fallback. Hybrid picks the model when it trained successfully and
// falls back to the rules whenever the model is missing or fails, so callers
// never observe model errors.
package risk
