package metrics

// Package metrics defines interfaces for recording fleet activity. Sinks like
// PromSink and InfluxSink (infra/metrics) record vehicle operations, yard
// occupancy and risk assessments and can be combined with NewMultiSink. The
// factory helpers return a MultiSink automatically when multiple sinks are
// configured.
