package metrics

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordVehicleOp forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordVehicleOp(ev VehicleOpEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordVehicleOp(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordOccupancy forwards occupancy snapshots when supported by the sink.
func (m *MultiSink) RecordOccupancy(ev OccupancyEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(OccupancyRecorder); ok {
			if err := rec.RecordOccupancy(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordAssessment forwards assessments when supported by the sink.
func (m *MultiSink) RecordAssessment(ev AssessmentEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(AssessmentRecorder); ok {
			if err := rec.RecordAssessment(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close releases the sinks that hold resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(Closer); ok {
			c.Close()
		}
	}
}
