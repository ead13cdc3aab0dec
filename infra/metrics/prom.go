package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/yardfleet/core/metrics"
)

// PromSink records fleet activity in Prometheus metrics.
type PromSink struct {
	ops         *prometheus.CounterVec
	occupied    *prometheus.GaugeVec
	total       *prometheus.GaugeVec
	rate        *prometheus.GaugeVec
	probability *prometheus.HistogramVec
	alerts      *prometheus.CounterVec
}

// NewPromSink registers fleet metrics on the default Prometheus registerer.
// The Prometheus server should be started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// that are already registered are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ops, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_vehicle_operations_total",
		Help: "Vehicle operations handled by the coordinator",
	}, []string{"op", "outcome"}))
	if err != nil {
		return nil, err
	}
	occupied, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_yard_occupied_slots",
		Help: "Occupied slots per yard",
	}, []string{"yard"}))
	if err != nil {
		return nil, err
	}
	total, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_yard_total_slots",
		Help: "Slot capacity per yard",
	}, []string{"yard"}))
	if err != nil {
		return nil, err
	}
	rate, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_yard_occupancy_ratio",
		Help: "Occupied fraction of each yard",
	}, []string{"yard"}))
	if err != nil {
		return nil, err
	}
	probability, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_maintenance_probability",
		Help:    "Distribution of maintenance probabilities",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	}, []string{"source"}))
	if err != nil {
		return nil, err
	}
	alerts, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_maintenance_alerts_total",
		Help: "Assessments that flagged a vehicle for maintenance",
	}, []string{"urgency"}))
	if err != nil {
		return nil, err
	}
	return &PromSink{
		ops: ops, occupied: occupied, total: total, rate: rate,
		probability: probability, alerts: alerts,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordVehicleOp counts the operation by kind and outcome.
func (s *PromSink) RecordVehicleOp(ev coremetrics.VehicleOpEvent) error {
	s.ops.WithLabelValues(ev.Op, ev.Outcome).Inc()
	return nil
}

// RecordOccupancy sets the yard gauges, or drops them for a removed yard.
func (s *PromSink) RecordOccupancy(ev coremetrics.OccupancyEvent) error {
	o := ev.Occupancy
	if ev.Removed {
		s.occupied.DeleteLabelValues(o.Yard)
		s.total.DeleteLabelValues(o.Yard)
		s.rate.DeleteLabelValues(o.Yard)
		return nil
	}
	s.occupied.WithLabelValues(o.Yard).Set(float64(o.Occupied))
	s.total.WithLabelValues(o.Yard).Set(float64(o.Total))
	s.rate.WithLabelValues(o.Yard).Set(o.Rate)
	return nil
}

// RecordAssessment observes the probability and counts maintenance alerts.
func (s *PromSink) RecordAssessment(ev coremetrics.AssessmentEvent) error {
	a := ev.Assessment
	s.probability.WithLabelValues(string(a.Source)).Observe(a.Probability)
	if a.NeedsMaintenance {
		s.alerts.WithLabelValues(string(a.Urgency)).Inc()
	}
	return nil
}
