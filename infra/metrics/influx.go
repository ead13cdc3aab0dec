package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/yardfleet/core/metrics"
	"github.com/kilianp07/yardfleet/infra/logger"
)

// InfluxSink writes fleet events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordVehicleOp writes one coordinator operation.
func (s *InfluxSink) RecordVehicleOp(ev coremetrics.VehicleOpEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("vehicle_operation").
		AddTag("op", ev.Op).
		AddTag("outcome", ev.Outcome)
	if ev.Yard != "" {
		p = p.AddTag("yard", ev.Yard)
	}
	p = p.AddField("plate", ev.Plate).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordOccupancy writes a yard counter snapshot.
func (s *InfluxSink) RecordOccupancy(ev coremetrics.OccupancyEvent) error {
	if ev.Removed {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o := ev.Occupancy
	p := write.NewPointWithMeasurement("yard_occupancy").
		AddTag("yard", o.Yard).
		AddField("occupied", o.Occupied).
		AddField("total", o.Total).
		AddField("available", o.Available).
		AddField("rate", round3(o.Rate)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordAssessment writes a maintenance assessment.
func (s *InfluxSink) RecordAssessment(ev coremetrics.AssessmentEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a := ev.Assessment
	p := write.NewPointWithMeasurement("maintenance_assessment").
		AddTag("plate", a.Plate).
		AddTag("source", string(a.Source)).
		AddTag("urgency", string(a.Urgency))
	if ev.Yard != "" {
		p = p.AddTag("yard", ev.Yard)
	}
	p = p.AddField("needs_maintenance", a.NeedsMaintenance).
		AddField("probability", round3(a.Probability)).
		AddField("score", round3(a.Score)).
		AddField("factors", strings.Join(a.Factors, "; ")).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
