package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apifleet "github.com/kilianp07/yardfleet/api/fleet"
	"github.com/kilianp07/yardfleet/app/plugins"
	"github.com/kilianp07/yardfleet/config"
	"github.com/kilianp07/yardfleet/core/fleet"
	coremetrics "github.com/kilianp07/yardfleet/core/metrics"
	coremon "github.com/kilianp07/yardfleet/core/monitoring"
	"github.com/kilianp07/yardfleet/core/risk"
	corestore "github.com/kilianp07/yardfleet/core/store"
	"github.com/kilianp07/yardfleet/infra/logger"
	"github.com/kilianp07/yardfleet/infra/metrics"
	"github.com/kilianp07/yardfleet/infra/monitoring"
	"github.com/kilianp07/yardfleet/infra/mqtt"
	"github.com/kilianp07/yardfleet/internal/eventbus"
)

// Service wires the coordinator to its store, metrics sinks and alert
// publisher.
type Service struct {
	Fleet *fleet.Coordinator

	cfg    config.Config
	store  corestore.Store
	bus    *eventbus.Bus
	sink   coremetrics.MetricsSink
	alerts *mqtt.AlertPublisher
	log    logger.Logger

	startOnce sync.Once
	cancel    context.CancelFunc
	done      []<-chan struct{}
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	logg := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	st, err := plugins.OpenStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	var alerts *mqtt.AlertPublisher
	if cfg.MQTT.Enabled {
		alerts, err = mqtt.NewAlertPublisher(cfg.MQTT)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("mqtt alerts: %w", err)
		}
	}

	bus := eventbus.New()
	scorer := risk.NewHybrid(cfg.Risk, logger.New("risk"))
	coord := fleet.New(st, scorer,
		fleet.WithLogger(logger.New("fleet")),
		fleet.WithEventBus(bus),
	)
	return &Service{
		Fleet:  coord,
		cfg:    *cfg,
		store:  st,
		bus:    bus,
		sink:   sink,
		alerts: alerts,
		log:    logg,
	}, nil
}

// Start launches the metrics collector and the alert forwarder. Later calls
// are no-ops.
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.done = append(s.done, metrics.StartEventCollector(ctx, s.bus, s.sink, logger.New("metrics")))
		if s.alerts != nil {
			s.done = append(s.done, mqtt.StartAlertForwarder(ctx, s.bus, s.alerts, logger.New("mqtt_forwarder")))
		}
	})
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.Start(ctx)
	g, ctx := errgroup.WithContext(ctx)
	if port := s.cfg.Metrics.PrometheusPort; port != "" {
		g.Go(func() error {
			if err := metrics.StartPromServer(ctx, port, nil); err != nil {
				return fmt.Errorf("prom server: %w", err)
			}
			return nil
		})
	}
	if addr := s.cfg.HTTP.Addr; addr != "" {
		g.Go(func() error {
			s.log.Infof("fleet API listening on %s", addr)
			shutdown := time.Duration(s.cfg.HTTP.ShutdownSeconds) * time.Second
			if err := apifleet.Serve(ctx, addr, apifleet.NewMux(s.Fleet), shutdown); err != nil {
				return fmt.Errorf("fleet api: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// Close drains pending events and releases resources held by the service.
func (s *Service) Close() error {
	s.bus.Close()
	for _, d := range s.done {
		<-d
	}
	if s.cancel != nil {
		s.cancel()
	}
	if c, ok := s.sink.(coremetrics.Closer); ok {
		c.Close()
	}
	if s.alerts != nil {
		s.alerts.Disconnect()
	}
	coremon.Flush(2 * time.Second)
	return s.store.Close()
}
