package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/yardfleet/app"
	"github.com/kilianp07/yardfleet/config"
	"github.com/kilianp07/yardfleet/core/fleet"
	"github.com/kilianp07/yardfleet/infra/logger"
)

type options struct {
	cfgPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "yardfleet",
		Short:         "Yard fleet coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.cfgPath, "config", "c", "", "configuration file (yaml or json); K_ environment variables override it")
	root.AddCommand(
		newServeCmd(opts),
		newYardCmd(opts),
		newStaffCmd(opts),
		newClientCmd(opts),
		newVehicleCmd(opts),
	)
	return root
}

// Execute runs the CLI.
func Execute() error { return newRootCmd().Execute() }

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the metrics endpoint, the read-only API and the alert forwarder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, opts)
		},
	}
}

func serve(cmd *cobra.Command, opts *options) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := openService(opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}

func openService(opts *options) (*app.Service, error) {
	cfg, err := config.Load(opts.cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(cfg)
}

// withFleet runs fn against a short-lived service. Pending events are
// flushed to the sinks before returning.
func withFleet(cmd *cobra.Command, opts *options, fn func(ctx context.Context, c *fleet.Coordinator) error) (err error) {
	svc, err := openService(opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc.Start(ctx)
	return fn(ctx, svc.Fleet)
}
