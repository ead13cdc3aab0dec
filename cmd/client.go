package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/yardfleet/core/fleet"
	"github.com/kilianp07/yardfleet/core/model"
)

func newClientCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage rental clients",
	}
	cmd.AddCommand(newClientAddCmd(opts), newClientLinkCmd(opts))
	return cmd
}

func newClientAddCmd(opts *options) *cobra.Command {
	var cl model.Client
	cmd := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Register a client, optionally linked to a vehicle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl.Username = args[0]
			return withFleet(cmd, opts, func(ctx context.Context, c *fleet.Coordinator) error {
				saved, err := c.RegisterClient(ctx, cl)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if saved.HasVehicle() {
					_, err = fmt.Fprintf(out, "client %s registered with vehicle %s\n", saved.Username, saved.VehiclePlate)
					return err
				}
				_, err = fmt.Fprintf(out, "client %s registered\n", saved.Username)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&cl.Name, "name", "", "full name")
	cmd.Flags().StringVar(&cl.VehiclePlate, "plate", "", "vehicle to link")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newClientLinkCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "link USERNAME PLATE",
		Short: "Assign a vehicle to a client",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFleet(cmd, opts, func(ctx context.Context, c *fleet.Coordinator) error {
				cl, err := c.LinkClient(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "vehicle %s linked to client %s\n", cl.VehiclePlate, cl.Username)
				return err
			})
		},
	}
}
