package cmd

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/yardfleet/core/fleet"
	"github.com/kilianp07/yardfleet/pkg/export"
)

func newYardCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "yard",
		Short: "Manage yards",
	}
	cmd.AddCommand(newYardAddCmd(opts), newYardResizeCmd(opts), newYardRmCmd(opts), newYardLsCmd(opts))
	return cmd
}

func newYardAddCmd(opts *options) *cobra.Command {
	var spec fleet.YardSpec
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Provision an empty yard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.Name = args[0]
			return withFleet(cmd, opts, func(ctx context.Context, c *fleet.Coordinator) error {
				y, err := c.ProvisionYard(ctx, spec)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "yard %s provisioned with %d slots\n", y.Name, y.TotalSlots)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&spec.Location, "location", "", "street address")
	cmd.Flags().IntVar(&spec.TotalSlots, "slots", 0, "number of parking slots")
	_ = cmd.MarkFlagRequired("slots")
	return cmd
}

func newYardResizeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resize NAME SLOTS",
		Short: "Change a yard's capacity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("slots: %w", err)
			}
			return withFleet(cmd, opts, func(ctx context.Context, c *fleet.Coordinator) error {
				y, err := c.ResizeYard(ctx, args[0], total)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "yard %s now has %d slots (%d occupied)\n", y.Name, y.TotalSlots, y.OccupiedSlots)
				return err
			})
		},
	}
}

func newYardRmCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rm NAME",
		Short: "Remove an empty yard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFleet(cmd, opts, func(ctx context.Context, c *fleet.Coordinator) error {
				if err := c.RemoveYard(ctx, args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "yard %s removed\n", args[0])
				return err
			})
		},
	}
}

func newYardLsCmd(opts *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "Show the occupancy of every yard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := export.ParseFormat(output)
			if err != nil {
				return err
			}
			return withFleet(cmd, opts, func(ctx context.Context, c *fleet.Coordinator) error {
				occ, err := c.YardOccupancy(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch format {
				case export.FormatCSV:
					return export.WriteOccupancyCSV(out, occ)
				case export.FormatJSON:
					return export.WriteJSON(out, occ)
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "YARD\tTOTAL\tOCCUPIED\tAVAILABLE\tRATE")
				for _, o := range occ {
					_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.0f%%\n", o.Yard, o.Total, o.Occupied, o.Available, o.Rate*100)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", string(export.FormatTable), "table, csv or json")
	return cmd
}
