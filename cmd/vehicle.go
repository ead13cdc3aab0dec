package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kilianp07/yardfleet/core/fleet"
	"github.com/kilianp07/yardfleet/core/model"
	"github.com/kilianp07/yardfleet/core/risk"
	"github.com/kilianp07/yardfleet/core/store"
	"github.com/kilianp07/yardfleet/pkg/export"
)

const dateLayout = "2006-01-02"

func newVehicleCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vehicle",
		Short: "Manage vehicles",
	}
	cmd.AddCommand(
		newVehicleAddCmd(opts),
		newVehicleUpdateCmd(opts),
		newVehicleRmCmd(opts),
		newVehicleScoreCmd(opts),
		newVehicleLsCmd(opts),
	)
	return cmd
}

// vehicleFlags holds the raw flag values shared by add and update.
type vehicleFlags struct {
	model, status, sector string
	yard, staff           string
	mileage               int
	serviced              string
}

func (f *vehicleFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.model, "model", "", "mottu-sport, mottu-e or mottu-pop")
	fs.StringVar(&f.status, "status", "", "available, rented or maintenance")
	fs.StringVar(&f.sector, "sector", "", "good, intermediate or bad")
	fs.StringVar(&f.yard, "yard", "", "yard holding the vehicle")
	fs.StringVar(&f.staff, "staff", "", "responsible staff username")
	fs.IntVar(&f.mileage, "mileage", 0, "odometer in km")
	fs.StringVar(&f.serviced, "serviced", "", "last service date (YYYY-MM-DD)")
}

// apply overlays the flags set on the command line onto spec.
func (f *vehicleFlags) apply(fs *pflag.FlagSet, spec *model.VehicleSpec) error {
	if fs.Changed("model") {
		spec.Model = model.VehicleModel(f.model)
	}
	if fs.Changed("status") {
		spec.Status = model.Status(strings.ToLower(f.status))
	}
	if fs.Changed("sector") {
		spec.Sector = model.Sector(strings.ToLower(f.sector))
	}
	if fs.Changed("yard") {
		spec.Yard = f.yard
	}
	if fs.Changed("staff") {
		spec.Staff = f.staff
	}
	if fs.Changed("mileage") {
		spec.Mileage = f.mileage
	}
	if fs.Changed("serviced") {
		d, err := time.Parse(dateLayout, f.serviced)
		if err != nil {
			return fmt.Errorf("serviced: %w", err)
		}
		spec.LastServiceDate = &d
	}
	return nil
}

func newVehicleAddCmd(opts *options) *cobra.Command {
	var f vehicleFlags
	cmd := &cobra.Command{
		Use:   "add PLATE",
		Short: "Register a vehicle in a yard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := model.VehicleSpec{Plate: args[0]}
			if err := f.apply(cmd.Flags(), &spec); err != nil {
				return err
			}
			return withFleet(cmd, opts, func(ctx context.Context, c *fleet.Coordinator) error {
				v, err := c.CreateVehicle(ctx, spec)
				if err != nil {
					return err
				}
				return printVehicle(cmd.OutOrStdout(), "created", v)
			})
		},
	}
	f.register(cmd.Flags())
	_ = cmd.MarkFlagRequired("yard")
	_ = cmd.MarkFlagRequired("staff")
	return cmd
}

func newVehicleUpdateCmd(opts *options) *cobra.Command {
	var f vehicleFlags
	cmd := &cobra.Command{
		Use:   "update PLATE",
		Short: "Change a vehicle's status, yard or condition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFleet(cmd, opts, func(ctx context.Context, c *fleet.Coordinator) error {
				cur, err := c.GetVehicle(ctx, args[0])
				if err != nil {
					return err
				}
				spec := model.VehicleSpec{
					Plate:   cur.Plate,
					Model:   cur.Model,
					Status:  cur.Status,
					Sector:  cur.Sector,
					Yard:    cur.Yard,
					Staff:   cur.Staff,
					Mileage: cur.Mileage,
				}
				if err := f.apply(cmd.Flags(), &spec); err != nil {
					return err
				}
				v, err := c.UpdateVehicle(ctx, cur.Plate, spec)
				if err != nil {
					return err
				}
				return printVehicle(cmd.OutOrStdout(), "updated", v)
			})
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func newVehicleRmCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rm PLATE",
		Short: "Delete a vehicle and free its slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFleet(cmd, opts, func(ctx context.Context, c *fleet.Coordinator) error {
				if err := c.DeleteVehicle(ctx, args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "vehicle %s deleted\n", model.NormalizePlate(args[0]))
				return err
			})
		},
	}
}

func newVehicleScoreCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "score PLATE",
		Short: "Refresh a vehicle's maintenance assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFleet(cmd, opts, func(ctx context.Context, c *fleet.Coordinator) error {
				a, err := c.ScoreVehicle(ctx, args[0])
				if err != nil {
					return err
				}
				return printAssessment(cmd.OutOrStdout(), a)
			})
		},
	}
}

func newVehicleLsCmd(opts *options) *cobra.Command {
	var yard, status, output string
	var needs, rentable bool
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List vehicles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := export.ParseFormat(output)
			if err != nil {
				return err
			}
			filter := store.VehicleFilter{Yard: yard, Status: model.Status(strings.ToLower(status))}
			if cmd.Flags().Changed("needs-maintenance") {
				filter.NeedsMaintenance = &needs
			}
			return withFleet(cmd, opts, func(ctx context.Context, c *fleet.Coordinator) error {
				vs, err := c.ListVehicles(ctx, filter)
				if err != nil {
					return err
				}
				if rentable {
					vs = slices.DeleteFunc(vs, func(v model.Vehicle) bool { return !v.AvailableForRent() })
				}
				out := cmd.OutOrStdout()
				switch format {
				case export.FormatCSV:
					return export.WriteVehiclesCSV(out, vs)
				case export.FormatJSON:
					return export.WriteJSON(out, vs)
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "PLATE\tMODEL\tSTATUS\tSECTOR\tYARD\tMILEAGE\tMAINTENANCE")
				for _, v := range vs {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%.2f\n",
						v.Plate, v.Model, v.Status, v.Sector, v.Yard, v.Mileage, v.MaintenanceProbability)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&yard, "yard", "", "only vehicles in this yard")
	cmd.Flags().StringVar(&status, "status", "", "only vehicles with this status")
	cmd.Flags().BoolVar(&needs, "needs-maintenance", false, "filter on the maintenance flag")
	cmd.Flags().BoolVar(&rentable, "rentable", false, "only available vehicles not flagged for maintenance")
	cmd.Flags().StringVarP(&output, "output", "o", string(export.FormatTable), "table, csv or json")
	return cmd
}

func printVehicle(w io.Writer, verb string, v model.Vehicle) error {
	_, err := fmt.Fprintf(w, "vehicle %s %s: %s in %s, maintenance probability %.2f\n",
		v.Plate, verb, v.Status, v.Yard, v.MaintenanceProbability)
	return err
}

func urgencyColor(u risk.Urgency) func(format string, a ...interface{}) string {
	switch u {
	case risk.UrgencyHigh:
		return color.RedString
	case risk.UrgencyMedium:
		return color.YellowString
	}
	return color.GreenString
}

func printAssessment(w io.Writer, a risk.Assessment) error {
	_, err := fmt.Fprintf(w, "%s: %s (p=%.2f, %s)\n", a.Plate, urgencyColor(a.Urgency)("%s", a.Urgency), a.Probability, a.Source)
	if err != nil {
		return err
	}
	for _, f := range a.Factors {
		if _, err := fmt.Fprintf(w, "  - %s\n", f); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(w, a.Recommendation)
	return err
}
