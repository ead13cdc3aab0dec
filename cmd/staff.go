package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/yardfleet/core/fleet"
	"github.com/kilianp07/yardfleet/core/model"
)

func newStaffCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staff",
		Short: "Manage yard staff",
	}
	cmd.AddCommand(newStaffAddCmd(opts))
	return cmd
}

func newStaffAddCmd(opts *options) *cobra.Command {
	var st model.Staff
	var role string
	cmd := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Register a staff member in a yard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st.Username = args[0]
			st.Role = model.Role(role)
			return withFleet(cmd, opts, func(ctx context.Context, c *fleet.Coordinator) error {
				saved, err := c.RegisterStaff(ctx, st)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s registered in %s\n", saved.Role, saved.Username, saved.Yard)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&st.Name, "name", "", "full name")
	cmd.Flags().StringVar(&st.Yard, "yard", "", "yard the staff member works at")
	cmd.Flags().StringVar(&role, "role", string(model.RoleStaff), "staff or admin")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("yard")
	return cmd
}
