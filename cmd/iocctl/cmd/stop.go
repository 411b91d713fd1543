// SPDX-License-Identifier: BSD-2-Clause

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/internal/appconfig"
)

func newStopCmd() *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a jail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg := appconfig.Load(configPath)

			j, _, err := openJail(ctx, cfg, args[0])
			if err != nil {
				return err
			}

			ch, errc := events.Stream(func(scope *events.Scope) error {
				return j.Stop(ctx, scope, force)
			})
			if err := renderEvents(ch, errc); err != nil {
				return err
			}
			fmt.Printf("stopped jail %s\n", j.FullName())
			return nil
		},
	}
	c.Flags().BoolVarP(&force, "force", "f", false, "if jail -r fails, run the prestop/poststop scripts by hand and finish the stop")
	return c
}

func newDestroyCmd() *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "destroy <id>",
		Short: "Destroy a jail and its datasets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg := appconfig.Load(configPath)

			j, _, err := openJail(ctx, cfg, args[0])
			if err != nil {
				return err
			}

			ch, errc := events.Stream(func(scope *events.Scope) error {
				return j.Destroy(ctx, scope, force)
			})
			if err := renderEvents(ch, errc); err != nil {
				return err
			}
			fmt.Printf("destroyed jail %s\n", j.FullName())
			return nil
		},
	}
	c.Flags().BoolVarP(&force, "force", "f", false, "destroy even if the jail is running")
	return c
}
