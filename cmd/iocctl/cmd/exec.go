// SPDX-License-Identifier: BSD-2-Clause

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bsdci/libioc/internal/appconfig"
)

func newExecCmd() *cobra.Command {
	var passthru bool
	c := &cobra.Command{
		Use:   "exec <id> -- <command...>",
		Short: "Run a command inside a running jail",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg := appconfig.Load(configPath)

			j, _, err := openJail(ctx, cfg, args[0])
			if err != nil {
				return err
			}
			command := strings.Join(args[1:], " ")

			if passthru {
				return j.Passthru(ctx, command, os.Stdin, os.Stdout, os.Stderr)
			}
			out, err := j.Exec(ctx, command)
			fmt.Print(out)
			return err
		},
	}
	c.Flags().BoolVar(&passthru, "passthru", false, "attach the controlling terminal instead of capturing output")
	return c
}
