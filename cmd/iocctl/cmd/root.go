// SPDX-License-Identifier: BSD-2-Clause

// Package cmd wires cobra commands directly onto this module's public API
// (§1/§6: "iocctl is a thin external-collaborator shell, it contains no
// business logic"). Every command resolves its jail/host from
// internal/appconfig and internal/logger, then delegates immediately.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/internal/appconfig"
	"github.com/bsdci/libioc/internal/logger"
)

var configPath string

// NewRootCmd assembles the iocctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "iocctl",
		Short: "Manage FreeBSD jails",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := appconfig.Load(configPath)
			if err := logger.Init(cfg.DataPath, cfg.LogLevel); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to iocctl's own config file")

	root.AddCommand(
		newCreateCmd(),
		newStartCmd(),
		newStopCmd(),
		newDestroyCmd(),
		newExecCmd(),
		newFetchReleaseCmd(),
		newBackupCmd(),
		newRestoreCmd(),
	)
	return root
}

// renderEvents drains an events.Stream channel pair to stdout, one line per
// transition, and returns the terminal error (§4.9 "a caller can render
// progress").
func renderEvents(ch <-chan *events.Event, errc <-chan error) error {
	for e := range ch {
		fmt.Println(formatEvent(e))
	}
	return <-errc
}

func formatEvent(e *events.Event) string {
	indent := ""
	for i := 0; i < e.ParentCount; i++ {
		indent += "  "
	}
	switch {
	case e.Error != nil:
		return fmt.Sprintf("%s[FAIL] %s %s: %v", indent, e.Type, e.Identifier, e.Error)
	case e.Skipped:
		return fmt.Sprintf("%s[SKIP] %s %s (%s)", indent, e.Type, e.Identifier, e.Message)
	case e.Done:
		return fmt.Sprintf("%s[ OK ] %s %s (%s)", indent, e.Type, e.Identifier, e.Duration())
	default:
		return fmt.Sprintf("%s[....] %s %s", indent, e.Type, e.Identifier)
	}
}
