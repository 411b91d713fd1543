// SPDX-License-Identifier: BSD-2-Clause

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/internal/appconfig"
	"github.com/bsdci/libioc/release"
	"github.com/bsdci/libioc/storage"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start a jail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg := appconfig.Load(configPath)

			j, h, err := openJail(ctx, cfg, args[0])
			if err != nil {
				return err
			}

			releaseName, _ := j.Config.GetString("release")
			var storageRelease storage.Release
			if releaseName != "" {
				src, serr := h.MainSource()
				if serr != nil {
					return serr
				}
				rel := release.Release{
					Name:         releaseName,
					Distribution: distribution(cfg),
					Client:       j.ZFS,
					Datasets:     src.Datasets,
				}
				storageRelease, err = rel.ToStorageRelease(ctx)
				if err != nil {
					return err
				}
			}

			ch, errc := events.Stream(func(scope *events.Scope) error {
				return j.Start(ctx, scope, storageRelease, nil, nil, nil)
			})
			if err := renderEvents(ch, errc); err != nil {
				return err
			}
			fmt.Printf("started jail %s\n", j.FullName())
			return nil
		},
	}
}
