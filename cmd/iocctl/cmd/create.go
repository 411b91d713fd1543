// SPDX-License-Identifier: BSD-2-Clause

package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/internal/appconfig"
	"github.com/bsdci/libioc/release"
)

func newCreateCmd() *cobra.Command {
	var releaseName, id, basejailType string

	c := &cobra.Command{
		Use:   "create",
		Short: "Create a jail from a fetched release",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg := appconfig.Load(configPath)

			if id == "" {
				id = newJailID()
			}
			j, h, err := openJail(ctx, cfg, id)
			if err != nil {
				return err
			}
			if basejailType != "" {
				if _, serr := j.Config.Set("basejail_type", basejailType); serr != nil {
					return serr
				}
				if serr := rebuildStorage(j); serr != nil {
					return serr
				}
			}

			src, err := h.MainSource()
			if err != nil {
				return err
			}
			rel := release.Release{
				Name:         releaseName,
				Distribution: distribution(cfg),
				Client:       j.ZFS,
				Datasets:     src.Datasets,
			}
			storageRelease, err := rel.ToStorageRelease(ctx)
			if err != nil {
				return err
			}

			ch, errc := events.Stream(func(scope *events.Scope) error {
				return j.Storage.Setup(ctx, scope, storageRelease)
			})
			if err := renderEvents(ch, errc); err != nil {
				return err
			}
			if _, serr := j.Config.Set("release", releaseName); serr != nil {
				return serr
			}
			if _, serr := j.Config.Set("id", id); serr != nil {
				return serr
			}
			handler := jsonHandler(j)
			if serr := handler.Save(j.Config); serr != nil {
				return serr
			}

			fmt.Printf("created jail %s from release %s (config at %s)\n", id, releaseName, filepath.Join(j.Dataset, "config.json"))
			return nil
		},
	}

	c.Flags().StringVar(&releaseName, "release", "", "release name to clone from (required)")
	c.Flags().StringVar(&id, "id", "", "jail id (default: a generated UUID)")
	c.Flags().StringVar(&basejailType, "type", "", "storage backend: standalone, nullfs_basejail, zfs_basejail")
	c.MarkFlagRequired("release")
	return c
}
