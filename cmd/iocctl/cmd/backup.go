// SPDX-License-Identifier: BSD-2-Clause

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bsdci/libioc/backup"
	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/internal/appconfig"
	"github.com/bsdci/libioc/release"
	"github.com/bsdci/libioc/storage"
)

func newBackupCmd() *cobra.Command {
	var recursive bool
	c := &cobra.Command{
		Use:   "backup <id> <destination>",
		Short: "Export a jail to an archive or directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg := appconfig.Load(configPath)
			id, destination := args[0], args[1]

			j, _, err := openJail(ctx, cfg, id)
			if err != nil {
				return err
			}

			b := &backup.Backup{Jail: j, Run: j.Run}
			if releaseName, _ := j.Config.GetString("release"); releaseName != "" {
				b.Origin = &backup.Origin{Name: releaseName}
			}

			format := backup.FormatDirectory
			if hasTarExtension(destination) {
				format = backup.FormatTAR
			}

			ch, errc := events.Stream(func(scope *events.Scope) error {
				return b.Export(ctx, scope, destination, format, recursive)
			})
			if err := renderEvents(ch, errc); err != nil {
				return err
			}
			fmt.Printf("exported jail %s to %s\n", id, destination)
			return nil
		},
	}
	c.Flags().BoolVar(&recursive, "recursive", false, "also replicate (not just diff) child datasets, limited to direct children")
	return c
}

func newRestoreCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "restore <id> <source>",
		Short: "Restore a jail from an archive or directory previously written by backup",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg := appconfig.Load(configPath)
			id, source := args[0], args[1]

			j, h, err := openJail(ctx, cfg, id)
			if err != nil {
				return err
			}

			b := &backup.Backup{
				Jail: j,
				Run:  j.Run,
				ReleaseLookup: func(ctx context.Context, name string) (storage.Release, error) {
					src, serr := h.MainSource()
					if serr != nil {
						return storage.Release{}, serr
					}
					rel := release.Release{
						Name:         name,
						Distribution: distribution(cfg),
						Client:       j.ZFS,
						Datasets:     src.Datasets,
					}
					return rel.ToStorageRelease(ctx)
				},
			}

			format, err := backup.ParseFormat(source)
			if err != nil {
				return err
			}

			ch, errc := events.Stream(func(scope *events.Scope) error {
				return b.Import(ctx, scope, source, format)
			})
			if err := renderEvents(ch, errc); err != nil {
				return err
			}
			handler := jsonHandler(j)
			if serr := handler.Save(j.Config); serr != nil {
				return serr
			}
			fmt.Printf("restored jail %s from %s\n", id, source)
			return nil
		},
	}
	return c
}

func hasTarExtension(path string) bool {
	for _, suffix := range []string{".tar.gz", ".txz"} {
		if len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}
