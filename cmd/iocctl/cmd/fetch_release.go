// SPDX-License-Identifier: BSD-2-Clause

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/internal/appconfig"
	"github.com/bsdci/libioc/release"
	"github.com/bsdci/libioc/zfs"
)

func newFetchReleaseCmd() *cobra.Command {
	var processor string
	c := &cobra.Command{
		Use:   "fetch-release <name>",
		Short: "Download and install a release (e.g. 13.2-RELEASE)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg := appconfig.Load(configPath)

			h, err := newHost(cfg)
			if err != nil {
				return err
			}
			src, err := h.MainSource()
			if err != nil {
				return err
			}

			dist := distribution(cfg)
			name, _ := release.Parse(args[0])
			rel := release.Release{
				Name:         name,
				Distribution: dist,
				Client:       zfs.NewClient(),
				Datasets:     src.Datasets,
				Basedirs:     dist.Basedirs(),
			}

			downloadDir := filepath.Join(os.TempDir(), "iocctl-fetch-"+name)
			if err := os.MkdirAll(downloadDir, 0750); err != nil {
				return err
			}
			defer os.RemoveAll(downloadDir)

			dl := release.NewHTTPDownloader(cfg.Mirror.Insecure)
			opts := release.FetchOptions{
				DownloadDir: downloadDir,
				Processor:   processor,
				CheckHashes: true,
			}

			ch, errc := events.Stream(func(scope *events.Scope) error {
				return rel.Fetch(ctx, scope, dl, opts)
			})
			if err := renderEvents(ch, errc); err != nil {
				return err
			}
			fmt.Printf("fetched release %s\n", name)
			return nil
		},
	}
	c.Flags().StringVar(&processor, "processor", "amd64", "target processor (uname -p)")
	return c
}
