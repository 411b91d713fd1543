// SPDX-License-Identifier: BSD-2-Clause

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/bsdci/libioc/config"
	"github.com/bsdci/libioc/fstab"
	"github.com/bsdci/libioc/host"
	"github.com/bsdci/libioc/internal/appconfig"
	"github.com/bsdci/libioc/jail"
	"github.com/bsdci/libioc/storage"
	"github.com/bsdci/libioc/zfs"
)

// newHost builds a Host with one Source ("<cfg.Source>") rooted at
// "<cfg.Pool>/iocage", mirroring §6.1's conventional layout. This CLI shell
// manages a single activation root; multi-source hosts are a library
// capability the shell doesn't expose.
func newHost(cfg *appconfig.Config) (*host.Host, error) {
	h := host.New()
	root := cfg.Pool + "/iocage"
	if err := h.AddSource(host.Source{
		Name:     cfg.Source,
		Pool:     cfg.Pool,
		Root:     root,
		Datasets: host.NewRootDatasets(root),
		Main:     true,
	}); err != nil {
		return nil, fmt.Errorf("configure source: %w", err)
	}
	return h, nil
}

// openJail assembles a *jail.Jail for an existing id: its dataset/root
// naming follows the source's Jails dataset, its config is loaded from
// config.json (probed the way config_type=auto does, §4.2.3), and its
// fstab is parsed from the mountpoint's "fstab" file if present.
func openJail(ctx context.Context, cfg *appconfig.Config, id string) (*jail.Jail, *host.Host, error) {
	h, err := newHost(cfg)
	if err != nil {
		return nil, nil, err
	}
	src, err := h.MainSource()
	if err != nil {
		return nil, nil, err
	}

	dataset := src.Datasets.Jails + "/" + id
	root := filepath.Join("/", src.Datasets.Jails, id, "root")

	zfsClient := zfs.NewClient()
	jailRoot, merr := zfsRootMountpoint(ctx, zfsClient, dataset)
	if merr == nil && jailRoot != "" {
		root = jailRoot
	}

	c := config.New(nil)
	handler := &config.JSONHandler{Path: filepath.Join("/", src.Datasets.Jails, id, "config.json")}
	_ = handler.Load(c) // missing config.json is fine for a brand-new jail

	f := fstab.New(root)
	if fh, ferr := os.Open(filepath.Join("/", src.Datasets.Jails, id, "fstab")); ferr == nil {
		if parsed, perr := fstab.Parse(fh, root); perr == nil {
			f = parsed
		}
		fh.Close()
	}

	backend, err := storage.New(mustString(c, "basejail_type"), storage.Config{
		Client:      zfsClient,
		JailDataset: dataset,
		JailRoot:    root,
	})
	if err != nil {
		return nil, nil, err
	}

	j := &jail.Jail{
		ID:      id,
		Source:  src.Name,
		Dataset: dataset,
		Root:    root,
		Config:  c,
		Fstab:   f,
		Storage: backend,
		ZFS:     zfsClient,
		Host:    h,
		Run:     jail.DefaultRunner,
		Devfs:   jail.DevfsRulesetResolver{RulesPath: "/etc/devfs.rules"},
	}
	return j, h, nil
}

// rebuildStorage reconstructs j.Storage from j.Config's current
// basejail_type value. Needed after a caller changes that value post-open,
// since openJail builds the backend once from whatever was on disk.
func rebuildStorage(j *jail.Jail) error {
	backend, err := storage.New(mustString(j.Config, "basejail_type"), storage.Config{
		Client:      j.ZFS,
		JailDataset: j.Dataset,
		JailRoot:    j.Root,
	})
	if err != nil {
		return err
	}
	j.Storage = backend
	return nil
}

func zfsRootMountpoint(ctx context.Context, c *zfs.Client, dataset string) (string, error) {
	ds, err := c.Get(ctx, dataset+"/root")
	if err != nil {
		return "", err
	}
	return ds.Mountpoint, nil
}

func mustString(c *config.Config, key string) string {
	v, err := c.GetString(key)
	if err != nil {
		return ""
	}
	return v
}

// newJailID returns a fresh UUID for "create" when the caller didn't name
// one explicitly (§4.6.8 default host_hostuuid form).
func newJailID() string { return uuid.New().String() }

// distribution maps the CLI shell's own configured distribution name onto
// host.Distribution.
func distribution(cfg *appconfig.Config) host.Distribution {
	if cfg.DistributionName() == string(host.DistributionHardenedBSD) {
		return host.DistributionHardenedBSD
	}
	return host.DistributionFreeBSD
}

// jsonHandler is the config.json handler every command uses to persist a
// jail's config (§4.2.3's JSON handler, the default config_type).
func jsonHandler(j *jail.Jail) *config.JSONHandler {
	return &config.JSONHandler{Path: filepath.Join(j.Dataset, "config.json")}
}
