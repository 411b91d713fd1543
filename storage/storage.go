// SPDX-License-Identifier: BSD-2-Clause

// Package storage implements the jail root dataset backends (component E):
// Standalone, NullFSBasejail, and ZFSBasejail, all sharing a rename
// operation, plus ZFS share attach/detach for the jail_zfs_dataset
// property (§4.4).
package storage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/iocerrors"
	"github.com/bsdci/libioc/zfs"
)

// Release is the subset of release state a storage backend needs to set
// itself up against: the release's own root dataset/snapshot, and — for
// ZFSBasejail — the per-basedir ZFS-base mirror datasets (§4.4, §4.7.1
// "optionally update the ZFS-base mirror").
type Release struct {
	Name           string
	RootDataset    string // e.g. "<pool>/iocage/releases/<name>/root"
	LatestSnapshot string // "<RootDataset>@p<N>", resolved by the release package
	BaseDataset    string // "<pool>/iocage/base/<name>", basedirs live as children
	Basedirs       []string
}

// Backend is the polymorphic storage contract of §4.4.
type Backend interface {
	// Setup prepares the jail root dataset/mountpoint for a freshly created
	// jail, given the release to clone from.
	Setup(ctx context.Context, scope *events.Scope, release Release) error
	// Apply re-establishes per-basedir mounts/clones; called on every start
	// (§4.4: "recreates those mountpoint directories" / "clones each
	// basedir dataset").
	Apply(ctx context.Context, scope *events.Scope, release Release) error
}

// Config names the dataset/mountpoint pair every backend operates on.
type Config struct {
	Client       *zfs.Client
	JailDataset  string // "<pool>/iocage/jails/<id>"
	JailRoot     string // mountpoint of JailDataset, conventionally ".../root"
}

// rootDataset is JailDataset + "/root", the clone target every backend
// shares (§4.4 "clones release@latest once into <jail>/root").
func (c Config) rootDataset() string { return c.JailDataset + "/root" }

// cloneRoot performs the one clone every backend's Setup shares: release's
// latest snapshot into this jail's root dataset.
func (c Config) cloneRoot(ctx context.Context, release Release) error {
	if release.LatestSnapshot == "" {
		return iocerrors.New(iocerrors.KindReleaseNotFetched, release.Name)
	}
	return c.Client.Clone(ctx, release.LatestSnapshot, c.rootDataset(), nil, false)
}

func ensureEmptyDir(path string) error {
	if fi, err := os.Stat(path); err == nil {
		if fi.IsDir() {
			return nil
		}
		return iocerrors.New(iocerrors.KindZFSException, path)
	}
	return os.MkdirAll(path, 0755)
}

// ensureMountpoints creates empty directories for every basedir plus the
// fixed "dev" and "etc" targets every basejail variant needs present
// before the fstab-driven mount/clone populates them (§4.4).
func ensureMountpoints(jailRoot string, basedirs []string) error {
	for _, dir := range append(append([]string{}, basedirs...), "dev", "etc") {
		if err := ensureEmptyDir(filepath.Join(jailRoot, dir)); err != nil {
			return err
		}
	}
	return nil
}

// New constructs the backend named by kind ("standalone", "nullfs_basejail",
// "zfs_basejail"), the three variants names in §4.4 and §6.2's
// jail_type/basejail-related keys may select.
func New(kind string, cfg Config) (Backend, error) {
	switch kind {
	case "standalone", "":
		return Standalone{Config: cfg}, nil
	case "nullfs_basejail", "basejail":
		return NullFSBasejail{Standalone: Standalone{Config: cfg}}, nil
	case "zfs_basejail":
		return ZFSBasejail{Standalone: Standalone{Config: cfg}}, nil
	default:
		return nil, iocerrors.New(iocerrors.KindInvalidJailConfigValue, kind)
	}
}
