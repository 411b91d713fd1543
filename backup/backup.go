// SPDX-License-Identifier: BSD-2-Clause

// Package backup implements resource export/import (component H, §4.8):
// bundling a jail's config, fstab, and datasets into a portable archive or
// directory, and restoring one back onto a (possibly different) host.
package backup

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/host"
	"github.com/bsdci/libioc/iocerrors"
	"github.com/bsdci/libioc/jail"
	"github.com/bsdci/libioc/storage"
)

// Format selects the on-disk shape of a backup, mirroring the two asset
// kinds ResourceBackup.py's Format enum names.
type Format int

const (
	FormatTAR Format = iota + 1
	FormatDirectory
)

// ParseFormat infers the format from a source path the way restore() does:
// a directory is DIRECTORY, a ".txz"/".tar.gz" file is TAR, anything else
// is rejected.
func ParseFormat(source string) (Format, error) {
	fi, err := os.Stat(source)
	if err != nil {
		return 0, iocerrors.Wrap(iocerrors.KindBackupSourceDoesNotExist, source, err)
	}
	if fi.IsDir() {
		return FormatDirectory, nil
	}
	if strings.HasSuffix(source, ".txz") || strings.HasSuffix(source, ".tar.gz") {
		return FormatTAR, nil
	}
	return 0, iocerrors.New(iocerrors.KindBackupUnknownFormat, source)
}

// Origin describes the release a jail was forked from, the subset Export
// needs to compute the rsync compare-dest and exclude list against
// (§4.8 "root-dataset delta ... with --compare-dest=<release snapshot>").
// A nil *Origin means the jail has no release to diff against, so Export
// always falls back to a full zfs send of its root dataset (§4.8
// "OR full zfs send stream to root.zfs if standalone").
type Origin struct {
	Name                 string
	RootDatasetMountpoint string
	SnapshotName          string // the release snapshot name, e.g. "p0"
}

// ReleaseLookup resolves an archived release name to a storage.Release
// usable by the target jail's storage backend, during Import. Supplied by
// the caller since backup has no release-fetching logic of its own.
type ReleaseLookup func(ctx context.Context, name string) (storage.Release, error)

// Backup drives one export or import of Jail. A Backup value is meant to
// be used once: Export or Import locks it and unlocks it when done; on
// failure a rollback step releases the lock. A second Export or Import
// started while the lock is held fails with BackupInProgress.
type Backup struct {
	Jail         *jail.Jail
	Origin       *Origin
	Distribution host.Distribution
	Run          jail.Runner
	ReleaseLookup ReleaseLookup

	workDir      string
	snapshotName string
	locked       bool
}

func (b *Backup) fullSnapshotName() string {
	return b.Jail.Dataset + "@" + b.snapshotName
}

// lock claims the single concurrent backup slot for this resource (§4.8
// "Only one backup operation per resource at a time"). For FormatTAR it
// creates a scratch temp directory; for FormatDirectory it creates (and
// later directly populates) destination itself, so destination must not
// already exist.
func (b *Backup) lock(destination string, format Format) error {
	if b.locked {
		return iocerrors.New(iocerrors.KindBackupInProgress, b.Jail.ID)
	}

	b.snapshotName = "backup-" + time.Now().UTC().Format("20060102150405")

	if format == FormatDirectory {
		if _, err := os.Stat(destination); err == nil {
			return iocerrors.New(iocerrors.KindExportDestinationExists, destination)
		}
		if err := os.MkdirAll(destination, 0750); err != nil {
			return iocerrors.Wrap(iocerrors.KindCommandFailure, destination, err)
		}
		b.workDir = destination
	} else {
		dir, err := os.MkdirTemp("", "iocage-backup-"+sanitizeTempSuffix(b.Jail.ID)+"-")
		if err != nil {
			return iocerrors.Wrap(iocerrors.KindCommandFailure, "mkdtemp", err)
		}
		b.workDir = dir
	}

	b.locked = true
	return nil
}

// unlock releases the backup slot. For FormatTAR the scratch directory is
// removed (it was only ever a staging area for the bundle); for
// FormatDirectory the destination directory is the deliverable and is left
// in place.
func (b *Backup) unlock(format Format) {
	if format == FormatTAR && b.workDir != "" {
		os.RemoveAll(b.workDir)
	}
	b.workDir = ""
	b.locked = false
}

func sanitizeTempSuffix(id string) string {
	var sb strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// standalone reports whether this export/import treats the root dataset
// as a self-contained zfs send rather than a release-relative rsync diff:
// true whenever the jail has no recorded Origin (§4.8; the archived
// config's "release" key / a present "root.zfs" file is the over-the-wire
// signal of the same fact, read back by Import).
func (b *Backup) standalone() bool {
	return b.Origin == nil
}

func rollbackDestroySnapshot(z snapshotDestroyer, name string) events.RollbackStep {
	return func(ctx context.Context, emit events.Emitter) error {
		return z.Destroy(ctx, name, true, false)
	}
}

// snapshotDestroyer is the *zfs.Client subset rollbackDestroySnapshot needs;
// named so it's obvious at the call site which dataset a rollback step
// tears down.
type snapshotDestroyer interface {
	Destroy(ctx context.Context, name string, recursive, force bool) error
}

// childDatasetName joins a jail dataset and a relative child path the way
// zfs(8) would, for readability at call sites that otherwise juggle bare
// string concatenation.
func childDatasetName(jailDataset, relative string) string {
	return jailDataset + "/" + strings.TrimPrefix(relative, "/")
}
