package backup

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/iocerrors"
	"github.com/bsdci/libioc/zfs"
)

// Export writes Jail's config, fstab, and datasets to destination
// (§4.8). recursive both replicates child-dataset snapshots into the zfs
// send stream and limits child-dataset discovery to Jail.Dataset's direct
// children, mirroring the original implementation's single dual-purpose
// flag (see DESIGN.md).
func (b *Backup) Export(ctx context.Context, scope *events.Scope, destination string, format Format, recursive bool) error {
	if format == FormatDirectory {
		if _, err := os.Stat(destination); err == nil {
			return iocerrors.New(iocerrors.KindExportDestinationExists, destination)
		}
	}

	if err := b.lock(destination, format); err != nil {
		return err
	}

	e := scope.Begin(events.TypeResourceBackup, b.Jail.ID)

	if err := b.Jail.ZFS.Snapshot(ctx, b.Jail.Dataset, b.snapshotName, true); err != nil {
		b.unlock(format)
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindSnapshotCreation, b.fullSnapshotName(), err))
	}

	e.AddRollbackStep(rollbackDestroySnapshot(b.Jail.ZFS, b.fullSnapshotName()))
	e.AddRollbackStep(func(ctx context.Context, emit events.Emitter) error {
		b.unlock(format)
		return nil
	})

	standalone := b.standalone()

	if err := b.exportConfig(ctx, scope); err != nil {
		return scope.Fail(ctx, e, err)
	}
	if err := b.exportFstab(ctx, scope); err != nil {
		return scope.Fail(ctx, e, err)
	}

	if !standalone {
		if err := b.exportRootDataset(ctx, scope); err != nil {
			return scope.Fail(ctx, e, err)
		}
	}

	if err := b.exportOtherDatasets(ctx, scope, standalone, recursive); err != nil {
		return scope.Fail(ctx, e, err)
	}

	if format == FormatTAR {
		if err := b.bundle(ctx, scope, destination); err != nil {
			return scope.Fail(ctx, e, err)
		}
	}

	if err := b.Jail.ZFS.Destroy(ctx, b.fullSnapshotName(), true, false); err != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindSnapshotDeletion, b.fullSnapshotName(), err))
	}
	b.unlock(format)
	scope.End(e)
	return nil
}

func (b *Backup) exportConfig(ctx context.Context, scope *events.Scope) error {
	e := scope.Begin(events.TypeExportConfig, b.Jail.ID)

	data, err := json.MarshalIndent(b.Jail.Config.ToMap(), "", "  ")
	if err != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, "config.json", err))
	}
	path := filepath.Join(b.workDir, "config.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, path, err))
	}

	scope.End(e)
	return nil
}

func (b *Backup) exportFstab(ctx context.Context, scope *events.Scope) error {
	e := scope.Begin(events.TypeExportFstab, b.Jail.ID)

	path := filepath.Join(b.workDir, "fstab")
	f, err := os.Create(path)
	if err != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, path, err))
	}
	defer f.Close()

	if err := writeBackupFstab(f, b.Jail.Fstab, b.Jail.Root); err != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, path, err))
	}

	scope.End(e)
	return nil
}

func (b *Backup) exportRootDataset(ctx context.Context, scope *events.Scope) error {
	e := scope.Begin(events.TypeExportRootDataset, b.Jail.ID)

	tempRoot := filepath.Join(b.workDir, "root")
	if err := os.Mkdir(tempRoot, 0755); err != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, tempRoot, err))
	}

	compareDest := b.Origin.RootDatasetMountpoint + "/.zfs/snapshot/" + b.Origin.SnapshotName

	args := []string{"-av", "--checksum", "--links", "--hard-links", "--safe-links"}
	for _, basedir := range b.Distribution.Basedirs() {
		args = append(args, "--exclude", b.Jail.Root+"/"+basedir)
	}
	args = append(args,
		"--compare-dest="+compareDest+"/",
		b.Jail.Root+"/",
		tempRoot,
	)

	if _, err := b.Run.Run(ctx, "rsync", args...); err != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, "rsync", err))
	}

	scope.End(e)
	return nil
}

func (b *Backup) exportOtherDatasets(ctx context.Context, scope *events.Scope, standalone, recursive bool) error {
	e := scope.Begin(events.TypeExportOtherDatasets, b.Jail.ID)

	children, err := b.childDatasets(ctx, recursive)
	if err != nil {
		return scope.Fail(ctx, e, err)
	}

	exported := false
	for _, name := range children {
		isRoot := name == "root"
		if isRoot && !standalone {
			continue
		}
		if err := b.exportOtherDataset(ctx, name, recursive); err != nil {
			return scope.Fail(ctx, e, err)
		}
		exported = true
	}

	if !exported {
		scope.Skip(e, "no additional datasets")
		return nil
	}
	scope.End(e)
	return nil
}

func (b *Backup) exportOtherDataset(ctx context.Context, relativeName string, replicate bool) error {
	absoluteDir := filepath.Join(b.workDir, filepath.FromSlash(filepath.Dir(relativeName)))
	if err := os.MkdirAll(absoluteDir, 0755); err != nil {
		return iocerrors.Wrap(iocerrors.KindCommandFailure, absoluteDir, err)
	}

	assetPath := filepath.Join(b.workDir, filepath.FromSlash(relativeName)+".zfs")
	f, err := os.Create(assetPath)
	if err != nil {
		return iocerrors.Wrap(iocerrors.KindCommandFailure, assetPath, err)
	}
	defer f.Close()

	datasetName := childDatasetName(b.Jail.Dataset, relativeName)
	snapshot := datasetName + "@" + b.snapshotName
	if err := b.Jail.ZFS.Send(ctx, snapshot, f, replicate); err != nil {
		return iocerrors.Wrap(iocerrors.KindCommandFailure, snapshot, err)
	}
	return nil
}

// childDatasets lists the jail dataset's children relative to it ("data",
// "data/www", ...), excluding the jail dataset itself. When limitDepth is
// true only direct children are returned, mirroring the original's
// recursive-flag-also-limits-depth behavior (see DESIGN.md).
func (b *Backup) childDatasets(ctx context.Context, limitDepth bool) ([]string, error) {
	all, err := b.Jail.ZFS.List(ctx, b.Jail.Dataset, zfs.TypeFilesystem)
	if err != nil {
		return nil, iocerrors.Wrap(iocerrors.KindZFSException, b.Jail.Dataset, err)
	}

	prefix := b.Jail.Dataset + "/"
	var out []string
	for _, d := range all {
		if d.Name == b.Jail.Dataset {
			continue
		}
		if len(d.Name) <= len(prefix) || d.Name[:len(prefix)] != prefix {
			continue
		}
		relative := d.Name[len(prefix):]
		if limitDepth && containsSlash(relative) {
			continue
		}
		out = append(out, relative)
	}
	return out, nil
}

func containsSlash(s string) bool {
	for _, r := range s {
		if r == '/' {
			return true
		}
	}
	return false
}
