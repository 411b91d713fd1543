package backup

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/fstab"
	"github.com/bsdci/libioc/iocerrors"
)

// Import restores Jail from an archive or directory previously written by
// Export (§4.8 "Imports read the archive (or directory) ..."). Jail must
// already carry a ZFS client/dataset/root but must not yet exist on disk:
// Import creates it, either cloned from a release (if the archived config
// names one and no root.zfs is present) or from scratch.
func (b *Backup) Import(ctx context.Context, scope *events.Scope, source string, format Format) error {
	if _, err := os.Stat(source); err != nil {
		return iocerrors.Wrap(iocerrors.KindBackupSourceDoesNotExist, source, err)
	}

	if b.locked {
		return iocerrors.New(iocerrors.KindBackupInProgress, b.Jail.ID)
	}
	b.snapshotName = ""
	if format == FormatDirectory {
		b.workDir = source
	} else {
		dir, err := os.MkdirTemp("", "iocage-restore-"+sanitizeTempSuffix(b.Jail.ID)+"-")
		if err != nil {
			return iocerrors.Wrap(iocerrors.KindCommandFailure, "mkdtemp", err)
		}
		b.workDir = dir
	}
	b.locked = true

	e := scope.Begin(events.TypeResourceBackup, b.Jail.ID)

	e.AddRollbackStep(func(ctx context.Context, emit events.Emitter) error {
		if format == FormatTAR {
			os.RemoveAll(b.workDir)
		}
		b.workDir = ""
		b.locked = false
		return nil
	})

	if format == FormatTAR {
		if err := b.extractBundle(ctx, scope, source); err != nil {
			return scope.Fail(ctx, e, err)
		}
	}

	e.AddRollbackStep(func(ctx context.Context, emit events.Emitter) error {
		return b.Jail.ZFS.Destroy(ctx, b.Jail.Dataset, true, true)
	})

	archivedConfig, err := readJSONMap(filepath.Join(b.workDir, "config.json"))
	if err != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, "config.json", err))
	}

	isStandalone := fileExists(filepath.Join(b.workDir, "root.zfs"))
	releaseName, hasRelease := archivedConfig["release"]

	if hasRelease && releaseName != "" && !isStandalone {
		if b.ReleaseLookup == nil {
			return scope.Fail(ctx, e, iocerrors.New(iocerrors.KindReleaseNotFetched, releaseName))
		}
		release, lerr := b.ReleaseLookup(ctx, releaseName)
		if lerr != nil {
			return scope.Fail(ctx, e, lerr)
		}
		if serr := b.Jail.Storage.Setup(ctx, scope, release); serr != nil {
			return scope.Fail(ctx, e, serr)
		}
	} else {
		if cerr := b.createFromScratch(ctx); cerr != nil {
			return scope.Fail(ctx, e, cerr)
		}
	}

	if !isStandalone {
		if rerr := b.importRootDataset(ctx, scope); rerr != nil {
			return scope.Fail(ctx, e, rerr)
		}
	}

	if oerr := b.importOtherDatasets(ctx, scope); oerr != nil {
		return scope.Fail(ctx, e, oerr)
	}
	if cerr := b.importConfig(ctx, scope, archivedConfig); cerr != nil {
		return scope.Fail(ctx, e, cerr)
	}
	if ferr := b.importFstab(ctx, scope); ferr != nil {
		return scope.Fail(ctx, e, ferr)
	}

	if format == FormatTAR {
		os.RemoveAll(b.workDir)
	}
	b.workDir = ""
	b.locked = false
	scope.End(e)
	return nil
}

func (b *Backup) createFromScratch(ctx context.Context) error {
	if err := b.Jail.ZFS.Create(ctx, b.Jail.Dataset, nil); err != nil {
		return iocerrors.Wrap(iocerrors.KindDatasetExists, b.Jail.Dataset, err)
	}
	rootDataset := b.Jail.Dataset + "/root"
	if err := b.Jail.ZFS.Create(ctx, rootDataset, nil); err != nil {
		return iocerrors.Wrap(iocerrors.KindDatasetExists, rootDataset, err)
	}
	return nil
}

func (b *Backup) importRootDataset(ctx context.Context, scope *events.Scope) error {
	e := scope.Begin(events.TypeImportRootDataset, b.Jail.ID)

	tempRoot := filepath.Join(b.workDir, "root")
	args := []string{"-av", "--links", "--hard-links", "--safe-links", tempRoot + "/", b.Jail.Root + "/"}
	if _, err := b.Run.Run(ctx, "rsync", args...); err != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, "rsync", err))
	}

	scope.End(e)
	return nil
}

func (b *Backup) importOtherDatasets(ctx context.Context, scope *events.Scope) error {
	e := scope.Begin(events.TypeImportOtherDatasets, b.Jail.ID)

	names, err := listImportableDatasets(b.workDir)
	if err != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, b.workDir, err))
	}

	imported := false
	for _, name := range names {
		dest := childDatasetName(b.Jail.Dataset, name)
		assetPath := filepath.Join(b.workDir, filepath.FromSlash(name)+".zfs")

		f, oerr := os.Open(assetPath)
		if oerr != nil {
			return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, assetPath, oerr))
		}
		if perr := b.ensureParentDataset(ctx, dest); perr != nil {
			f.Close()
			return scope.Fail(ctx, e, perr)
		}
		rerr := b.Jail.ZFS.Receive(ctx, dest, f, true)
		f.Close()
		if rerr != nil {
			return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindZFSException, dest, rerr))
		}
		imported = true
	}

	if !imported {
		scope.Skip(e, "no additional datasets")
		return nil
	}
	scope.End(e)
	return nil
}

// ensureParentDataset creates every missing dataset between b.Jail.Dataset
// and dest's parent, so "zfs receive dest" (which requires dest's immediate
// parent to already exist) succeeds for nested child datasets. dest itself
// is left for Receive to create from the stream.
func (b *Backup) ensureParentDataset(ctx context.Context, dest string) error {
	parent := parentDataset(dest)
	if parent == "" || parent == b.Jail.Dataset {
		return nil
	}
	if b.Jail.ZFS.Exists(ctx, parent) {
		return nil
	}
	if err := b.ensureParentDataset(ctx, parent); err != nil {
		return err
	}
	return b.Jail.ZFS.Create(ctx, parent, nil)
}

func parentDataset(name string) string {
	idx := strings.LastIndexByte(name, '/')
	if idx < 0 {
		return ""
	}
	return name[:idx]
}

func (b *Backup) importConfig(ctx context.Context, scope *events.Scope, archived map[string]string) error {
	e := scope.Begin(events.TypeImportConfig, b.Jail.ID)

	b.Jail.Config.Clone(archived, true)
	if err := b.Jail.Config.Save(); err != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, "config", err))
	}

	scope.End(e)
	return nil
}

func (b *Backup) importFstab(ctx context.Context, scope *events.Scope) error {
	e := scope.Begin(events.TypeImportFstab, b.Jail.ID)

	path := filepath.Join(b.workDir, "fstab")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		scope.Skip(e, "no fstab in backup")
		return nil
	}
	if err != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, path, err))
	}
	defer f.Close()

	imported, perr := fstab.Parse(f, b.Jail.Root)
	if perr != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, path, perr))
	}
	rewriteImportedFstab(imported, b.Jail.Root)
	b.Jail.Fstab.Lines = imported.Lines

	scope.End(e)
	return nil
}

// listImportableDatasets walks workDir for "*.zfs" files, the relative
// (slash-joined) dataset names they encode, skipping the root-dataset
// rsync payload and the fstab/config dumps (§4.8,
// ResourceBackup.py's _list_importable_datasets — reimplemented against
// relative paths since the original compares a bare directory entry name
// against an absolute path and so never actually matches its "root"/
// "fstab" exclusions; see DESIGN.md).
func listImportableDatasets(workDir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(workDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(workDir, p)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		if rel == "fstab" || rel == "config.json" || strings.HasPrefix(rel, "root/") {
			return nil
		}
		if strings.HasSuffix(rel, ".zfs") {
			out = append(out, strings.TrimSuffix(rel, ".zfs"))
		}
		return nil
	})
	return out, err
}

func readJSONMap(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
