package jail

import (
	"context"
	"os"
	"path"
	"strings"

	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/iocerrors"
	"github.com/bsdci/libioc/storage"
)

// storageConfig rebuilds the storage.Config used for dataset renames from
// the jail's own fields, since storage.Backend itself exposes no rename
// operation (only Setup/Apply).
func storageConfig(j *Jail) storage.Config {
	return storage.Config{Client: j.ZFS, JailDataset: j.Dataset, JailRoot: j.Root}
}

// Rename changes a jail's identifier (§4.6.6). It requires the jail to be
// stopped, renames the backing dataset (and its origin snapshot, when it
// belongs to the jail itself) via storage.Config.Rename, then rewrites
// every user fstab line that pointed at the old root.
func (j *Jail) Rename(ctx context.Context, scope *events.Scope, newID string) error {
	if j.Running(ctx) {
		return iocerrors.New(iocerrors.KindJailAlreadyRunning, j.FullName())
	}
	if newID == "" || strings.ContainsAny(newID, "/ \t") {
		return iocerrors.New(iocerrors.KindInvalidJailName, newID)
	}

	e := scope.Begin(events.TypeJailRename, j.FullName())

	oldDataset := j.Dataset
	oldRoot := j.Root
	newDataset := path.Join(path.Dir(oldDataset), newID)

	storageCfg := storageConfig(j)
	if err := storageCfg.Rename(ctx, scope, newDataset); err != nil {
		return scope.Fail(ctx, e, err)
	}

	newRoot := strings.Replace(oldRoot, oldDataset, newDataset, 1)
	j.Fstab.ReplacePath(oldRoot, newRoot)
	if err := j.writeFstab(); err != nil {
		return scope.Fail(ctx, e, err)
	}

	j.ID = newID
	j.Dataset = newDataset
	j.Root = newRoot
	j.Config.Set("host_hostuuid", newID)
	if err := j.Config.Save(); err != nil {
		return scope.Fail(ctx, e, err)
	}

	scope.End(e)
	return nil
}

// writeFstab persists the user-authored lines to "<dataset>/fstab",
// without basejail entries — those are regenerated fresh on every Start.
func (j *Jail) writeFstab() error {
	f, err := os.Create(path.Join(j.Dataset, "fstab"))
	if err != nil {
		return err
	}
	defer f.Close()
	return j.Fstab.WriteTo(f, "", nil)
}
