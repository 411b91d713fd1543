package storage

import (
	"context"

	"github.com/bsdci/libioc/events"
)

// ZFSBasejail bootstraps like Standalone, with "dev"/"etc" mountpoints,
// then clones each release basedir's own ZFS dataset directly into the
// jail root (instead of NullFS-mounting it), destroying any pre-existing
// child dataset at the target first (§4.4).
type ZFSBasejail struct {
	Standalone
}

func (z ZFSBasejail) Setup(ctx context.Context, scope *events.Scope, release Release) error {
	if err := z.Standalone.Setup(ctx, scope, release); err != nil {
		return err
	}
	e := scope.Begin(events.TypeJail, z.JailDataset)
	if err := ensureMountpoints(z.JailRoot, nil); err != nil {
		return scope.Fail(ctx, e, err)
	}
	scope.End(e)
	return nil
}

// Apply clones "<release base>/<basedir>" into "<jail dataset>/<basedir>"
// for every basedir, destroying any dataset already occupying the target
// (§4.4 "destroying any pre-existing child dataset at the target").
func (z ZFSBasejail) Apply(ctx context.Context, scope *events.Scope, release Release) error {
	e := scope.Begin(events.TypeZFSSnapshotClone, z.JailDataset)
	for _, dir := range release.Basedirs {
		src := release.BaseDataset + "/" + dir + "@latest"
		dest := z.JailDataset + "/" + dir
		if err := z.Client.Clone(ctx, src, dest, nil, true); err != nil {
			return scope.Fail(ctx, e, err)
		}
	}
	scope.End(e)
	return nil
}
