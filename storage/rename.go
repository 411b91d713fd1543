package storage

import (
	"context"
	"strings"

	"github.com/bsdci/libioc/events"
)

// Rename renames the jail dataset and, if the root dataset is a clone, its
// origin snapshot, yielding ZFSDatasetRename and ZFSSnapshotRename events;
// shared by every backend since all three rename identically (§4.4 "All
// backends share a rename generator yielding ZFSDatasetRename and
// ZFSSnapshotRename events").
func (c Config) Rename(ctx context.Context, scope *events.Scope, newDataset string) error {
	e := scope.Begin(events.TypeZFSDatasetRename, c.JailDataset)

	origin, hasOrigin := "", false
	if ds, err := c.Client.Get(ctx, c.rootDataset()); err == nil && ds.Origin != "" && ds.Origin != "-" {
		origin = ds.Origin
		hasOrigin = true
	}

	if err := c.Client.Rename(ctx, c.JailDataset, newDataset); err != nil {
		return scope.Fail(ctx, e, err)
	}
	scope.End(e)

	if hasOrigin {
		se := scope.Begin(events.TypeZFSSnapshotRename, origin)
		newOrigin := renamedSnapshot(origin, c.JailDataset, newDataset)
		if newOrigin != origin {
			if err := c.Client.Rename(ctx, origin, newOrigin); err != nil {
				return scope.Fail(ctx, se, err)
			}
		}
		scope.End(se)
	}

	return nil
}

// renamedSnapshot rewrites an origin snapshot's dataset component when it
// lives under the jail dataset being renamed (an origin snapshot taken on
// the jail's own root, as opposed to a release's), leaving a release
// origin snapshot untouched.
func renamedSnapshot(origin, oldDataset, newDataset string) string {
	idx := strings.Index(origin, "@")
	if idx < 0 {
		return origin
	}
	ds, snap := origin[:idx], origin[idx:]
	if !strings.HasPrefix(ds, oldDataset) {
		return origin
	}
	return newDataset + strings.TrimPrefix(ds, oldDataset) + snap
}
