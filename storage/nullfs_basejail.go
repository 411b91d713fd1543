package storage

import (
	"context"

	"github.com/bsdci/libioc/events"
)

// NullFSBasejail bootstraps like Standalone, then keeps empty mountpoint
// directories for every basedir (plus dev, etc) that the fstab-generated
// basejail lines NullFS-mount from the release snapshot at start (§4.4).
type NullFSBasejail struct {
	Standalone
}

func (n NullFSBasejail) Setup(ctx context.Context, scope *events.Scope, release Release) error {
	if err := n.Standalone.Setup(ctx, scope, release); err != nil {
		return err
	}
	e := scope.Begin(events.TypeJail, n.JailDataset)
	if err := ensureMountpoints(n.JailRoot, release.Basedirs); err != nil {
		return scope.Fail(ctx, e, err)
	}
	scope.End(e)
	return nil
}

// Apply recreates the basedir mountpoint directories; the actual mounts
// are driven by fstab (the Fstab package's generated basejail lines), not
// by this backend (§4.4).
func (n NullFSBasejail) Apply(ctx context.Context, scope *events.Scope, release Release) error {
	e := scope.Begin(events.TypeJail, n.JailDataset)
	if err := ensureMountpoints(n.JailRoot, release.Basedirs); err != nil {
		return scope.Fail(ctx, e, err)
	}
	scope.End(e)
	return nil
}
