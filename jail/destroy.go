package jail

import (
	"context"

	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/iocerrors"
)

// Destroy removes the jail dataset recursively (§4.6.7). If running and
// force is set, it stops first (stop failures are not fatal to the
// destroy — "log-suppressed").
func (j *Jail) Destroy(ctx context.Context, scope *events.Scope, force bool) error {
	if j.Running(ctx) {
		if !force {
			return iocerrors.New(iocerrors.KindJailAlreadyRunning, j.FullName())
		}
		_ = j.Stop(ctx, scope, true)
	}

	e := scope.Begin(events.TypeZFSDatasetDestroy, j.Dataset)
	if err := j.ZFS.Destroy(ctx, j.Dataset, true, force); err != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindJailDestructionFailed, j.FullName(), err))
	}
	scope.End(e)
	return nil
}
