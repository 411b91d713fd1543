package storage

import (
	"context"

	"github.com/bsdci/libioc/events"
)

// Standalone clones release@latest once into the jail root and never
// touches it again (§4.4 "Standalone. setup(release) clones release@latest
// once into <jail>/root. apply() is a no-op").
type Standalone struct {
	Config
}

func (s Standalone) Setup(ctx context.Context, scope *events.Scope, release Release) error {
	e := scope.Begin(events.TypeJailClone, s.JailDataset)
	if err := s.cloneRoot(ctx, release); err != nil {
		return scope.Fail(ctx, e, err)
	}
	scope.End(e)
	return nil
}

// Apply is a no-op for Standalone: the root dataset already holds
// everything the jail needs.
func (s Standalone) Apply(ctx context.Context, scope *events.Scope, release Release) error {
	e := scope.Begin(events.TypeJail, s.JailDataset)
	scope.Skip(e, "standalone storage has nothing to reapply")
	return nil
}
