// SPDX-License-Identifier: BSD-2-Clause

// Package events implements the typed event tree (component I): every
// lifecycle/release/backup operation reports progress and failure through
// a stream of *Event values instead of a single terminal error, so a caller
// can render progress and so failures can drive rollback.
package events

import (
	"context"
	"time"

	multierror "github.com/hashicorp/go-multierror"
)

// Type names one node of the event tree (§3.1, §4.9).
type Type string

const (
	TypeJail                Type = "jail"
	TypeJailLaunch           Type = "jail_launch"
	TypeJailDestroy          Type = "jail_destroy"
	TypeJailDependantsStart  Type = "jail_dependants_start"
	TypeJailFstabUpdate      Type = "jail_fstab_update"
	TypeJailClone            Type = "jail_clone"
	TypeJailRename           Type = "jail_rename"
	TypeJailProvisioning     Type = "jail_provisioning"
	TypeRelease              Type = "release"
	TypeFetchRelease         Type = "fetch_release"
	TypeReleaseDownload      Type = "release_download"
	TypeReleaseExtraction    Type = "release_extraction"
	TypeReleaseUpdatePull    Type = "release_update_pull"
	TypeReleaseUpdateDownload Type = "release_update_download"
	TypeResourceBackup       Type = "resource_backup"
	TypeExportConfig         Type = "export_config"
	TypeExportFstab          Type = "export_fstab"
	TypeExportRootDataset    Type = "export_root_dataset"
	TypeExportOtherDatasets  Type = "export_other_datasets"
	TypeImportConfig         Type = "import_config"
	TypeImportFstab          Type = "import_fstab"
	TypeImportRootDataset    Type = "import_root_dataset"
	TypeImportOtherDatasets  Type = "import_other_datasets"
	TypeBundleBackup         Type = "bundle_backup"
	TypeExtractBundle        Type = "extract_bundle"
	TypeZFSDatasetRename     Type = "zfs_dataset_rename"
	TypeZFSDatasetDestroy    Type = "zfs_dataset_destroy"
	TypeZFSSnapshotRename    Type = "zfs_snapshot_rename"
	TypeZFSSnapshotClone     Type = "zfs_snapshot_clone"
	TypeZFSSnapshotRollback  Type = "zfs_snapshot_rollback"
	TypeTeardownSystemMounts Type = "teardown_system_mounts"
	TypePkg                  Type = "pkg"
)

// RollbackStep is a registered compensating action. It receives an Emitter
// so that rollback actions which themselves raise events (e.g. destroying
// an epair, deleting a dataset) can surface their own sub-events.
type RollbackStep func(ctx context.Context, emit Emitter) error

// Event is one node in the lifecycle event tree (§3.1).
type Event struct {
	Type          Type
	Identifier    string
	Pending       bool
	Done          bool
	Skipped       bool
	Error         error
	Message       string
	StartedAt     time.Time
	StoppedAt     time.Time
	ParentCount   int
	rollbackSteps []RollbackStep
	children      []*Event
}

// Duration reports how long the event ran; zero if it hasn't ended.
func (e *Event) Duration() time.Duration {
	if e.StoppedAt.IsZero() || e.StartedAt.IsZero() {
		return 0
	}
	return e.StoppedAt.Sub(e.StartedAt)
}

// AddRollbackStep registers fn to run, in LIFO order, if this event later
// fails; failing another event does not run it (§3.2 invariant 5, §9 "rollback fires in reverse
// registration order").
func (e *Event) AddRollbackStep(fn RollbackStep) {
	e.rollbackSteps = append(e.rollbackSteps, fn)
}

// Emitter receives events as an operation progresses. Collect and Stream
// below are the two standard implementations (§9 "lazy sequence" /
// "synchronous wrapper that collects to a list").
type Emitter interface {
	Emit(e *Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(e *Event)

func (f EmitterFunc) Emit(e *Event) { f(e) }

// Scope is a shared nesting context: it tracks how many events are
// currently pending so nested operations can report ParentCount, and it
// owns the Emitter every nested Begin/Step/End call reports through.
type Scope struct {
	Emitter     Emitter
	pendingCount int
}

// NewScope returns a Scope reporting through emit.
func NewScope(emit Emitter) *Scope {
	return &Scope{Emitter: emit}
}

// Begin starts a new event of the given type/identifier, nested under the
// scope's current pending count, and emits it as pending.
func (s *Scope) Begin(typ Type, identifier string) *Event {
	s.pendingCount++
	e := &Event{
		Type:        typ,
		Identifier:  identifier,
		Pending:     true,
		StartedAt:   now(),
		ParentCount: s.pendingCount - 1,
	}
	s.Emitter.Emit(e)
	return e
}

// Step re-emits e as still-pending with an updated message, for
// long-running operations that want to report intermediate progress.
func (s *Scope) Step(e *Event, message string) {
	e.Message = message
	s.Emitter.Emit(e)
}

// End marks e done and emits the terminal state.
func (s *Scope) End(e *Event) {
	e.Pending = false
	e.Done = true
	e.StoppedAt = now()
	s.pendingCount--
	s.Emitter.Emit(e)
}

// Skip marks e skipped (used for e.g. a no-op Storage.apply, §4.4) without
// running its rollback steps.
func (s *Scope) Skip(e *Event, reason string) {
	e.Pending = false
	e.Skipped = true
	e.Message = reason
	e.StoppedAt = now()
	s.pendingCount--
	s.Emitter.Emit(e)
}

// Fail marks e failed with err, then runs every rollback step registered on
// e in reverse order, accumulating (not aborting on) rollback errors, and
// returns a combined error. This implements §3.2 invariant 5 and the
// propagation policy of §7: "errors during rollback are logged but do not
// stop other rollback steps".
func (s *Scope) Fail(ctx context.Context, e *Event, err error) error {
	e.Pending = false
	e.Error = err
	e.StoppedAt = now()
	s.pendingCount--
	s.Emitter.Emit(e)

	var result *multierror.Error
	result = multierror.Append(result, err)

	for i := len(e.rollbackSteps) - 1; i >= 0; i-- {
		step := e.rollbackSteps[i]
		if rerr := step(ctx, s.Emitter); rerr != nil {
			result = multierror.Append(result, rerr)
		}
	}

	return result.ErrorOrNil()
}

// now is a var so tests can freeze time deterministically.
var now = time.Now

// Collect runs fn against a Scope whose Emitter appends every event to a
// slice, and returns that slice alongside fn's error. This is the
// "synchronous wrapper" of §4.9/§9 for callers who don't want to stream.
func Collect(fn func(scope *Scope) error) ([]*Event, error) {
	var all []*Event
	scope := NewScope(EmitterFunc(func(e *Event) {
		all = append(all, e)
	}))
	err := fn(scope)
	return all, err
}

// Stream runs fn in a goroutine and returns a channel of events, closed
// when fn returns; the final error is sent on errc. This is the lazy
// sequence a caller can range over to render progress incrementally.
func Stream(fn func(scope *Scope) error) (<-chan *Event, <-chan error) {
	ch := make(chan *Event)
	errc := make(chan error, 1)
	scope := NewScope(EmitterFunc(func(e *Event) {
		ch <- e
	}))
	go func() {
		defer close(ch)
		errc <- fn(scope)
		close(errc)
	}()
	return ch, errc
}
