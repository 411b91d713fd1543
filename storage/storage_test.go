package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/zfs"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct{ calls []string }

func (f *fakeRunner) Run(ctx context.Context, in io.Reader, out io.Writer, name string, args ...string) error {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	if in != nil {
		io.Copy(io.Discard, in)
	}
	return nil
}

func newConfig(t *testing.T, runner *fakeRunner) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Client:      zfs.NewClientWithRunner(runner),
		JailDataset: "zroot/iocage/jails/web",
		JailRoot:    filepath.Join(dir, "root"),
	}
}

func TestStandaloneSetupClonesRootOnce(t *testing.T) {
	runner := &fakeRunner{}
	cfg := newConfig(t, runner)
	s := Standalone{Config: cfg}

	release := Release{Name: "13.2-RELEASE", LatestSnapshot: "zroot/iocage/releases/13.2-RELEASE/root@p0"}
	evs, err := events.Collect(func(scope *events.Scope) error {
		return s.Setup(context.Background(), scope, release)
	})
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	require.Contains(t, runner.calls[len(runner.calls)-1], "clone -p zroot/iocage/releases/13.2-RELEASE/root@p0 zroot/iocage/jails/web/root")
}

func TestStandaloneSetupFailsWithoutFetchedRelease(t *testing.T) {
	runner := &fakeRunner{}
	cfg := newConfig(t, runner)
	s := Standalone{Config: cfg}

	_, err := events.Collect(func(scope *events.Scope) error {
		return s.Setup(context.Background(), scope, Release{Name: "13.2-RELEASE"})
	})
	require.Error(t, err)
}

func TestNullFSBasejailSetupCreatesMountpoints(t *testing.T) {
	runner := &fakeRunner{}
	cfg := newConfig(t, runner)
	n := NullFSBasejail{Standalone: Standalone{Config: cfg}}

	release := Release{
		Name:           "13.2-RELEASE",
		LatestSnapshot: "zroot/iocage/releases/13.2-RELEASE/root@p0",
		Basedirs:       []string{"bin", "usr/bin"},
	}
	_, err := events.Collect(func(scope *events.Scope) error {
		return n.Setup(context.Background(), scope, release)
	})
	require.NoError(t, err)

	for _, dir := range append(release.Basedirs, "dev", "etc") {
		fi, statErr := os.Stat(filepath.Join(cfg.JailRoot, dir))
		require.NoError(t, statErr)
		require.True(t, fi.IsDir())
	}
}

func TestZFSBasejailApplyClonesEachBasedirAndDestroysExisting(t *testing.T) {
	runner := &fakeRunner{}
	cfg := newConfig(t, runner)
	z := ZFSBasejail{Standalone: Standalone{Config: cfg}}

	release := Release{
		BaseDataset: "zroot/iocage/base/13.2-RELEASE",
		Basedirs:    []string{"bin", "usr/bin"},
	}
	_, err := events.Collect(func(scope *events.Scope) error {
		return z.Apply(context.Background(), scope, release)
	})
	require.NoError(t, err)

	joined := strings.Join(runner.calls, "\n")
	require.Contains(t, joined, "clone -p zroot/iocage/base/13.2-RELEASE/bin@latest zroot/iocage/jails/web/bin")
	require.Contains(t, joined, "clone -p zroot/iocage/base/13.2-RELEASE/usr/bin@latest zroot/iocage/jails/web/usr/bin")
}

func TestConfigRenameRenamesDataset(t *testing.T) {
	runner := &fakeRunner{}
	cfg := newConfig(t, runner)
	cfg.Client = zfs.NewClientWithRunner(runner)

	_, err := events.Collect(func(scope *events.Scope) error {
		return cfg.Rename(context.Background(), scope, "zroot/iocage/jails/web2")
	})
	require.NoError(t, err)
	require.Contains(t, runner.calls, "rename zroot/iocage/jails/web zroot/iocage/jails/web2")
}

func TestAttachDetachCommands(t *testing.T) {
	attach := AttachCommands(42, []string{"zroot/data/web"})
	require.Equal(t, []string{"zfs jail 42 zroot/data/web"}, attach)

	detach := DetachCommands(42, []string{"zroot/data/web"})
	require.Equal(t, []string{"zfs unjail 42 zroot/data/web"}, detach)
}
