package release

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bsdci/libioc/host"
	"github.com/bsdci/libioc/zfs"
)

// fakeZFSRunner replays canned stdout for "name args..." invocations, the
// same scripting approach zfs's own tests use, duplicated here since that
// helper is unexported.
type fakeZFSRunner struct {
	outputs map[string]string
	calls   []string
}

func (f *fakeZFSRunner) Run(ctx context.Context, in io.Reader, out io.Writer, name string, args ...string) error {
	cmd := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, cmd)
	if text, ok := f.outputs[cmd]; ok && out != nil {
		io.WriteString(out, text)
	}
	return nil
}

func TestParse(t *testing.T) {
	name, patch := Parse("13.2-RELEASE")
	require.Equal(t, "13.2-RELEASE", name)
	require.Nil(t, patch)

	name, patch = Parse("13.2-RELEASE-p4")
	require.Equal(t, "13.2-RELEASE", name)
	require.NotNil(t, patch)
	require.Equal(t, 4, *patch)
}

func TestRealNameAndAssets(t *testing.T) {
	fbsd := Release{Name: "13.2-RELEASE", Distribution: host.DistributionFreeBSD}
	require.Equal(t, "13.2-RELEASE", fbsd.RealName("amd64"))
	require.ElementsMatch(t, []string{"base", "lib32"}, fbsd.Assets())

	hbsd := Release{Name: "13.2-STABLE", Distribution: host.DistributionHardenedBSD}
	require.Equal(t, "HardenedBSD-13.2-STABLE-amd64-LATEST", hbsd.RealName("amd64"))
	require.ElementsMatch(t, []string{"base"}, hbsd.Assets())
}

func TestNewerThanHost(t *testing.T) {
	r := Release{Name: "13.2-RELEASE"}
	require.True(t, r.NewerThanHost("12.4-RELEASE"))
	require.False(t, r.NewerThanHost("14.0-RELEASE"))

	current := Release{Name: "CURRENT"}
	require.True(t, current.NewerThanHost("14.0-RELEASE"))
}

func TestLatestSnapshotCreatesP0WhenNoneExist(t *testing.T) {
	runner := &fakeZFSRunner{outputs: map[string]string{
		"zfs list -H -p -t snapshot -o name -s creation -r zroot/iocage/releases/13.2-RELEASE/root": "",
	}}
	r := Release{
		Name:     "13.2-RELEASE",
		Client:   zfs.NewClientWithRunner(runner),
		Datasets: host.NewRootDatasets("zroot/iocage"),
	}

	snap, err := r.LatestSnapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, "p0", snap.Snapname)

	found := false
	for _, c := range runner.calls {
		if strings.Contains(c, "snapshot") && strings.Contains(c, "@p0") {
			found = true
		}
	}
	require.True(t, found, "expected a zfs snapshot ...@p0 call, got %v", runner.calls)
}

func TestCurrentSnapshotPrefersPinnedPatchlevel(t *testing.T) {
	runner := &fakeZFSRunner{outputs: map[string]string{
		"zfs list -H -p -t snapshot -o name -s creation -r zroot/iocage/releases/13.2-RELEASE/root": "" +
			"zroot/iocage/releases/13.2-RELEASE/root@p0\n" +
			"zroot/iocage/releases/13.2-RELEASE/root@p1\n" +
			"zroot/iocage/releases/13.2-RELEASE/root@p2\n",
	}}
	patch := 1
	r := Release{
		Name:       "13.2-RELEASE",
		Patchlevel: &patch,
		Client:     zfs.NewClientWithRunner(runner),
		Datasets:   host.NewRootDatasets("zroot/iocage"),
	}

	snap, err := r.CurrentSnapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, "p1", snap.Snapname)
}

func TestToStorageReleaseProjectsFields(t *testing.T) {
	runner := &fakeZFSRunner{outputs: map[string]string{
		"zfs list -H -p -t snapshot -o name -s creation -r zroot/iocage/releases/13.2-RELEASE/root": "zroot/iocage/releases/13.2-RELEASE/root@p0\n",
	}}
	r := Release{
		Name:     "13.2-RELEASE",
		Client:   zfs.NewClientWithRunner(runner),
		Datasets: host.NewRootDatasets("zroot/iocage"),
		Basedirs: []string{"bin", "usr/bin"},
	}

	sr, err := r.ToStorageRelease(context.Background())
	require.NoError(t, err)
	require.Equal(t, "13.2-RELEASE", sr.Name)
	require.Equal(t, "zroot/iocage/releases/13.2-RELEASE/root", sr.RootDataset)
	require.Equal(t, "zroot/iocage/releases/13.2-RELEASE/root@p0", sr.LatestSnapshot)
	require.Equal(t, "zroot/iocage/base/13.2-RELEASE", sr.BaseDataset)
}
