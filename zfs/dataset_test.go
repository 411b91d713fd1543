package zfs

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// scriptedRunner replays canned stdout per "name args..." invocation and
// records every call, so dataset.go's command construction can be checked
// without touching a real zpool.
type scriptedRunner struct {
	calls   []string
	outputs map[string]string
}

func (r *scriptedRunner) Run(ctx context.Context, in io.Reader, out io.Writer, name string, args ...string) error {
	cmd := name + " " + strings.Join(args, " ")
	r.calls = append(r.calls, cmd)
	if in != nil {
		io.Copy(io.Discard, in)
	}
	if text, ok := r.outputs[cmd]; ok && out != nil {
		io.WriteString(out, text)
	}
	return nil
}

func TestClientGet(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]string{
		"zfs list -H -p -o name,type,mountpoint,mounted,origin,used,available zroot/iocage/jails/web": "zroot/iocage/jails/web\tfilesystem\t/iocage/jails/web\tyes\t-\t12345\t67890\n",
	}}
	c := NewClientWithRunner(r)

	ds, err := c.Get(context.Background(), "zroot/iocage/jails/web")
	require.NoError(t, err)
	require.Equal(t, "zroot/iocage/jails/web", ds.Name)
	require.Equal(t, TypeFilesystem, ds.Type)
	require.True(t, ds.Mounted)
	require.EqualValues(t, 12345, ds.Used)
}

func TestClientCloneDestroysExistingWhenRequested(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]string{
		"zfs list -H zroot/iocage/jails/web/root": "zroot/iocage/jails/web/root\n",
	}}
	c := NewClientWithRunner(r)

	err := c.Clone(context.Background(), "zroot/iocage/releases/13.2/root@p0", "zroot/iocage/jails/web/root", nil, true)
	require.NoError(t, err)
	require.Contains(t, r.calls, "zfs destroy -r -f zroot/iocage/jails/web/root")
	require.Contains(t, r.calls, "zfs clone -p zroot/iocage/releases/13.2/root@p0 zroot/iocage/jails/web/root")
}

func TestClientSnapshotsFiltersToDataset(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]string{
		"zfs list -H -p -t snapshot -o name -s creation -r zroot/iocage/jails/web": "zroot/iocage/jails/web@p0\nzroot/iocage/jails/web@p1\n",
	}}
	c := NewClientWithRunner(r)

	snaps, err := c.Snapshots(context.Background(), "zroot/iocage/jails/web")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, "p1", snaps[1].Snapname)
}

func TestClientSendReceiveStreamThroughRunner(t *testing.T) {
	r := &scriptedRunner{}
	c := NewClientWithRunner(r)

	var buf bytes.Buffer
	require.NoError(t, c.Send(context.Background(), "zroot/iocage/jails/web@backup-1", &buf, false))
	require.Contains(t, r.calls, "zfs send zroot/iocage/jails/web@backup-1")

	require.NoError(t, c.Receive(context.Background(), "zroot/iocage/jails/web2", strings.NewReader("stream"), true))
	require.Contains(t, r.calls, "zfs receive -F zroot/iocage/jails/web2")
}
