package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/fstab"
	"github.com/bsdci/libioc/jail"
	"github.com/bsdci/libioc/zfs"
)

// fakeZFSRunner replays canned stdout for "name args..." invocations, the
// same scripting approach release_test.go uses, plus a set of commands to
// fail (simulating e.g. "dataset does not exist").
type fakeZFSRunner struct {
	outputs map[string]string
	fail    map[string]bool
	calls   []string
}

func (f *fakeZFSRunner) Run(ctx context.Context, in io.Reader, out io.Writer, name string, args ...string) error {
	cmd := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, cmd)
	if f.fail[cmd] {
		return errors.New("dataset does not exist")
	}
	if text, ok := f.outputs[cmd]; ok && out != nil {
		io.WriteString(out, text)
	}
	return nil
}

func newCollectingScope() (*events.Scope, func() []*events.Event) {
	var all []*events.Event
	scope := events.NewScope(events.EmitterFunc(func(e *events.Event) {
		all = append(all, e)
	}))
	return scope, func() []*events.Event { return all }
}

func newTestJail(zfsClient *zfs.Client, dataset, root string) *jail.Jail {
	return &jail.Jail{
		ID:      "test01",
		Dataset: dataset,
		Root:    root,
		ZFS:     zfsClient,
		Fstab:   fstab.New(root),
	}
}

func TestParseFormat(t *testing.T) {
	dir := t.TempDir()
	format, err := ParseFormat(dir)
	require.NoError(t, err)
	require.Equal(t, FormatDirectory, format)

	tgz := filepath.Join(dir, "backup.tar.gz")
	require.NoError(t, os.WriteFile(tgz, []byte("x"), 0644))
	format, err = ParseFormat(tgz)
	require.NoError(t, err)
	require.Equal(t, FormatTAR, format)

	txz := filepath.Join(dir, "backup.txz")
	require.NoError(t, os.WriteFile(txz, []byte("x"), 0644))
	format, err = ParseFormat(txz)
	require.NoError(t, err)
	require.Equal(t, FormatTAR, format)

	unknown := filepath.Join(dir, "backup.zip")
	require.NoError(t, os.WriteFile(unknown, []byte("x"), 0644))
	_, err = ParseFormat(unknown)
	require.Error(t, err)

	_, err = ParseFormat(filepath.Join(dir, "does-not-exist"))
	require.Error(t, err)
}

func TestLockRejectsSecondAttempt(t *testing.T) {
	b := &Backup{Jail: newTestJail(zfs.NewClientWithRunner(&fakeZFSRunner{}), "zroot/iocage/jails/test01", t.TempDir())}

	require.NoError(t, b.lock("", FormatTAR))
	require.True(t, b.locked)

	err := b.lock("", FormatTAR)
	require.Error(t, err)

	b.unlock(FormatTAR)
	require.False(t, b.locked)
	require.NoError(t, b.lock("", FormatTAR))
}

func TestLockDirectoryRejectsExistingDestination(t *testing.T) {
	b := &Backup{Jail: newTestJail(zfs.NewClientWithRunner(&fakeZFSRunner{}), "zroot/iocage/jails/test01", t.TempDir())}

	dest := filepath.Join(t.TempDir(), "already-there")
	require.NoError(t, os.MkdirAll(dest, 0755))

	err := b.lock(dest, FormatDirectory)
	require.Error(t, err)
}

func TestUnlockRemovesTempDirOnlyForTAR(t *testing.T) {
	b := &Backup{Jail: newTestJail(zfs.NewClientWithRunner(&fakeZFSRunner{}), "zroot/iocage/jails/test01", t.TempDir())}

	dest := filepath.Join(t.TempDir(), "dump")
	require.NoError(t, b.lock(dest, FormatDirectory))
	b.unlock(FormatDirectory)
	_, err := os.Stat(dest)
	require.NoError(t, err, "directory-format destination must survive unlock")

	require.NoError(t, b.lock("", FormatTAR))
	tarWorkDir := b.workDir
	b.unlock(FormatTAR)
	_, err = os.Stat(tarWorkDir)
	require.True(t, os.IsNotExist(err), "tar-format scratch dir must be removed on unlock")
}

func TestChildDatasetsLimitsDepthWhenRecursive(t *testing.T) {
	runner := &fakeZFSRunner{outputs: map[string]string{
		"zfs list -H -p -r -o name,type,mountpoint,mounted,origin,used,available -t filesystem zroot/iocage/jails/test01": "" +
			"zroot/iocage/jails/test01\tfilesystem\t/iocage/jails/test01\tyes\t-\t0\t0\n" +
			"zroot/iocage/jails/test01/root\tfilesystem\t/iocage/jails/test01/root\tyes\t-\t0\t0\n" +
			"zroot/iocage/jails/test01/data\tfilesystem\t/iocage/jails/test01/data\tyes\t-\t0\t0\n" +
			"zroot/iocage/jails/test01/data/www\tfilesystem\t/iocage/jails/test01/data/www\tyes\t-\t0\t0\n",
	}}
	b := &Backup{Jail: newTestJail(zfs.NewClientWithRunner(runner), "zroot/iocage/jails/test01", "/iocage/jails/test01/root")}

	shallow, err := b.childDatasets(context.Background(), true)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"root", "data"}, shallow)

	deep, err := b.childDatasets(context.Background(), false)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"root", "data", "data/www"}, deep)
}

func TestEnsureParentDatasetSkipsExistingAncestor(t *testing.T) {
	runner := &fakeZFSRunner{outputs: map[string]string{
		"zfs list -H zroot/iocage/jails/test01/data": "zroot/iocage/jails/test01/data\n",
	}}
	b := &Backup{Jail: newTestJail(zfs.NewClientWithRunner(runner), "zroot/iocage/jails/test01", "/root")}

	// dest's parent ("data") already exists, so no create call should fire,
	// and dest itself ("data/www") is left for Receive to create.
	err := b.ensureParentDataset(context.Background(), "zroot/iocage/jails/test01/data/www")
	require.NoError(t, err)

	for _, c := range runner.calls {
		require.NotContains(t, c, "create")
	}
}

func TestEnsureParentDatasetCreatesMissingAncestor(t *testing.T) {
	runner := &fakeZFSRunner{fail: map[string]bool{
		"zfs list -H zroot/iocage/jails/test01/data": true,
	}}
	b := &Backup{Jail: newTestJail(zfs.NewClientWithRunner(runner), "zroot/iocage/jails/test01", "/root")}

	err := b.ensureParentDataset(context.Background(), "zroot/iocage/jails/test01/data/www")
	require.NoError(t, err)

	found := false
	for _, c := range runner.calls {
		if c == "zfs create -p zroot/iocage/jails/test01/data" {
			found = true
		}
		require.NotContains(t, c, "data/www") // the receive target itself is never created directly
	}
	require.True(t, found, "expected a create call for the missing parent, got %v", runner.calls)
}

func TestListImportableDatasetsSkipsRootAndFixedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fstab"), []byte(""), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "root", "etc"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "root", "etc", "rc.conf"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.zfs"), []byte("stream"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "www.zfs"), []byte("stream"), 0644))

	names, err := listImportableDatasets(dir)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"data", "data/www"}, names)
}

func TestWriteAndRewriteBackupFstabRoundTrip(t *testing.T) {
	jailRoot := "/iocage/jails/test01/root"
	f := fstab.New(jailRoot)
	f.Lines = []fstab.Line{
		fstab.Comment{Text: "hand-authored"},
		fstab.Mount{
			Source:      "/mnt/data",
			Destination: jailRoot + "/mnt/data",
			FSType:      "nullfs",
			Options:     "rw",
		},
		fstab.AutoPlaceholder{},
	}

	var buf strings.Builder
	require.NoError(t, writeBackupFstab(&buf, f, jailRoot))
	require.Contains(t, buf.String(), "backup:///mnt/data")
	require.Contains(t, buf.String(), "# iocage-auto")
	require.NotContains(t, buf.String(), "nullfs\tro") // no generated basejail lines injected

	newRoot := "/iocage/jails/test02/root"
	imported, err := fstab.Parse(strings.NewReader(buf.String()), newRoot)
	require.NoError(t, err)
	rewriteImportedFstab(imported, newRoot)

	var mount fstab.Mount
	found := false
	for _, l := range imported.Lines {
		if m, ok := l.(fstab.Mount); ok {
			mount = m
			found = true
		}
	}
	require.True(t, found)
	require.Equal(t, newRoot+"/mnt/data", mount.Destination)
}

func TestBundleAndExtractBundleRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "root", "etc"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "root", "etc", "rc.conf"), []byte("hostname=test\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "config.json"), []byte(`{"id":"test01"}`), 0644))

	b := &Backup{Jail: newTestJail(zfs.NewClientWithRunner(&fakeZFSRunner{}), "zroot/iocage/jails/test01", "/root")}
	b.workDir = src

	scope, events := newCollectingScope()
	dest := filepath.Join(t.TempDir(), "test01.tar.gz")
	require.NoError(t, b.bundle(context.Background(), scope, dest))
	require.NotEmpty(t, events())

	b2 := &Backup{Jail: newTestJail(zfs.NewClientWithRunner(&fakeZFSRunner{}), "zroot/iocage/jails/test01", "/root")}
	b2.workDir = t.TempDir()
	scope2, _ := newCollectingScope()
	require.NoError(t, b2.extractBundle(context.Background(), scope2, dest))

	body, err := os.ReadFile(filepath.Join(b2.workDir, "root", "etc", "rc.conf"))
	require.NoError(t, err)
	require.Equal(t, "hostname=test\n", string(body))

	configBody, err := os.ReadFile(filepath.Join(b2.workDir, "config.json"))
	require.NoError(t, err)
	require.Equal(t, `{"id":"test01"}`, string(configBody))
}

func TestSecureJoinContainsEscapeAttempts(t *testing.T) {
	p, err := secureJoin("/tmp/workdir", "../../etc/passwd")
	require.NoError(t, err)
	require.Equal(t, "/tmp/workdir/etc/passwd", p)
}
