package fstab

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bsdci/libioc/iocerrors"
	"github.com/stretchr/testify/require"
)

func TestParseCollapsesAutoSentinelAndDropsDuplicates(t *testing.T) {
	input := strings.Join([]string{
		"# iocage-auto",
		"# iocage-auto",
		"/mnt/data /jail/data nullfs rw 0 0",
		"# a plain comment",
	}, "\n")

	f, err := Parse(strings.NewReader(input), "/jail")
	require.NoError(t, err)
	require.Len(t, f.Lines, 3)
	require.IsType(t, AutoPlaceholder{}, f.Lines[0])
	require.Equal(t, Mount{Source: "/mnt/data", Destination: "/jail/data", FSType: "nullfs", Options: "rw"}, f.Lines[1])
	require.Equal(t, Comment{Text: "a plain comment"}, f.Lines[2])
}

func TestParseRejectsShortLines(t *testing.T) {
	_, err := Parse(strings.NewReader("/mnt/data /jail/data nullfs"), "/jail")
	require.Error(t, err)
	require.True(t, iocerrors.Of(err, iocerrors.KindVirtualFstabLineHasNoRealIndex))
}

func TestParseHandlesEscapedSpacesAndInlineComments(t *testing.T) {
	f, err := Parse(strings.NewReader(`/mnt/my\ data /jail/my\ data nullfs ro 0 0 # keep me`), "/jail")
	require.NoError(t, err)
	require.Len(t, f.Lines, 1)
	m := f.Lines[0].(Mount)
	require.Equal(t, "/jail/my data", m.Destination)
	require.Equal(t, "keep me", m.Comment)
}

func TestRenderInsertsGeneratedLinesAtPlaceholder(t *testing.T) {
	input := "/mnt/data /jail/data nullfs rw 0 0\n# iocage-auto\n"
	f, err := Parse(strings.NewReader(input), "/jail")
	require.NoError(t, err)

	mounts := f.Render("zroot/releases/13.2-RELEASE/root", []string{"bin", "lib"})
	require.Len(t, mounts, 4) // user line + bin + lib + maintenance
	require.Equal(t, "/jail/data", mounts[0].Destination)
	require.Equal(t, "zroot/releases/13.2-RELEASE/root/bin", mounts[1].Source)
	require.Equal(t, "/jail/.iocage", mounts[3].Destination)
}

func TestRenderPrependsGeneratedLinesWhenNoPlaceholder(t *testing.T) {
	f := New("/jail")
	require.NoError(t, f.AddLine(Mount{Destination: "/data", Source: "/mnt/data", FSType: "nullfs"}, false))

	mounts := f.Render("", nil)
	require.Len(t, mounts, 2) // maintenance line only (no basedirs) + user line
	require.Equal(t, "/jail/.iocage", mounts[0].Destination)
	require.Equal(t, "/jail/data", mounts[1].Destination)
}

func TestWriteToRoundTripsThroughParse(t *testing.T) {
	f := New("/jail")
	require.NoError(t, f.AddLine(Mount{Destination: "/data", Source: "/mnt/data", FSType: "nullfs", Options: "rw"}, false))
	f.Lines = append(f.Lines, Comment{Text: "note"})

	var buf bytes.Buffer
	require.NoError(t, f.WriteTo(&buf, "zroot/releases/13.2-RELEASE/root", []string{"bin"}))

	f2, err := Parse(&buf, "/jail")
	require.NoError(t, err)

	var found bool
	for _, l := range f2.Lines {
		if m, ok := l.(Mount); ok && m.Destination == "/jail/data" {
			found = true
		}
	}
	require.True(t, found)
}

func TestAddLineRejectsDuplicateDestination(t *testing.T) {
	f := New("/jail")
	require.NoError(t, f.AddLine(Mount{Destination: "/data", Source: "/mnt/a"}, false))
	err := f.AddLine(Mount{Destination: "/data", Source: "/mnt/b"}, false)
	require.Error(t, err)
	require.True(t, iocerrors.Of(err, iocerrors.KindFstabDestinationExists))
}

func TestAddLinePrefixesRelativeDestinationWithJailRoot(t *testing.T) {
	f := New("/jail")
	require.NoError(t, f.AddLine(Mount{Destination: "data", Source: "/mnt/a"}, false))
	m := f.Lines[0].(Mount)
	require.Equal(t, "/jail/data", m.Destination)
}

type fakeMounter struct {
	mounted   []Mount
	unmounted []string
}

func (m *fakeMounter) Mount(mount Mount) error {
	m.mounted = append(m.mounted, mount)
	return nil
}

func (m *fakeMounter) Unmount(destination string) error {
	m.unmounted = append(m.unmounted, destination)
	return nil
}

func TestAddLineMountsImmediatelyWhenRunningAndAutoMountJail(t *testing.T) {
	f := New("/jail")
	mounter := &fakeMounter{}
	f.Mounter = mounter

	require.NoError(t, f.AddLine(Mount{Destination: "/data", Source: "/mnt/a"}, true))
	require.Len(t, mounter.mounted, 1)
}

func TestAddLineDoesNotMountWhenAutoMountJailFalse(t *testing.T) {
	f := New("/jail")
	mounter := &fakeMounter{}
	f.Mounter = mounter

	require.NoError(t, f.AddLine(Mount{Destination: "/data", Source: "/mnt/a"}, false))
	require.Empty(t, mounter.mounted)
}

func TestRemoveByDestinationUnmountsAndDeletes(t *testing.T) {
	f := New("/jail")
	mounter := &fakeMounter{}
	require.NoError(t, f.AddLine(Mount{Destination: "/data", Source: "/mnt/a"}, false))
	f.Mounter = mounter

	require.NoError(t, f.RemoveByDestination("/data"))
	require.Empty(t, f.Lines)
	require.Equal(t, []string{"/jail/data"}, mounter.unmounted)
}

func TestRemoveByDestinationUnknownReturnsError(t *testing.T) {
	f := New("/jail")
	err := f.RemoveByDestination("/nope")
	require.Error(t, err)
	require.True(t, iocerrors.Of(err, iocerrors.KindVirtualFstabLineHasNoRealIndex))
}

func TestReplacePathRewritesUserSourcesOnly(t *testing.T) {
	f := New("/jail")
	require.NoError(t, f.AddLine(Mount{Destination: "/data", Source: "/jail/data"}, false))
	f.Lines = append(f.Lines, Comment{Text: "unaffected"})

	f.ReplacePath("/jail", BackupURIPrefix)

	m := f.Lines[0].(Mount)
	require.Equal(t, "backup:///data", m.Source)
}
