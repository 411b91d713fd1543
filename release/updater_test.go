package release

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bsdci/libioc/host"
)

func TestNewUpdaterPicksFlavorByDistribution(t *testing.T) {
	fbsd := NewUpdater(Release{Name: "13.2-RELEASE", Distribution: host.DistributionFreeBSD}, nil, t.TempDir())
	require.Equal(t, "freebsd-update", fbsd.flavor.updateName)

	hbsd := NewUpdater(Release{Name: "13.2-STABLE", Distribution: host.DistributionHardenedBSD}, nil, t.TempDir())
	require.Equal(t, "hbsd-update", hbsd.flavor.updateName)
}

func TestAssetURLUsesTrunkBaseURL(t *testing.T) {
	u := NewUpdater(Release{Name: "13.2-RELEASE", Distribution: host.DistributionFreeBSD}, nil, t.TempDir())
	require.Equal(t, "https://svn.freebsd.org/base/release/13.2.0/usr.sbin/freebsd-update/freebsd-update.sh",
		u.assetURL("usr.sbin/freebsd-update/freebsd-update.sh"))
}

func TestAssetURLHandlesEleven0Point1Exception(t *testing.T) {
	u := NewUpdater(Release{Name: "11.0-RELEASE", Distribution: host.DistributionFreeBSD}, nil, t.TempDir())
	require.Equal(t, "https://svn.freebsd.org/base/release/11.0.1/foo", u.assetURL("foo"))
}

func TestRewriteFreeBSDConfigCollapsesComponents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "freebsd-update.conf")
	require.NoError(t, os.WriteFile(path, []byte("KeepModifiedMetadata yes\nComponents world kernel src\nVerboseLevel debug\n"), 0644))

	require.NoError(t, rewriteFreeBSDConfig(path))

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(out), "Components world\n")
	require.NotContains(t, string(out), "kernel src")
}

func TestPatchVersionFromFreeBSDVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", "freebsd-version"), []byte(`VERSION="13.2-RELEASE-p4"
TYPE="FreeBSD"
patch="4"
`), 0644))

	require.Equal(t, 4, patchVersionFromFreeBSDVersion(dir))
}

func TestPatchVersionFromFreeBSDVersionMissingFile(t *testing.T) {
	require.Equal(t, 0, patchVersionFromFreeBSDVersion(t.TempDir()))
}
