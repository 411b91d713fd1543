package release

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func writeXzTar(t *testing.T, dest string, entries map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(xw)
	for name, body := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0644,
			Size: int64(len(body)),
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, xw.Close())
	require.NoError(t, os.WriteFile(dest, buf.Bytes(), 0644))
}

func TestExtractXzTarWritesFiles(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "base.txz")
	writeXzTar(t, archive, map[string]string{
		"./etc/rc.conf": "sendmail_enable=\"NO\"\n",
	})

	dest := t.TempDir()
	require.NoError(t, extractXzTar(archive, dest))

	body, err := os.ReadFile(filepath.Join(dest, "etc", "rc.conf"))
	require.NoError(t, err)
	require.Equal(t, "sendmail_enable=\"NO\"\n", string(body))
}

func TestExtractXzTarContainsPathTraversal(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.txz")
	writeXzTar(t, archive, map[string]string{
		"../../etc/passwd": "pwned",
	})

	dest := t.TempDir()
	require.NoError(t, extractXzTar(archive, dest))

	// the rooting trick in secureJoin folds ".." climbs back under dest
	// rather than letting them escape it.
	body, err := os.ReadFile(filepath.Join(dest, "etc", "passwd"))
	require.NoError(t, err)
	require.Equal(t, "pwned", string(body))

	_, err = os.Stat(filepath.Join(filepath.Dir(dest), "etc", "passwd"))
	require.True(t, os.IsNotExist(err))
}

func TestSecureJoinContainsEscapeAttempts(t *testing.T) {
	p, err := secureJoin("/tmp/release-root", "../../etc/passwd")
	require.NoError(t, err)
	require.Equal(t, "/tmp/release-root/etc/passwd", p)

	p, err = secureJoin("/tmp/release-root", "./usr/bin/true")
	require.NoError(t, err)
	require.Equal(t, "/tmp/release-root/usr/bin/true", p)
}
