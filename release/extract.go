package release

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/bsdci/libioc/iocerrors"
)

// extractXzTar extracts an xz-compressed tar archive into destination.
// Every member name (and symlink target) goes through secureJoin, so
// nothing is written outside destination; members whose names hold ".."
// segments or are absolute are not rejected, they are extracted at the
// folded path under destination.
func extractXzTar(archivePath, destination string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	xr, err := xz.NewReader(f)
	if err != nil {
		return err
	}
	tr := tar.NewReader(xr)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := secureJoin(destination, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)|0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)|0600)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		case tar.TypeSymlink:
			linkTarget, err := secureJoin(destination, hdr.Linkname)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(linkTarget, target); err != nil {
				return err
			}
		default:
			// device nodes, hardlinks and the rest extract as plain files
			// would on a non-jailed host; the jail dataset is not mounted
			// with devfs rules applied at this point, so skip them.
		}
	}
}

// secureJoin resolves name against base. Cleaning "/"+name first folds
// ".." climbs and absolute paths back under base, so the result always
// lies inside base and such names are returned without an error.
func secureJoin(base, name string) (string, error) {
	clean := filepath.Clean("/" + name)
	joined := filepath.Join(base, clean)
	if joined != base && !strings.HasPrefix(joined, base+string(filepath.Separator)) {
		return "", iocerrors.New(iocerrors.KindIllegalArchiveContent, name)
	}
	return joined, nil
}
