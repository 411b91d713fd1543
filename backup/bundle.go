package backup

import (
	"archive/tar"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"

	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/iocerrors"
)

// bundle tars b.workDir into destination as a gzip-compressed archive
// (§4.8 "when backup_format=TAR ... tarred to the destination"). No
// third-party tar library exists anywhere in the retrieval pack, so the
// archive layer itself is stdlib archive/tar (see DESIGN.md); the gzip
// layer uses klauspost/pgzip for parallel compression of what can be a
// multi-gigabyte root dataset dump.
func (b *Backup) bundle(ctx context.Context, scope *events.Scope, destination string) error {
	e := scope.Begin(events.TypeBundleBackup, b.Jail.ID)

	f, err := os.Create(destination)
	if err != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, destination, err))
	}
	defer f.Close()

	gw := pgzip.NewWriter(f)
	tw := tar.NewWriter(gw)

	walkErr := filepath.WalkDir(b.workDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(b.workDir, p)
		if rerr != nil {
			return rerr
		}
		if rel == "." {
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		hdr, herr := tar.FileInfoHeader(info, "")
		if herr != nil {
			return herr
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		file, oerr := os.Open(p)
		if oerr != nil {
			return oerr
		}
		defer file.Close()
		_, cerr := io.Copy(tw, file)
		return cerr
	})

	if walkErr == nil {
		walkErr = tw.Close()
	}
	if walkErr == nil {
		walkErr = gw.Close()
	}
	if walkErr != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, destination, walkErr))
	}

	scope.End(e)
	return nil
}

// extractBundle unpacks source (a gzip-compressed tar built by bundle) into
// b.workDir (§4.8, ResourceBackup.py's _extract_bundle).
func (b *Backup) extractBundle(ctx context.Context, scope *events.Scope, source string) error {
	e := scope.Begin(events.TypeExtractBundle, source)

	f, err := os.Open(source)
	if err != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, source, err))
	}
	defer f.Close()

	gr, err := pgzip.NewReader(f)
	if err != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindIllegalArchiveContent, source, err))
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, terr := tr.Next()
		if terr == io.EOF {
			break
		}
		if terr != nil {
			return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindIllegalArchiveContent, source, terr))
		}

		target, jerr := secureJoin(b.workDir, hdr.Name)
		if jerr != nil {
			return scope.Fail(ctx, e, jerr)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)|0700); err != nil {
				return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, target, err))
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, target, err))
			}
			out, oerr := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)|0600)
			if oerr != nil {
				return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, target, oerr))
			}
			if _, cerr := io.Copy(out, tr); cerr != nil {
				out.Close()
				return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, target, cerr))
			}
			out.Close()
		case tar.TypeSymlink:
			linkTarget, lerr := secureJoin(b.workDir, hdr.Linkname)
			if lerr != nil {
				return scope.Fail(ctx, e, lerr)
			}
			os.Remove(target)
			if err := os.Symlink(linkTarget, target); err != nil {
				return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindCommandFailure, target, err))
			}
		default:
			// directories/regular files/symlinks are the only entries
			// bundle() ever writes; anything else is ignored.
		}
	}

	scope.End(e)
	return nil
}

// secureJoin mirrors release.secureJoin's rooting trick (see DESIGN.md):
// Clean("/"+name) before Join forces any ".." climb back under base,
// so extraction can never write outside b.workDir regardless of archive
// content. Duplicated locally rather than exported from release to avoid
// a release<->backup coupling for one helper.
func secureJoin(base, name string) (string, error) {
	clean := filepath.Clean(string(filepath.Separator) + name)
	joined := filepath.Join(base, clean)
	if joined != base && !strings.HasPrefix(joined, base+string(filepath.Separator)) {
		return "", iocerrors.New(iocerrors.KindIllegalArchiveContent, name)
	}
	return joined, nil
}
