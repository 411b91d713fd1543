package fstab

import (
	"path"
	"strings"

	"github.com/bsdci/libioc/iocerrors"
)

// destinations returns every Mount destination currently in Lines, for the
// uniqueness check AddLine enforces.
func (f *Fstab) destinations() map[string]bool {
	out := map[string]bool{}
	for _, l := range f.Lines {
		if m, ok := l.(Mount); ok {
			out[m.Destination] = true
		}
	}
	return out
}

// AddLine appends m, auto-prefixing a relative destination with JailRoot
// and rejecting a duplicate destination (§4.3 "enforces uniqueness by
// destination"). If the jail is running (a Mounter is bound) and
// autoMountJail is true, the entry is mounted immediately via mount(8).
func (f *Fstab) AddLine(m Mount, autoMountJail bool) error {
	if !path.IsAbs(m.Destination) {
		m.Destination = f.JailRoot + "/" + strings.TrimPrefix(m.Destination, "/")
	}
	if f.destinations()[m.Destination] {
		return iocerrors.New(iocerrors.KindFstabDestinationExists, m.Destination)
	}
	f.Lines = append(f.Lines, m)

	if autoMountJail && f.Mounter != nil {
		if err := f.Mounter.Mount(m); err != nil {
			return err
		}
	}
	return nil
}

// RemoveByDestination deletes the line mounted at destination. If the jail
// is running (a Mounter is bound), the destination is forcibly unmounted
// first (§4.3 "__delitem__ on a running jail forcibly unmounts the
// destination").
func (f *Fstab) RemoveByDestination(destination string) error {
	if !path.IsAbs(destination) {
		destination = f.JailRoot + "/" + strings.TrimPrefix(destination, "/")
	}

	if f.Mounter != nil {
		if err := f.Mounter.Unmount(destination); err != nil {
			return err
		}
	}

	idx := -1
	for i, l := range f.Lines {
		if m, ok := l.(Mount); ok && m.Destination == destination {
			idx = i
			break
		}
	}
	if idx < 0 {
		return iocerrors.New(iocerrors.KindVirtualFstabLineHasNoRealIndex, destination)
	}
	f.Lines = append(f.Lines[:idx], f.Lines[idx+1:]...)
	return nil
}

// BackupURIPrefix is the placeholder source prefix an export rewrites a
// jail-root-relative source into, and an import rewrites back (§3.1,
// §4.3 "replace_path").
const BackupURIPrefix = "backup:///"

// ReplacePath rewrites every user Mount.Source with the given prefix
// replaced (§4.3 "replace_path(pattern, replacement)"), used by Backup
// import/export to translate between the live jail root and the portable
// "backup:///" URI form.
func (f *Fstab) ReplacePath(pattern, replacement string) {
	for i, l := range f.Lines {
		m, ok := l.(Mount)
		if !ok {
			continue
		}
		if strings.HasPrefix(m.Source, pattern) {
			rest := strings.TrimPrefix(m.Source, pattern)
			if strings.HasSuffix(replacement, "/") {
				rest = strings.TrimPrefix(rest, "/")
			}
			m.Source = replacement + rest
			f.Lines[i] = m
		}
	}
}
