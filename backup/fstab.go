package backup

import (
	"fmt"
	"io"
	"strings"

	"github.com/bsdci/libioc/fstab"
)

// backupPathPrefix replaces a jail's own root mountpoint in exported fstab
// entries, so a restored fstab doesn't hard-code the exporting host's
// mountpoint (§4.8 "fstab (with backup:/// rewriting)").
const backupPathPrefix = "backup:///"

// writeBackupFstab dumps f's user-authored lines verbatim (the
// AutoPlaceholder written back as the literal sentinel comment, not
// expanded): a plain round-trip, unlike fstab.Fstab.WriteTo which always
// injects the generated basejail/maintenance lines even for an empty
// basedirs list (see DESIGN.md).
func writeBackupFstab(w io.Writer, f *fstab.Fstab, jailRoot string) error {
	for _, l := range f.Lines {
		switch v := l.(type) {
		case fstab.AutoPlaceholder:
			if _, err := fmt.Fprintln(w, "# "+fstab.AutoSentinel); err != nil {
				return err
			}
		case fstab.Comment:
			if _, err := fmt.Fprintln(w, "# "+v.Text); err != nil {
				return err
			}
		case fstab.Mount:
			m := v
			m.Source = toBackupPath(m.Source, jailRoot)
			m.Destination = toBackupPath(m.Destination, jailRoot)
			line := fmt.Sprintf("%s\t%s\t%s\t%s\t%d\t%d", m.Source, m.Destination, m.FSType, m.Options, m.Dump, m.Passnum)
			if m.Comment != "" {
				line += " # " + m.Comment
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}

// rewriteImportedFstab reverses toBackupPath in place against f, which was
// produced by fstab.Parse reading an imported dump: every backup:///-rooted
// Source/Destination is rewritten to live under jailRoot, the restoring
// jail's own mountpoint.
func rewriteImportedFstab(f *fstab.Fstab, jailRoot string) {
	for i, l := range f.Lines {
		m, ok := l.(fstab.Mount)
		if !ok {
			continue
		}
		m.Source = fromBackupPath(m.Source, jailRoot)
		m.Destination = fromBackupPath(m.Destination, jailRoot)
		f.Lines[i] = m
	}
}

func toBackupPath(path, jailRoot string) string {
	if path == jailRoot {
		return strings.TrimSuffix(backupPathPrefix, "/")
	}
	if strings.HasPrefix(path, jailRoot+"/") {
		return backupPathPrefix + strings.TrimPrefix(path, jailRoot+"/")
	}
	return path
}

func fromBackupPath(path, jailRoot string) string {
	trimmed := strings.TrimSuffix(backupPathPrefix, "/")
	if path == trimmed {
		return jailRoot
	}
	if strings.HasPrefix(path, backupPathPrefix) {
		return jailRoot + "/" + strings.TrimPrefix(path, backupPathPrefix)
	}
	return path
}
