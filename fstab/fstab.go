// SPDX-License-Identifier: BSD-2-Clause

// Package fstab parses, edits, and renders a jail's /etc/fstab-equivalent
// mount table (component C), including the auto-generated basejail lines
// iocage interleaves at a placeholder comment (§4.3, §6.3).
package fstab

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/bsdci/libioc/iocerrors"
)

// AutoSentinel is the comment body that collapses into a single
// AutoPlaceholder on parse and is dropped on every later occurrence
// (§4.3, §6.3).
const AutoSentinel = "iocage-auto"

// MaintenanceDir is the relative mountpoint of the launch-scripts
// directory, readonly-mounted into the jail root so hook scripts remain
// reachable as ".iocage" (§4.3 item 2).
const MaintenanceDir = ".iocage"

// Line is one entry in a Fstab: a Mount, a Comment, or the single
// AutoPlaceholder marking where generated lines are interleaved.
type Line interface {
	fstabLine()
}

// Mount is a parsed or user-authored mount entry.
type Mount struct {
	Source      string
	Destination string
	FSType      string
	Options     string
	Dump        int
	Passnum     int
	Comment     string
}

func (Mount) fstabLine() {}

// Comment is a free-standing "# ..." line that isn't the auto sentinel.
type Comment struct{ Text string }

func (Comment) fstabLine() {}

// AutoPlaceholder marks the position where the generated basejail +
// maintenance lines are interleaved on render.
type AutoPlaceholder struct{}

func (AutoPlaceholder) fstabLine() {}

// Fstab holds the user-authored lines (plus at most one AutoPlaceholder)
// in original order. The generated lines never live in Lines; Render
// synthesizes them on demand so they always reflect the current basedirs
// and launch-scripts path (§4.3: "regenerated on each start").
type Fstab struct {
	Lines      []Line
	JailRoot   string // absolute path entries are relative to
	hasAuto    bool
	Mounter    Mounter // optional: live mount/unmount when the jail is running
}

// Mounter performs the live mount(8)/umount(8) side effects add_line and
// delete trigger against a running jail (§4.3). Injected by the jail
// package so this package has no process-exec dependency of its own.
type Mounter interface {
	Mount(m Mount) error
	Unmount(destination string) error
}

// New returns an empty Fstab rooted at jailRoot.
func New(jailRoot string) *Fstab {
	return &Fstab{JailRoot: jailRoot}
}

// Parse reads fstab text: six whitespace-separated fields per line, a '#'
// begins a comment, and any comment whose body is exactly AutoSentinel
// collapses into one AutoPlaceholder (further occurrences are dropped,
// §4.3).
func Parse(r io.Reader, jailRoot string) (*Fstab, error) {
	f := New(jailRoot)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		raw := scanner.Text()
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			body := strings.TrimSpace(strings.TrimPrefix(line, "#"))
			if body == AutoSentinel {
				if !f.hasAuto {
					f.Lines = append(f.Lines, AutoPlaceholder{})
					f.hasAuto = true
				}
				continue
			}
			f.Lines = append(f.Lines, Comment{Text: body})
			continue
		}

		inline, comment := splitInlineComment(line)
		fields := splitFields(inline)
		if len(fields) < 6 {
			return nil, iocerrors.New(iocerrors.KindVirtualFstabLineHasNoRealIndex, raw)
		}
		var dump, pass int
		fmt.Sscanf(fields[4], "%d", &dump)
		fmt.Sscanf(fields[5], "%d", &pass)

		m := Mount{
			Source:      fields[0],
			Destination: unescapeSpaces(fields[1]),
			FSType:      fields[2],
			Options:     fields[3],
			Dump:        dump,
			Passnum:     pass,
			Comment:     comment,
		}
		f.Lines = append(f.Lines, m)
	}
	return f, scanner.Err()
}

func splitInlineComment(line string) (body, comment string) {
	idx := strings.Index(line, "#")
	if idx < 0 {
		return line, ""
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:])
}

func splitFields(s string) []string {
	var fields []string
	var cur strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ' ' || r == '\t':
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields
}

func escapeSpaces(s string) string  { return strings.ReplaceAll(s, " ", `\ `) }
func unescapeSpaces(s string) string { return strings.ReplaceAll(s, `\ `, " ") }

// basejailLines builds one readonly mount per basedir from the release
// snapshot into the jail root, plus the maintenance line (§4.3).
func basejailLines(jailRoot, releaseRootSnapshot string, basedirs []string) []Mount {
	out := make([]Mount, 0, len(basedirs)+1)
	for _, dir := range basedirs {
		out = append(out, Mount{
			Source:      releaseRootSnapshot + "/" + dir,
			Destination: jailRoot + "/" + dir,
			FSType:      "nullfs",
			Options:     "ro",
			Dump:        0,
			Passnum:     0,
			Comment:     AutoSentinel,
		})
	}
	out = append(out, Mount{
		Source:      path.Dir(jailRoot) + "/launch-scripts",
		Destination: jailRoot + "/" + MaintenanceDir,
		FSType:      "nullfs",
		Options:     "ro",
		Dump:        0,
		Passnum:     0,
		Comment:     AutoSentinel,
	})
	return out
}

// Render produces the full line set per §4.3: user lines in original
// order, with the AutoPlaceholder (if present) or a leading synthetic
// block substituted with the basejail + maintenance lines. releaseRootSnapshot
// and basedirs are empty/nil for a non-basejail (Standalone) jail, in which
// case only the maintenance line is generated.
func (f *Fstab) Render(releaseRootSnapshot string, basedirs []string) []Mount {
	generated := basejailLines(f.JailRoot, releaseRootSnapshot, basedirs)

	var out []Mount
	placed := false
	for _, l := range f.Lines {
		switch v := l.(type) {
		case AutoPlaceholder:
			out = append(out, generated...)
			placed = true
		case Mount:
			out = append(out, v)
		case Comment:
			// rendered lines are Mount-only; comments are preserved by
			// WriteTo, not by Render, which callers use to build mount(8)
			// argument lists.
		}
	}
	if !placed {
		out = append(generated, out...)
	}
	return out
}

// WriteTo writes the full textual fstab (§6.3 syntax), generated lines
// included, to w.
func (f *Fstab) WriteTo(w io.Writer, releaseRootSnapshot string, basedirs []string) error {
	generated := basejailLines(f.JailRoot, releaseRootSnapshot, basedirs)
	writeMount := func(m Mount) error {
		line := fmt.Sprintf("%s\t%s\t%s\t%s\t%d\t%d", m.Source, escapeSpaces(m.Destination), m.FSType, m.Options, m.Dump, m.Passnum)
		if m.Comment != "" {
			line += " # " + m.Comment
		}
		_, err := fmt.Fprintln(w, line)
		return err
	}

	placed := false
	for _, l := range f.Lines {
		switch v := l.(type) {
		case AutoPlaceholder:
			for _, g := range generated {
				if err := writeMount(g); err != nil {
					return err
				}
			}
			placed = true
		case Mount:
			if err := writeMount(v); err != nil {
				return err
			}
		case Comment:
			if _, err := fmt.Fprintln(w, "# "+v.Text); err != nil {
				return err
			}
		}
	}
	if !placed {
		for _, g := range generated {
			if err := writeMount(g); err != nil {
				return err
			}
		}
	}
	return nil
}
