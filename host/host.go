// SPDX-License-Identifier: BSD-2-Clause

// Package host is the Host & ZFS facade (component A): OS identity,
// distribution detection, sysctl access, and the mapping from source name
// to its dataset roots.
package host

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bsdci/libioc/iocerrors"
)

// Distribution tags whether the running userland is stock FreeBSD or
// HardenedBSD, which parameterises mirror URLs, asset layout, and the
// updater (§4.1).
type Distribution string

const (
	DistributionFreeBSD     Distribution = "FreeBSD"
	DistributionHardenedBSD Distribution = "HardenedBSD"
)

// Basedirs returns the list of basejail mount/clone targets for the
// distribution: HardenedBSD omits usr/lib32 (no i386 compat layer).
func (d Distribution) Basedirs() []string {
	base := []string{
		"bin", "boot", "lib", "libexec", "rescue", "sbin", "usr/bin",
		"usr/include", "usr/lib", "usr/libexec", "usr/sbin", "usr/share",
		"usr/libdata",
	}
	if d == DistributionHardenedBSD {
		return base
	}
	return append(base, "usr/lib32")
}

// MirrorURLTemplate returns the mirror directory URL template for release
// assets, with three "%s" placeholders: architecture, architecture again,
// then release name.
func (d Distribution) MirrorURLTemplate() string {
	switch d {
	case DistributionHardenedBSD:
		return "https://mirror.hardenedbsd.org/hardenedbsd/releases/%s/%s/%s"
	default:
		return "https://download.freebsd.org/ftp/releases/%s/%s/%s"
	}
}

// AssetHashFileName is the manifest file name carrying sha256 digests for
// release assets.
func (d Distribution) AssetHashFileName() string {
	return "MANIFEST"
}

// Runner executes a host command and returns its trimmed stdout.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", iocerrors.Wrap(iocerrors.KindCommandFailure, name, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// RootDatasets names the per-source dataset children under a pool.
type RootDatasets struct {
	Jails    string
	Releases string
	Base     string
	Pkg      string
	Logs     string
}

// NewRootDatasets builds the conventional layout under "<pool>/<root>"
// (§6.1).
func NewRootDatasets(poolRoot string) RootDatasets {
	return RootDatasets{
		Jails:    poolRoot + "/jails",
		Releases: poolRoot + "/releases",
		Base:     poolRoot + "/base",
		Pkg:      poolRoot + "/pkg",
		Logs:     poolRoot + "/logs",
	}
}

// Source is one activation root. Exactly one configured Source is Main
// (carries the "active=yes" user property, §4.1).
type Source struct {
	Name     string
	Pool     string
	Root     string // dataset path of the activation root, e.g. "zroot/iocage"
	Datasets RootDatasets
	Main     bool
}

// Host is the handle every higher-level component borrows to query the
// machine it runs on and resolve source roots.
type Host struct {
	run     Runner
	Sources map[string]Source
}

// New constructs a Host using the real command runner.
func New() *Host { return &Host{run: execRunner{}, Sources: map[string]Source{}} }

// NewWithRunner constructs a Host using a caller-supplied Runner, for tests.
func NewWithRunner(r Runner) *Host { return &Host{run: r, Sources: map[string]Source{}} }

// AddSource registers a source root. If it is the first source, or Main is
// true, it becomes (or replaces) the main source.
func (h *Host) AddSource(s Source) error {
	if _, exists := h.Sources[s.Name]; exists {
		return iocerrors.New(iocerrors.KindInvalidSourceName, s.Name)
	}
	if len(h.Sources) == 0 {
		s.Main = true
	}
	if s.Main {
		for name, other := range h.Sources {
			other.Main = false
			h.Sources[name] = other
		}
	}
	h.Sources[s.Name] = s
	return nil
}

// MainSource returns the source flagged Main.
func (h *Host) MainSource() (Source, error) {
	for _, s := range h.Sources {
		if s.Main {
			return s, nil
		}
	}
	return Source{}, iocerrors.New(iocerrors.KindSourceNotFound, "main")
}

// ResolveSource accepts either a bare id (resolved against the only source
// when exactly one is configured, otherwise against the main source) or
// "<source>/<id>" and returns the matching Source plus the bare id.
func (h *Host) ResolveSource(ref string) (Source, string, error) {
	if idx := strings.IndexByte(ref, '/'); idx >= 0 {
		name, id := ref[:idx], ref[idx+1:]
		s, ok := h.Sources[name]
		if !ok {
			return Source{}, "", iocerrors.New(iocerrors.KindSourceNotFound, name)
		}
		return s, id, nil
	}
	if len(h.Sources) == 1 {
		for _, s := range h.Sources {
			return s, ref, nil
		}
	}
	s, err := h.MainSource()
	if err != nil {
		return Source{}, "", err
	}
	return s, ref, nil
}

// ReleaseVersion returns "uname -r" (e.g. "13.2-RELEASE").
func (h *Host) ReleaseVersion(ctx context.Context) (string, error) {
	out, err := h.run.Output(ctx, "uname", "-r")
	if err != nil {
		return "", iocerrors.Wrap(iocerrors.KindHostReleaseUnknown, "uname -r", err)
	}
	if out == "" {
		return "", iocerrors.New(iocerrors.KindHostReleaseUnknown, "empty uname -r")
	}
	return out, nil
}

// UserlandVersion returns "uname -U" (the __FreeBSD_version integer).
func (h *Host) UserlandVersion(ctx context.Context) (int, error) {
	out, err := h.run.Output(ctx, "uname", "-U")
	if err != nil {
		return 0, iocerrors.Wrap(iocerrors.KindHostUserlandUnknown, "uname -U", err)
	}
	v, perr := strconv.Atoi(out)
	if perr != nil {
		return 0, iocerrors.Wrap(iocerrors.KindHostUserlandUnknown, out, perr)
	}
	return v, nil
}

// Processor returns "uname -p" (e.g. "amd64").
func (h *Host) Processor(ctx context.Context) (string, error) {
	return h.run.Output(ctx, "uname", "-p")
}

// DetectDistribution decides FreeBSD vs HardenedBSD by whether "uname -r"
// ends in "-HBSD" (§4.1).
func (h *Host) DetectDistribution(ctx context.Context) (Distribution, error) {
	rel, err := h.ReleaseVersion(ctx)
	if err != nil {
		return "", iocerrors.Wrap(iocerrors.KindDistributionUnknown, "", err)
	}
	if strings.HasSuffix(rel, "-HBSD") {
		return DistributionHardenedBSD, nil
	}
	return DistributionFreeBSD, nil
}

// Sysctl reads one sysctl value.
func (h *Host) Sysctl(ctx context.Context, name string) (string, error) {
	return h.run.Output(ctx, "sysctl", "-n", name)
}

// SetSysctl writes one sysctl value ("sysctl <name>=<value>").
func (h *Host) SetSysctl(ctx context.Context, name, value string) error {
	_, err := h.run.Output(ctx, "sysctl", name+"="+value)
	return err
}

// RequiredFirewallSysctls is the fixed set VNET Secure mode checks before
// installing rules (§4.5).
var RequiredFirewallSysctls = []string{
	"net.inet.ip.fw.enable",
	"net.link.ether.ipfw",
	"net.link.bridge.ipfw",
}

// FirewallEnabled reports whether every sysctl in RequiredFirewallSysctls
// currently reads "1".
func (h *Host) FirewallEnabled(ctx context.Context) (bool, error) {
	for _, name := range RequiredFirewallSysctls {
		v, err := h.Sysctl(ctx, name)
		if err != nil {
			return false, iocerrors.Wrap(iocerrors.KindFirewallDisabled, name, err)
		}
		if strings.TrimSpace(v) != "1" {
			return false, nil
		}
	}
	return true, nil
}

// EnableFirewall sets every required sysctl to 1.
func (h *Host) EnableFirewall(ctx context.Context) error {
	for _, name := range RequiredFirewallSysctls {
		if err := h.SetSysctl(ctx, name, "1"); err != nil {
			return iocerrors.Wrap(iocerrors.KindFirewallCommandFailure, name, err)
		}
	}
	return nil
}
