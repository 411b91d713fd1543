// SPDX-License-Identifier: BSD-2-Clause

// Package release implements the release resource (component F): fetch,
// patchlevel snapshots, updates, and ZFS-basejail mirror maintenance.
package release

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bsdci/libioc/host"
	"github.com/bsdci/libioc/iocerrors"
	"github.com/bsdci/libioc/storage"
	"github.com/bsdci/libioc/zfs"
)

// Release is one fetched (or fetchable) FreeBSD/HardenedBSD release,
// identified by name (optionally "<name>-p<patchlevel>", §4.7.3).
type Release struct {
	Name         string
	Patchlevel   *int // explicit patchlevel pinned by the reference, if any
	Distribution host.Distribution

	Client      *zfs.Client
	Datasets    host.RootDatasets
	Basedirs    []string
}

var nameAndPatchlevel = regexp.MustCompile(`^(?P<name>.*?)(?:-p(?P<patch>[0-9]+))?$`)

// Parse splits a release reference like "13.2-RELEASE-p4" into its bare
// name and optional patchlevel (§4.7.3).
func Parse(ref string) (name string, patchlevel *int) {
	m := nameAndPatchlevel.FindStringSubmatch(ref)
	if m == nil {
		return ref, nil
	}
	name = m[1]
	if m[2] == "" {
		return name, nil
	}
	p, err := strconv.Atoi(m[2])
	if err != nil {
		return name, nil
	}
	return name, &p
}

// Dataset is the release's own ZFS dataset, "<releases>/<name>".
func (r Release) Dataset() string { return r.Datasets.Releases + "/" + r.Name }

// RootDataset is the release filesystem dataset, the clone source for
// every jail storage backend.
func (r Release) RootDataset() string { return r.Dataset() + "/root" }

// BaseDataset is the ZFS-basejail mirror root, "<base>/<name>".
func (r Release) BaseDataset() string { return r.Datasets.Base + "/" + r.Name }

// RealName maps the release onto its HardenedBSD mirror naming convention
// ("HardenedBSD-<name>-<processor>-LATEST"), or returns Name unchanged for
// FreeBSD (§4.7.2).
func (r Release) RealName(processor string) string {
	if r.Distribution == host.DistributionHardenedBSD {
		return fmt.Sprintf("HardenedBSD-%s-%s-LATEST", r.Name, processor)
	}
	return r.Name
}

// RemoteURL is the release's full asset mirror directory URL: the
// template's placeholders are (arch, arch, release-name), matching
// FreeBSD's "releases/<arch>/<arch>/<release>/" and HardenedBSD's
// equivalent layout.
func (r Release) RemoteURL(processor string) string {
	return fmt.Sprintf(r.Distribution.MirrorURLTemplate(), processor, processor, r.RealName(processor))
}

// Assets is the list of release asset base names to fetch (lib32 is
// omitted for HardenedBSD, which has no i386 compat layer, §4.7.1).
func (r Release) Assets() []string {
	if r.Distribution == host.DistributionHardenedBSD {
		return []string{"base"}
	}
	return []string{"base", "lib32"}
}

var patchlevelSnapshot = regexp.MustCompile(`^p(\d+)$`)

// VersionSnapshots returns every "@p<N>" snapshot of the release root,
// sorted descending by N.
func (r Release) VersionSnapshots(ctx context.Context) ([]zfs.Snapshot, int, error) {
	all, err := r.Client.Snapshots(ctx, r.RootDataset())
	if err != nil {
		return nil, 0, err
	}
	var out []zfs.Snapshot
	var nums []int
	byNum := map[int]zfs.Snapshot{}
	for _, s := range all {
		m := patchlevelSnapshot.FindStringSubmatch(s.Snapname)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		nums = append(nums, n)
		byNum[n] = s
	}
	sort.Sort(sort.Reverse(sort.IntSlice(nums)))
	for _, n := range nums {
		out = append(out, byNum[n])
	}
	if len(nums) == 0 {
		return out, 0, nil
	}
	return out, nums[0], nil
}

// LatestSnapshot returns the highest "@p<N>" snapshot, creating "@p0" from
// the current root dataset state if none exist yet (§4.7.3).
func (r Release) LatestSnapshot(ctx context.Context) (zfs.Snapshot, error) {
	snapshots, _, err := r.VersionSnapshots(ctx)
	if err != nil {
		return zfs.Snapshot{}, err
	}
	if len(snapshots) > 0 {
		return snapshots[0], nil
	}
	if err := r.Client.Snapshot(ctx, r.RootDataset(), "p0", false); err != nil {
		return zfs.Snapshot{}, err
	}
	return zfs.Snapshot{Name: r.RootDataset() + "@p0", Dataset: r.RootDataset(), Snapname: "p0"}, nil
}

// CurrentSnapshot returns the snapshot matching the release's pinned
// patchlevel, or the latest one if none was pinned (§4.7.3).
func (r Release) CurrentSnapshot(ctx context.Context) (zfs.Snapshot, error) {
	if r.Patchlevel != nil {
		snapshots, _, err := r.VersionSnapshots(ctx)
		if err != nil {
			return zfs.Snapshot{}, err
		}
		for _, s := range snapshots {
			if s.Snapname == fmt.Sprintf("p%d", *r.Patchlevel) {
				return s, nil
			}
		}
	}
	return r.LatestSnapshot(ctx)
}

func padReleaseName(name string) string {
	major := strings.SplitN(name, "-", 2)[0]
	major = strings.SplitN(major, ".", 2)[0]
	n, err := strconv.Atoi(major)
	if err != nil {
		return name
	}
	digits := len(strconv.Itoa(n))
	if digits >= 4 {
		return name
	}
	return strings.Repeat("0", 4-digits) + name
}

// NewerThanHost reports whether this release is newer than hostReleaseName
// (the running kernel's "uname -r"), per the zero-padded lexical compare
// of §4.7.3. CURRENT is always newer than any non-CURRENT release.
func (r Release) NewerThanHost(hostReleaseName string) bool {
	paddedHost := padReleaseName(hostReleaseName)
	paddedThis := padReleaseName(r.Name)

	hostIsCurrent := strings.HasPrefix(paddedHost, "CURRENT")
	thisIsCurrent := strings.HasPrefix(paddedThis, "CURRENT")
	if thisIsCurrent {
		return !hostIsCurrent
	}
	if len(paddedThis) > len(paddedHost) {
		paddedThis = paddedThis[:len(paddedHost)]
	}
	return paddedHost < paddedThis
}

// ToStorageRelease projects the release into the storage.Release value
// consumed by the jail lifecycle's storage backends.
func (r Release) ToStorageRelease(ctx context.Context) (storage.Release, error) {
	snap, err := r.CurrentSnapshot(ctx)
	if err != nil {
		return storage.Release{}, iocerrors.Wrap(iocerrors.KindReleaseNotFetched, r.Name, err)
	}
	return storage.Release{
		Name:           r.Name,
		RootDataset:    r.RootDataset(),
		LatestSnapshot: snap.Name,
		BaseDataset:    r.BaseDataset(),
		Basedirs:       r.Basedirs,
	}, nil
}
