package release

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/bsdci/libioc/config"
	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/fstab"
	"github.com/bsdci/libioc/host"
	"github.com/bsdci/libioc/iocerrors"
	"github.com/bsdci/libioc/jail"
	"github.com/bsdci/libioc/storage"
)

// Updater pulls and applies freebsd-update/hbsd-update patches for a
// release, distribution-specific in script name, config rewrite, and
// fetch/update command lines (§4.7.2).
type Updater struct {
	Release Release
	Host    *host.Host

	// UpdatesDir is the host-visible mountpoint of "<release dataset>/updates".
	UpdatesDir string

	flavor updaterFlavor
}

type updaterFlavor struct {
	updateName   string
	scriptName   string
	confName     string
	trunkBaseURL func(releaseName string) string
}

var freeBSDFlavor = updaterFlavor{
	updateName: "freebsd-update",
	scriptName: "freebsd-update.sh",
	confName:   "freebsd-update.conf",
	trunkBaseURL: func(releaseName string) string {
		fragments := strings.SplitN(releaseName, "-", 2)
		releaseVersion := fragments[0] + ".0"
		if releaseName == "11.0-RELEASE" {
			releaseVersion = "11.0.1"
		}
		return "https://svn.freebsd.org/base/release/" + releaseVersion
	},
}

var hardenedBSDFlavor = updaterFlavor{
	updateName: "hbsd-update",
	scriptName: "hbsd-update",
	confName:   "hbsd-update.conf",
	trunkBaseURL: func(releaseName string) string {
		return "https://raw.githubusercontent.com/HardenedBSD/hardenedBSD/" + releaseName
	},
}

// NewUpdater returns the distribution-appropriate Updater for release.
func NewUpdater(release Release, h *host.Host, updatesDir string) *Updater {
	u := &Updater{Release: release, Host: h, UpdatesDir: updatesDir}
	if release.Distribution == host.DistributionHardenedBSD {
		u.flavor = hardenedBSDFlavor
	} else {
		u.flavor = freeBSDFlavor
	}
	return u
}

func (u *Updater) assetURL(filename string) string {
	return u.flavor.trunkBaseURL(u.Release.Name) + "/" + filename
}

func (u *Updater) scriptPath() string { return filepath.Join(u.UpdatesDir, u.flavor.scriptName) }
func (u *Updater) confPath() string   { return filepath.Join(u.UpdatesDir, u.flavor.confName) }

var componentsLine = regexp.MustCompile(`(?m)^Components .+$`)

// rewriteFreeBSDConfig collapses the stock "Components world kernel ..."
// line to "Components world": the jail has no kernel to update
// (§4.7.2, ResourceUpdater.FreeBSD._modify_updater_config).
func rewriteFreeBSDConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	rewritten := componentsLine.ReplaceAll(data, []byte("Components world"))
	return os.WriteFile(path, rewritten, 0644)
}

func downloadFile(url, dest string, mode os.FileMode) error {
	resp, err := http.Get(url) //nolint:gosec // mirror URL is built from trusted distro/release data
	if err != nil {
		return iocerrors.Wrap(iocerrors.KindDownloadFailed, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return iocerrors.New(iocerrors.KindDownloadFailed, fmt.Sprintf("%s: HTTP %d", url, resp.StatusCode))
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return iocerrors.Wrap(iocerrors.KindDownloadFailed, url, err)
	}
	return nil
}

// Fetch pulls the updater script and its config into UpdatesDir, rewriting
// the FreeBSD config's Components line (§4.7.2 "_pull_updater").
func (u *Updater) Fetch(ctx context.Context, scope *events.Scope) error {
	e := scope.Begin(events.TypeReleaseUpdatePull, u.Release.Name)

	if err := downloadFile(u.assetURL("usr.sbin/"+u.flavor.updateName+"/"+u.flavor.scriptName), u.scriptPath(), 0744); err != nil {
		return scope.Fail(ctx, e, err)
	}
	if err := downloadFile(u.assetURL("usr.sbin/"+u.flavor.updateName+"/"+u.flavor.confName), u.confPath(), 0644); err != nil {
		return scope.Fail(ctx, e, err)
	}
	if u.Release.Distribution != host.DistributionHardenedBSD {
		if err := rewriteFreeBSDConfig(u.confPath()); err != nil {
			return scope.Fail(ctx, e, err)
		}
	}
	scope.End(e)
	return nil
}

// patchVersionFromFreeBSDVersion reads "patch: N" out of /bin/freebsd-version
// in rootDir, the same file freebsd-update itself stamps on install
// (§4.7.2 FreeBSD.patch_version).
func patchVersionFromFreeBSDVersion(rootDir string) int {
	data, err := os.ReadFile(filepath.Join(rootDir, "bin", "freebsd-version"))
	if err != nil {
		return 0
	}
	m := regexp.MustCompile(`patch="?(\d+)"?`).FindSubmatch(data)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(string(m[1]))
	return n
}

// Apply runs the updater inside a throwaway single-command jail: the
// updates dataset is fstab-mounted rw at the release's own updates path,
// network disabled, securelevel 0, allow_chflags on (§4.7.2 temporary_jail
// / _update_jail). It snapshots "@p<patch>" on success and then returns
// true; it does not check whether the update changed anything.
func (u *Updater) Apply(ctx context.Context, scope *events.Scope) (changed bool, err error) {
	e := scope.Begin(events.TypeReleaseUpdateDownload, u.Release.Name)

	tmpRoot, err := u.Release.mountpoint(ctx)
	if err != nil {
		return false, scope.Fail(ctx, e, err)
	}

	// The update jail runs directly against the release's own root dataset
	// (no clone): nothing needs Setup/Apply's provisioning (§4.7.2
	// temporary_jail shares dataset=self.resource.dataset with the release).
	tmp := &jail.Jail{
		ID:      strings.ReplaceAll(u.Release.Name, ".", "-") + "_u",
		Source:  "iocage",
		Dataset: u.Release.RootDataset(),
		Root:    tmpRoot,
		Config:  config.New(nil),
		Fstab:   fstab.New(tmpRoot),
		Storage: noopStorage{},
		ZFS:     u.Release.Client,
		Host:    u.Host,
		Run:     jail.DefaultRunner,
		Devfs:   jail.DevfsRulesetResolver{RulesPath: "/etc/devfs.rules"},
	}
	updatesMountDest := filepath.Join(tmp.Root, "var", "db", u.flavor.updateName)
	tmp.Fstab.Lines = append(tmp.Fstab.Lines, fstab.Mount{
		Source:      u.UpdatesDir,
		Destination: updatesMountDest,
		FSType:      "nullfs",
		Options:     "rw",
	})

	overrides := map[string]string{
		"basejail":           "0",
		"allow_mount_nullfs": "1",
		"securelevel":        "0",
		"allow_chflags":      "1",
		"vnet":               "0",
		"mount_devfs":        "1",
	}

	updatesDir := "/var/db/" + u.flavor.updateName
	command := fmt.Sprintf(
		"%s/%s --not-running-from-cron -d %s/temp -f %s/%s install",
		updatesDir, u.flavor.scriptName, updatesDir, updatesDir, u.flavor.confName,
	)

	_, runErr := tmp.RunOnce(ctx, scope, command, overrides, storage.Release{
		Name:           u.Release.Name,
		RootDataset:    u.Release.RootDataset(),
		LatestSnapshot: u.Release.RootDataset() + "@p0",
	})
	if runErr != nil {
		return false, scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindUpdateFailure, u.Release.Name, runErr))
	}

	patch := patchVersionFromFreeBSDVersion(tmp.Root)
	if err := u.Release.Client.Snapshot(ctx, u.Release.RootDataset(), fmt.Sprintf("p%d", patch), false); err != nil {
		return false, scope.Fail(ctx, e, err)
	}

	scope.End(e)
	return true, nil
}

// noopStorage satisfies storage.Backend for the updater's temporary jail,
// which runs directly against an already-provisioned dataset and needs no
// clone/mount step of its own.
type noopStorage struct{}

func (noopStorage) Setup(ctx context.Context, scope *events.Scope, release storage.Release) error {
	return nil
}

func (noopStorage) Apply(ctx context.Context, scope *events.Scope, release storage.Release) error {
	return nil
}
