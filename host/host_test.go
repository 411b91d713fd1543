package host

import (
	"context"
	"strings"
	"testing"

	"github.com/bsdci/libioc/iocerrors"
	"github.com/stretchr/testify/require"
)

// fakeRunner replays canned stdout keyed by the exact "name arg1 arg2..."
// command string, and fails any command listed in fail.
type fakeRunner struct {
	outputs map[string]string
	fail    map[string]bool
	calls   []string
}

func (r *fakeRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := name + " " + strings.Join(args, " ")
	r.calls = append(r.calls, cmd)
	if r.fail[cmd] {
		return "", iocerrors.New(iocerrors.KindCommandFailure, cmd)
	}
	return r.outputs[cmd], nil
}

func TestBasedirsOmitsLib32ForHardenedBSD(t *testing.T) {
	require.Contains(t, DistributionFreeBSD.Basedirs(), "usr/lib32")
	require.NotContains(t, DistributionHardenedBSD.Basedirs(), "usr/lib32")
}

func TestNewRootDatasetsConventionalLayout(t *testing.T) {
	d := NewRootDatasets("zroot/iocage")
	require.Equal(t, "zroot/iocage/jails", d.Jails)
	require.Equal(t, "zroot/iocage/releases", d.Releases)
	require.Equal(t, "zroot/iocage/base", d.Base)
	require.Equal(t, "zroot/iocage/pkg", d.Pkg)
	require.Equal(t, "zroot/iocage/logs", d.Logs)
}

func TestAddSourceFirstBecomesMainRegardlessOfFlag(t *testing.T) {
	h := NewWithRunner(&fakeRunner{})
	require.NoError(t, h.AddSource(Source{Name: "iocage", Main: false}))
	main, err := h.MainSource()
	require.NoError(t, err)
	require.Equal(t, "iocage", main.Name)
}

func TestAddSourceRejectsDuplicateName(t *testing.T) {
	h := NewWithRunner(&fakeRunner{})
	require.NoError(t, h.AddSource(Source{Name: "iocage"}))
	err := h.AddSource(Source{Name: "iocage"})
	require.Error(t, err)
	require.True(t, iocerrors.Of(err, iocerrors.KindInvalidSourceName))
}

func TestMainSourceErrorsWhenNoneConfigured(t *testing.T) {
	h := NewWithRunner(&fakeRunner{})
	_, err := h.MainSource()
	require.Error(t, err)
	require.True(t, iocerrors.Of(err, iocerrors.KindSourceNotFound))
}

func TestResolveSourceQualifiedRef(t *testing.T) {
	h := NewWithRunner(&fakeRunner{})
	require.NoError(t, h.AddSource(Source{Name: "iocage"}))
	require.NoError(t, h.AddSource(Source{Name: "backup", Main: true}))

	s, id, err := h.ResolveSource("iocage/myjail")
	require.NoError(t, err)
	require.Equal(t, "iocage", s.Name)
	require.Equal(t, "myjail", id)
}

func TestResolveSourceUnqualifiedRefWithSingleSource(t *testing.T) {
	h := NewWithRunner(&fakeRunner{})
	require.NoError(t, h.AddSource(Source{Name: "iocage"}))

	s, id, err := h.ResolveSource("myjail")
	require.NoError(t, err)
	require.Equal(t, "iocage", s.Name)
	require.Equal(t, "myjail", id)
}

func TestResolveSourceUnqualifiedRefFallsBackToMain(t *testing.T) {
	h := NewWithRunner(&fakeRunner{})
	require.NoError(t, h.AddSource(Source{Name: "iocage"}))
	require.NoError(t, h.AddSource(Source{Name: "backup"}))

	s, id, err := h.ResolveSource("myjail")
	require.NoError(t, err)
	require.Equal(t, "iocage", s.Name) // first-added kept Main
	require.Equal(t, "myjail", id)
}

func TestResolveSourceUnknownQualifiedNameErrors(t *testing.T) {
	h := NewWithRunner(&fakeRunner{})
	require.NoError(t, h.AddSource(Source{Name: "iocage"}))

	_, _, err := h.ResolveSource("nope/myjail")
	require.Error(t, err)
	require.True(t, iocerrors.Of(err, iocerrors.KindSourceNotFound))
}

func TestReleaseVersionWrapsFailure(t *testing.T) {
	h := NewWithRunner(&fakeRunner{fail: map[string]bool{"uname -r": true}})
	_, err := h.ReleaseVersion(context.Background())
	require.Error(t, err)
	require.True(t, iocerrors.Of(err, iocerrors.KindHostReleaseUnknown))
}

func TestReleaseVersionEmptyOutputErrors(t *testing.T) {
	h := NewWithRunner(&fakeRunner{outputs: map[string]string{"uname -r": ""}})
	_, err := h.ReleaseVersion(context.Background())
	require.Error(t, err)
	require.True(t, iocerrors.Of(err, iocerrors.KindHostReleaseUnknown))
}

func TestUserlandVersionParsesInteger(t *testing.T) {
	h := NewWithRunner(&fakeRunner{outputs: map[string]string{"uname -U": "1302000"}})
	v, err := h.UserlandVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1302000, v)
}

func TestUserlandVersionNonIntegerErrors(t *testing.T) {
	h := NewWithRunner(&fakeRunner{outputs: map[string]string{"uname -U": "not-a-number"}})
	_, err := h.UserlandVersion(context.Background())
	require.Error(t, err)
	require.True(t, iocerrors.Of(err, iocerrors.KindHostUserlandUnknown))
}

func TestDetectDistributionHardenedBSDSuffix(t *testing.T) {
	h := NewWithRunner(&fakeRunner{outputs: map[string]string{"uname -r": "13.2-RELEASE-p5-HBSD"}})
	d, err := h.DetectDistribution(context.Background())
	require.NoError(t, err)
	require.Equal(t, DistributionHardenedBSD, d)
}

func TestDetectDistributionDefaultsToFreeBSD(t *testing.T) {
	h := NewWithRunner(&fakeRunner{outputs: map[string]string{"uname -r": "13.2-RELEASE"}})
	d, err := h.DetectDistribution(context.Background())
	require.NoError(t, err)
	require.Equal(t, DistributionFreeBSD, d)
}

func TestFirewallEnabledRequiresAllSysctlsSetToOne(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"sysctl -n net.inet.ip.fw.enable": "1",
		"sysctl -n net.link.ether.ipfw":   "1",
		"sysctl -n net.link.bridge.ipfw":  "0",
	}}
	h := NewWithRunner(runner)
	enabled, err := h.FirewallEnabled(context.Background())
	require.NoError(t, err)
	require.False(t, enabled)
}

func TestFirewallEnabledAllOnes(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"sysctl -n net.inet.ip.fw.enable": "1",
		"sysctl -n net.link.ether.ipfw":   "1",
		"sysctl -n net.link.bridge.ipfw":  "1",
	}}
	h := NewWithRunner(runner)
	enabled, err := h.FirewallEnabled(context.Background())
	require.NoError(t, err)
	require.True(t, enabled)
}

func TestEnableFirewallSetsEverySysctl(t *testing.T) {
	runner := &fakeRunner{}
	h := NewWithRunner(runner)
	require.NoError(t, h.EnableFirewall(context.Background()))

	for _, name := range RequiredFirewallSysctls {
		require.Contains(t, runner.calls, "sysctl "+name+"=1")
	}
}
