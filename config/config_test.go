package config

import (
	"testing"

	"github.com/bsdci/libioc/iocerrors"
	"github.com/stretchr/testify/require"
)

func TestParseValueKinds(t *testing.T) {
	require.True(t, ParseValue("yes").AsBool())
	require.False(t, ParseValue("off").AsBool())
	require.True(t, ParseValue("none").IsNone())
	require.True(t, ParseValue("").IsNone())

	v := ParseValue("42")
	require.Equal(t, KindInt, v.Kind)
	i, err := v.AsInt()
	require.NoError(t, err)
	require.EqualValues(t, 42, i)

	list := ParseValue(`a,b\,c,d`)
	require.Equal(t, KindList, list.Kind)
	require.Equal(t, []string{"a", "b,c", "d"}, list.List)
	require.Equal(t, `a,b\,c,d`, list.String())

	require.Equal(t, "hello", ParseValue("hello").AsString())
}

func TestGetUnknownKeyReturnsError(t *testing.T) {
	c := New(nil)
	_, err := c.Get("not_a_real_key")
	require.Error(t, err)
	require.True(t, iocerrors.Of(err, iocerrors.KindUnknownConfigProperty))
}

func TestGetFallsBackToDefaultsThenHardcoded(t *testing.T) {
	d := &Defaults{values: map[string]string{"exec_timeout": "90"}}
	c := New(d)

	v, err := c.GetString("exec_timeout")
	require.NoError(t, err)
	require.Equal(t, "90", v)

	// stop_timeout has no source-level default, falls through to hardcoded.
	v, err = c.GetString("stop_timeout")
	require.NoError(t, err)
	require.Equal(t, "30", v)

	changed, err := c.Set("exec_timeout", "120")
	require.NoError(t, err)
	require.True(t, changed)
	v, err = c.GetString("exec_timeout")
	require.NoError(t, err)
	require.Equal(t, "120", v)
}

func TestSetReportsNoChangeOnIdenticalValue(t *testing.T) {
	c := New(nil)
	changed, err := c.Set("vnet", "yes")
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = c.Set("vnet", "yes")
	require.NoError(t, err)
	require.False(t, changed)
}

func TestSetUserNamespaceBypassesRecognizedKeys(t *testing.T) {
	c := New(nil)
	changed, err := c.Set("user.notes", "hello world")
	require.NoError(t, err)
	require.True(t, changed)

	v, err := c.GetString("user.notes")
	require.NoError(t, err)
	require.Equal(t, "hello world", v)
}

func TestSetRejectsMalformedSpecialValues(t *testing.T) {
	c := New(nil)
	_, err := c.Set("ip4_addr", "bad-no-pipe")
	require.Error(t, err)
	require.True(t, iocerrors.Of(err, iocerrors.KindInvalidJailConfigAddress))
}

func TestSetMacRequiresInterfaceDeclaredFirst(t *testing.T) {
	c := New(nil)
	_, err := c.Set("em0_mac", "02:ff:00:00:00:01,02:ff:00:00:00:02")
	require.Error(t, err)
	require.True(t, iocerrors.Of(err, iocerrors.KindInvalidMacAddress))

	_, err = c.Set("interfaces", "em0:bridge0")
	require.NoError(t, err)
	_, err = c.Set("em0_mac", "02:ff:00:00:00:01,02:ff:00:00:00:02")
	require.NoError(t, err)
}

func TestDeleteFallsBackToDefaults(t *testing.T) {
	c := New(nil)
	_, err := c.Set("vnet", "yes")
	require.NoError(t, err)

	c.Delete("vnet")
	v, err := c.GetString("vnet")
	require.NoError(t, err)
	require.Equal(t, "no", v) // hardcoded default
}

func TestCloneToMapRoundTrip(t *testing.T) {
	c := New(nil)
	data := map[string]string{
		"vnet":     "yes",
		"ip4":      "inherit",
		"user.tag": "prod",
	}
	errs := c.Clone(data, false)
	require.Empty(t, errs)

	dict := c.ToMap()
	c2 := New(nil)
	errs = c2.Clone(dict, false)
	require.Empty(t, errs)

	require.Equal(t, dict, c2.ToMap())
}

func TestCloneSkipOnErrorContinuesPastBadKeys(t *testing.T) {
	c := New(nil)
	data := map[string]string{
		"vnet":          "yes",
		"not_a_real_key": "x",
	}
	errs := c.Clone(data, true)
	require.Len(t, errs, 1)

	v, err := c.GetString("vnet")
	require.NoError(t, err)
	require.Equal(t, "yes", v)
}

func TestDirtyTracksSetAndDelete(t *testing.T) {
	c := New(nil)
	require.False(t, c.Dirty())
	_, err := c.Set("vnet", "yes")
	require.NoError(t, err)
	require.True(t, c.Dirty())
}

func TestSaveRequiresHandler(t *testing.T) {
	c := New(nil)
	err := c.Save()
	require.Error(t, err)
}

func TestIPv4AddressesParsesSpecialProperty(t *testing.T) {
	c := New(nil)
	_, err := c.Set("ip4_addr", "em0|192.168.1.10/24,em0|192.168.1.11/24")
	require.NoError(t, err)

	addrs, err := c.IPv4Addresses()
	require.NoError(t, err)
	require.Equal(t, []string{"192.168.1.10/24", "192.168.1.11/24"}, addrs["em0"])
}

func TestInterfacesParsesSecureVNETMarker(t *testing.T) {
	c := New(nil)
	_, err := c.Set("interfaces", "em0::bridge0")
	require.NoError(t, err)

	ifaces, err := c.Interfaces()
	require.NoError(t, err)
	require.Equal(t, BridgeInterface{Nic: "em0", Bridge: "bridge0", SecureVNET: true}, ifaces["em0"])
}

func TestResolverConfigThreeForms(t *testing.T) {
	c := New(nil)
	r, err := c.ResolverConfig()
	require.NoError(t, err)
	require.Equal(t, ResolverCopy, r.Method)

	_, err = c.Set("resolver", "/dev/null")
	require.NoError(t, err)
	r, err = c.ResolverConfig()
	require.NoError(t, err)
	require.Equal(t, ResolverSkip, r.Method)

	_, err = c.Set("resolver", "nameserver 1.1.1.1;nameserver 8.8.8.8")
	require.NoError(t, err)
	r, err = c.ResolverConfig()
	require.NoError(t, err)
	require.Equal(t, ResolverManual, r.Method)
	require.Equal(t, []string{"nameserver 1.1.1.1", "nameserver 8.8.8.8"}, r.Lines)
}

func TestRlimitsDisabledSkipsResourceLimits(t *testing.T) {
	c := New(nil)
	_, err := c.Set("memoryuse", "deny=512m:deny")
	require.NoError(t, err)

	limits, err := c.ResourceLimits()
	require.NoError(t, err)
	require.Len(t, limits, 1)

	_, err = c.Set("rlimits", "no")
	require.NoError(t, err)
	limits, err = c.ResourceLimits()
	require.NoError(t, err)
	require.Empty(t, limits)
}

func TestJSONHandlerSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h := &JSONHandler{Path: dir + "/config.json"}

	c := New(nil)
	_, err := c.Set("vnet", "yes")
	require.NoError(t, err)
	_, err = c.Set("ip4", "inherit")
	require.NoError(t, err)
	require.NoError(t, h.Save(c))

	c2 := New(nil)
	require.NoError(t, h.Load(c2))
	require.Equal(t, c.ToMap(), c2.ToMap())
}

func TestUCLHandlerSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h := &UCLHandler{Path: dir + "/config"}

	c := New(nil)
	_, err := c.Set("vnet", "yes")
	require.NoError(t, err)
	require.NoError(t, h.Save(c))

	c2 := New(nil)
	require.NoError(t, h.Load(c2))
	require.Equal(t, c.ToMap(), c2.ToMap())
}

func TestProbePrefersJSONThenUCLThenFreshJSON(t *testing.T) {
	dir := t.TempDir()

	handler := Probe(dir, nil, "")
	jh, ok := handler.(*JSONHandler)
	require.True(t, ok)
	require.Equal(t, dir+"/config.json", jh.Path)

	require.NoError(t, (&UCLHandler{Path: dir + "/config"}).Save(New(nil)))
	handler = Probe(dir, nil, "")
	_, ok = handler.(*UCLHandler)
	require.True(t, ok)

	require.NoError(t, (&JSONHandler{Path: dir + "/config.json"}).Save(New(nil)))
	handler = Probe(dir, nil, "")
	_, ok = handler.(*JSONHandler)
	require.True(t, ok)
}
