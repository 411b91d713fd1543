package network

import (
	"fmt"
	"strings"

	"github.com/bsdci/libioc/config"
	shellquote "github.com/kballard/go-shellquote"
)

// CommandBuilder records shell command lines instead of executing them;
// the recorded lines are concatenated into generated hook scripts (§9
// "Queuing command abstractions ... preserve this as a CommandBuilder that
// emits shell source").
type CommandBuilder struct {
	lines []string
}

// Add appends one shell command, built from args with each argument
// shell-quoted (go-shellquote, matching the precedent the wider pack sets
// for safely joining argv into shell source).
func (b *CommandBuilder) Add(args ...string) {
	b.lines = append(b.lines, shellquote.Join(args...))
}

// Raw appends a pre-formatted shell line verbatim (for constructs like
// variable assignment or conditionals that aren't a plain argv).
func (b *CommandBuilder) Raw(line string) {
	b.lines = append(b.lines, line)
}

// Lines returns the recorded script lines.
func (b *CommandBuilder) Lines() []string { return append([]string(nil), b.lines...) }

// Script renders the recorded lines as "#!/bin/sh" source.
func (b *CommandBuilder) Script() string {
	return "#!/bin/sh\nset -eu\n" + strings.Join(b.lines, "\n") + "\n"
}

// Interface is one configured VNET nic, the fully resolved form of
// config.BridgeInterface plus its addresses and naming (§3.1 Network
// entity).
type Interface struct {
	Nic          string
	Bridge       config.BridgeInterface
	IPv4         []string
	IPv6         []string
	MTU          int // 0 = auto-detect from bridge
	MAC          config.MacPair
	JailFullName string
	MacPrefix    string
}

// EnvVarName returns the hook-script environment variable name for one of
// the per-nic identifiers the engine generates at runtime, keyed by the
// nic's stable hash (§4.5 "Shell variable discipline", §6.5).
func EnvVarName(kind, jailFullName, nic string) string {
	return fmt.Sprintf("IOCAGE_NIC_%s_%s", kind, NicHash(jailFullName, nic))
}

const (
	EnvEpairA  = "EPAIR_A"
	EnvEpairB  = "EPAIR_B"
	EnvEpairC  = "EPAIR_C"
	EnvEpairD  = "EPAIR_D"
	EnvBridge  = "BRIDGE"
	EnvID      = "ID"
)

// peerName replaces the trailing 'a' of an epair half with 'b', matching
// ifconfig epair create's own naming convention; any other name is
// returned unchanged.
func peerName(a string) string {
	if strings.HasSuffix(a, "a") {
		return strings.TrimSuffix(a, "a") + "b"
	}
	return a
}

// BuildCreated emits the host-side "created" command list run after
// "ifconfig epair create" but before the jail's start hook (§4.5): rename
// both halves, set MAC/MTU/description, and attach the host half to the
// bridge (or, in Secure mode, to a fresh secondary bridge).
func (i Interface) BuildCreated(jid string) *CommandBuilder {
	b := &CommandBuilder{}

	epairID := EpairID(i.JailFullName, i.Nic)
	hostHalf := fmt.Sprintf("%s:%s", i.Nic, jid)
	jailHalf := fmt.Sprintf("%s:%s:j", i.Nic, jid)

	b.Raw(fmt.Sprintf("%s=$(ifconfig epair create)", EnvVarName(EnvEpairA, i.JailFullName, i.Nic)))
	aVar := "$" + EnvVarName(EnvEpairA, i.JailFullName, i.Nic)
	bVar := peerName(aVar)
	b.Raw(fmt.Sprintf("%s=%q", EnvVarName(EnvEpairB, i.JailFullName, i.Nic), bVar))

	b.Add("ifconfig", aVar, "name", hostHalf)
	b.Add("ifconfig", bVar, "name", jailHalf)
	b.Raw(fmt.Sprintf("%s=%q", EnvVarName(EnvEpairC, i.JailFullName, i.Nic), hostHalf))
	b.Raw(fmt.Sprintf("%s=%q", EnvVarName(EnvEpairD, i.JailFullName, i.Nic), jailHalf))

	mac := i.MAC
	if mac.A == "" {
		mac.A, mac.B = DeriveMAC(i.JailFullName, i.Nic, i.MacPrefix)
	}
	b.Add("ifconfig", hostHalf, "ether", mac.A)
	b.Add("ifconfig", jailHalf, "ether", mac.B)

	if i.MTU > 0 {
		b.Add("ifconfig", hostHalf, "mtu", fmt.Sprintf("%d", i.MTU))
	} else {
		b.Raw(fmt.Sprintf("_bridge_mtu=$(ifconfig %s | awk '/mtu/{print $NF}')", i.Bridge.Bridge))
		b.Raw(fmt.Sprintf("ifconfig %s mtu \"$_bridge_mtu\"", hostHalf))
	}

	b.Add("ifconfig", hostHalf, "description", fmt.Sprintf("associated with jail: %s", epairID))

	bridge := i.Bridge.Bridge
	if i.Bridge.SecureVNET {
		secBridge := fmt.Sprintf("ioc%sbr", epairID[:6])
		b.Raw(fmt.Sprintf("%s=%q", EnvVarName(EnvBridge, i.JailFullName, i.Nic), secBridge))
		b.Add("ifconfig", "bridge", "create", "name", secBridge)
		b.Add("ifconfig", secBridge, "addm", hostHalf)
		b.Add("ifconfig", secBridge, "addm", bridge)
		b.Add("ifconfig", secBridge, "up")
	} else {
		b.Raw(fmt.Sprintf("%s=%q", EnvVarName(EnvBridge, i.JailFullName, i.Nic), bridge))
		b.Add("ifconfig", bridge, "addm", hostHalf)
	}
	b.Add("ifconfig", hostHalf, "up")
	return b
}

// BuildStart emits the jailed-side "start" command list run inside the
// jail after creation (§4.5): rename the peer to the plain nic name, then
// assign addresses.
func (i Interface) BuildStart() *CommandBuilder {
	b := &CommandBuilder{}
	jailHalfVar := "$" + EnvVarName(EnvEpairD, i.JailFullName, i.Nic)
	b.Add("ifconfig", jailHalfVar, "name", i.Nic)
	b.Add("ifconfig", i.Nic, "up")

	for _, addr := range i.IPv4 {
		switch {
		case addr == "dhcp":
			b.Add("dhclient", i.Nic)
		default:
			b.Add("ifconfig", i.Nic, "inet", addr, "alias")
		}
	}
	for _, addr := range i.IPv6 {
		switch {
		case strings.Contains(addr, "accept_rtadv"):
			b.Add("ifconfig", i.Nic, "inet6", "accept_rtadv", "up")
			b.Add("rtsold", i.Nic)
		default:
			b.Add("ifconfig", i.Nic, "inet6", addr, "alias")
		}
	}
	return b
}

// BuildTeardown emits the host-side commands that reverse BuildCreated:
// destroy the secondary bridge (Secure mode) and the epair halves (§4.5
// "On stop, the secondary bridge and the :a/:net nics are destroyed").
func (i Interface) BuildTeardown(jid string) *CommandBuilder {
	b := &CommandBuilder{}
	hostHalf := fmt.Sprintf("%s:%s", i.Nic, jid)
	if i.Bridge.SecureVNET {
		epairID := EpairID(i.JailFullName, i.Nic)
		secBridge := fmt.Sprintf("ioc%sbr", epairID[:6])
		b.Add("ifconfig", secBridge, "destroy")
	}
	b.Add("ifconfig", hostHalf, "destroy")
	return b
}
