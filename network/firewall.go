package network

import (
	"fmt"
	"strconv"
	"strings"
)

// FirewallRule is one generated ipfw(8) rule line, queued for the jail's
// Secure VNET firewall script rather than executed directly (§4.5 "Secure
// VNET firewalling").
type FirewallRule struct {
	RuleNumber string // shell-evaluable, e.g. "$(expr $IOCAGE_JID + 10000)"
	Action     string // "allow" or "deny"
	Log        bool
	Proto      string // "ipv4" or "ipv6"
	Extra      string // match clause after the protocol token
}

func (r FirewallRule) String() string {
	line := fmt.Sprintf("ipfw -q add %s %s", r.RuleNumber, r.Action)
	if r.Log {
		line += " log"
	}
	line += " " + r.Proto
	if r.Extra != "" {
		line += " " + r.Extra
	}
	return line
}

// RuleNumberExpr is the shell expression every Secure VNET rule of a jail
// shares, evaluated at runtime once jail -c has assigned jidVar a real jid
// (§4.5 "rule number JID+10000"), grounded on original_source's
// Firewall.QueuingFirewall._offset_rule_number ("$(expr $IOCAGE_JID +
// 10000)" for a shell-variable rule number).
func RuleNumberExpr(jidVar string) string {
	return fmt.Sprintf("$(expr %s + 10000)", jidVar)
}

// DeleteFirewallRuleCommand is the argv that removes every rule at
// jid+10000 once jid is known as a real number (§4.5 "the rule with this
// number is deleted", run directly by the jail package once jail -r/rollback
// knows the jid, unlike RuleNumberExpr which the generated start hook still
// has to evaluate itself).
func DeleteFirewallRuleCommand(jid int) []string {
	return []string{"ipfw", "-q", "delete", strconv.Itoa(jid + 10000)}
}

func resolvedMAC(i Interface) string {
	if i.MAC.B != "" {
		return i.MAC.B
	}
	_, b := DeriveMAC(i.JailFullName, i.Nic, i.MacPrefix)
	return b
}

// secureBridgeName reproduces the secondary bridge name BuildCreated gives
// a Secure VNET interface, so the firewall rules can match traffic "via"
// it the same way BuildCreated wires it in.
func secureBridgeName(i Interface) string {
	epairID := EpairID(i.JailFullName, i.Nic)
	return fmt.Sprintf("ioc%sbr", epairID[:6])
}

// BuildFirewallRules derives the Secure VNET ipfw ruleset for one interface
// (§4.5, grounded on original_source/libioc/Network.py's
// __configure_firewall): per protocol (ipv4 then ipv6), per configured
// address of that protocol, three allow rules — egress from the address
// with a layer2 source-MAC match on the secondary bridge, ingress to
// the address with a layer2 destination-MAC match on the host epair half, and
// the same ingress re-checked at L3 only — followed by two terminal
// deny+log rules for that protocol (layer2 on the bridge, then L3 on the
// epair half). Every rule of every protocol/address shares one rule
// number.
func BuildFirewallRules(i Interface) []FirewallRule {
	if !i.Bridge.SecureVNET {
		return nil
	}
	const jidVar = "$IOCAGE_JID"
	number := RuleNumberExpr(jidVar)
	mac := resolvedMAC(i)

	hostHalf := fmt.Sprintf("%s:%s", i.Nic, jidVar)
	secBridge := secureBridgeName(i)

	protocols := []struct {
		name  string
		addrs []string
	}{
		{"ipv4", i.IPv4},
		{"ipv6", i.IPv6},
	}

	var rules []FirewallRule
	for _, proto := range protocols {
		for _, addr := range proto.addrs {
			if addr == "dhcp" || strings.Contains(addr, "accept_rtadv") {
				continue
			}
			rules = append(rules,
				FirewallRule{
					RuleNumber: number, Action: "allow", Proto: proto.name,
					Extra: fmt.Sprintf("from %s to any layer2 MAC any %s via %s", addr, mac, secBridge),
				},
				FirewallRule{
					RuleNumber: number, Action: "allow", Proto: proto.name,
					Extra: fmt.Sprintf("from any to %s layer2 MAC %s any via %s", addr, mac, hostHalf),
				},
				FirewallRule{
					RuleNumber: number, Action: "allow", Proto: proto.name,
					Extra: fmt.Sprintf("from any to %s via %s", addr, hostHalf),
				},
			)
		}
		rules = append(rules,
			FirewallRule{
				RuleNumber: number, Action: "deny", Log: true, Proto: proto.name,
				Extra: fmt.Sprintf("from any to any layer2 via %s", secBridge),
			},
			FirewallRule{
				RuleNumber: number, Action: "deny", Log: true, Proto: proto.name,
				Extra: fmt.Sprintf("from any to any via %s", hostHalf),
			},
		)
	}
	return rules
}

// BuildFirewallScript renders every Secure VNET interface's rules as a
// CommandBuilder's Raw lines, ready for inclusion in the jail's start hook
// script.
func BuildFirewallScript(ifaces []Interface) *CommandBuilder {
	b := &CommandBuilder{}
	for _, iface := range ifaces {
		for _, r := range BuildFirewallRules(iface) {
			b.Raw(r.String())
		}
	}
	return b
}
