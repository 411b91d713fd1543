package config

import (
	"strconv"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/bsdci/libioc/iocerrors"
	"github.com/go-playground/validator/v10"
)

// validate runs struct-tag validation on the parsed special-property
// structs below; govalidator only covers the freeform IPv4/IPv6 literal
// checks these parsers also need, so both libraries are in play, each for
// the shape of check it's suited to.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("mac48", func(fl validator.FieldLevel) bool {
		return macOctet(fl.Field().String())
	})
	return v
}

// AddressSet maps a nic name to the set of "addr/plen" interfaces
// configured on it, the parsed form of ip4_addr/ip6_addr (§4.2.2).
type AddressSet map[string][]string

// ParseAddressSet parses "nic|addr/plen,nic|addr/plen,..." pairs. Each
// address literal may also be "dhcp" or contain "accept_rtadv" (ip6 only);
// those are passed through without CIDR validation.
func ParseAddressSet(raw string, v4 bool) (AddressSet, error) {
	out := AddressSet{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	for _, pair := range splitEscaped(raw) {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.Index(pair, "|")
		if idx < 0 {
			return nil, iocerrors.New(iocerrors.KindInvalidJailConfigAddress, pair)
		}
		nic, addr := pair[:idx], pair[idx+1:]
		if nic == "" || addr == "" {
			return nil, iocerrors.New(iocerrors.KindInvalidJailConfigAddress, pair)
		}
		if !isSpecialAddress(addr) && !validCIDR(addr, v4) {
			return nil, iocerrors.New(iocerrors.KindInvalidIPAddress, addr)
		}
		out[nic] = append(out[nic], addr)
	}
	return out, nil
}

func isSpecialAddress(addr string) bool {
	return addr == "dhcp" || strings.Contains(addr, "accept_rtadv")
}

func validCIDR(addr string, v4 bool) bool {
	slash := strings.IndexByte(addr, '/')
	ip := addr
	if slash >= 0 {
		ip = addr[:slash]
		if _, err := strconv.Atoi(addr[slash+1:]); err != nil {
			return false
		}
	}
	if v4 {
		return govalidator.IsIPv4(ip)
	}
	return govalidator.IsIPv6(ip)
}

// HasRtadv reports whether any configured ip6 address requests router
// advertisement acceptance, which toggles rc.conf rtsold_enable (§4.2.2).
func (s AddressSet) HasRtadv() bool {
	for _, addrs := range s {
		for _, a := range addrs {
			if strings.Contains(a, "accept_rtadv") {
				return true
			}
		}
	}
	return false
}

// BridgeInterface is the parsed form of one "nic:bridge" pair from the
// interfaces property. A Secure bridge name is written with a leading ':'
// in the raw config and carries SecureVNET=true here.
type BridgeInterface struct {
	Nic        string `validate:"required"`
	Bridge     string `validate:"required"`
	SecureVNET bool
}

// InterfaceSet maps nic name to its BridgeInterface, the parsed form of the
// interfaces property (§4.2.2).
type InterfaceSet map[string]BridgeInterface

// ParseInterfaceSet parses "nic:bridge,nic:bridge,..." pairs. A bridge name
// beginning with ':' marks Secure VNET mode for that nic (§4.5).
func ParseInterfaceSet(raw string) (InterfaceSet, error) {
	out := InterfaceSet{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	for _, pair := range splitEscaped(raw) {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, iocerrors.New(iocerrors.KindInvalidJailConfigValue, pair)
		}
		nic, bridge := pair[:idx], pair[idx+1:]
		secure := strings.HasPrefix(bridge, ":")
		if secure {
			bridge = strings.TrimPrefix(bridge, ":")
		}
		iface := BridgeInterface{Nic: nic, Bridge: bridge, SecureVNET: secure}
		if err := validate.Struct(iface); err != nil {
			return nil, iocerrors.Wrap(iocerrors.KindInvalidJailConfigValue, pair, err)
		}
		out[nic] = iface
	}
	return out, nil
}

// ResolverMethod names how the jail's resolv.conf is populated (§4.2.2).
type ResolverMethod string

const (
	ResolverCopy   ResolverMethod = "copy"
	ResolverSkip   ResolverMethod = "skip"
	ResolverManual ResolverMethod = "manual"
)

// Resolver is the parsed "resolver" property.
type Resolver struct {
	Method ResolverMethod
	Lines  []string // only meaningful when Method == ResolverManual
}

// ParseResolver interprets the resolver property's three forms: the
// literal strings "/etc/resolv.conf" (copy) and "/dev/null" (skip), or any
// other value as a semicolon-delimited list of manual lines.
func ParseResolver(raw string) Resolver {
	trimmed := strings.TrimSpace(raw)
	switch trimmed {
	case "/etc/resolv.conf", "":
		return Resolver{Method: ResolverCopy}
	case "/dev/null":
		return Resolver{Method: ResolverSkip}
	default:
		lines := strings.Split(trimmed, ";")
		for i, l := range lines {
			lines[i] = strings.TrimSpace(l)
		}
		return Resolver{Method: ResolverManual, Lines: lines}
	}
}

// MacPair is a validated pair of MAC addresses for a nic ("<nic>_mac",
// §4.2.2): the host-side epair half and the jail-side half.
type MacPair struct {
	A string `validate:"mac48"`
	B string `validate:"mac48"`
}

var macOctet = func(s string) bool {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return false
	}
	for _, p := range parts {
		if len(p) != 2 {
			return false
		}
		if _, err := strconv.ParseUint(p, 16, 8); err != nil {
			return false
		}
	}
	return true
}

// ParseMacPair parses "a,b" and validates both halves as MAC-48 addresses.
func ParseMacPair(raw string) (MacPair, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return MacPair{}, iocerrors.New(iocerrors.KindInvalidMacAddress, raw)
	}
	pair := MacPair{A: strings.TrimSpace(parts[0]), B: strings.TrimSpace(parts[1])}
	if err := validate.Struct(pair); err != nil {
		return MacPair{}, iocerrors.Wrap(iocerrors.KindInvalidMacAddress, raw, err)
	}
	return pair, nil
}

// ResourceLimitProp is one rctl(8) limit, applied as
// "rctl -a jail:<id>:<key>:<limit_string>" at start and cleared at stop
// (§4.2.2).
type ResourceLimitProp struct {
	Key         string `validate:"required"`
	LimitString string `validate:"required"` // e.g. "deny=1000:deny" — action:amount[:action]
}

// ParseResourceLimit builds the limit for key from its raw limit string,
// rejecting an empty one.
func ParseResourceLimit(key, raw string) (ResourceLimitProp, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ResourceLimitProp{}, iocerrors.New(iocerrors.KindResourceLimitUnknown, key)
	}
	prop := ResourceLimitProp{Key: key, LimitString: trimmed}
	if err := validate.Struct(prop); err != nil {
		return ResourceLimitProp{}, iocerrors.Wrap(iocerrors.KindResourceLimitUnknown, key, err)
	}
	return prop, nil
}

// KnownResourceLimits lists the rctl(8) resource names iocage historically
// exposes as individual config properties.
var KnownResourceLimits = []string{
	"cputime", "datasize", "stacksize", "coredumpsize", "memoryuse",
	"memorylocked", "maxproc", "openfiles", "vmemoryuse", "pseudoterminals",
	"swapuse", "nthr", "msgqqueued", "msgqsize", "nmsgq", "nsem", "nsemop",
	"nshm", "shmsize", "wallclock", "pcpu", "readbps", "writebps",
	"readiops", "writeiops",
}

func IsResourceLimitKey(key string) bool {
	for _, k := range KnownResourceLimits {
		if k == key {
			return true
		}
	}
	return false
}
