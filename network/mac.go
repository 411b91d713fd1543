// SPDX-License-Identifier: BSD-2-Clause

// Package network is the VNET engine (component D): it builds epair/bridge
// topology command lists and, in Secure mode, IPFW rule sets, without
// executing anything itself — callers (the jail lifecycle package) collect
// the command lists into generated hook scripts (§4.5, §9 "Queuing command
// abstractions").
package network

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// NicHash derives the stable hash used to name shell variables and epair
// devices for (jailFullName, nic), per §3.1 "Network ... derives a stable
// epair_id and a _nic_hash from (jail.full_name, nic)".
func NicHash(jailFullName, nic string) string {
	sum := sha256.Sum224([]byte(jailFullName + "/" + nic))
	return hex.EncodeToString(sum[:])[:8]
}

// EpairID is the stable identifier embedded in generated epair names.
func EpairID(jailFullName, nic string) string {
	return NicHash(jailFullName, nic)
}

// DeriveMAC computes a deterministic MAC pair for (jailFullName, nic) from
// SHA-224(jailFullName XOR nic) prefixed with macPrefix, as
// original_source's libioc/MacAddress.py does; the second address is the
// first with its last octet incremented by one ("a+1", §4.5).
func DeriveMAC(jailFullName, nic, macPrefix string) (a, b string) {
	xored := xorStrings(jailFullName, nic)
	sum := sha256.Sum224([]byte(xored))
	digest := hex.EncodeToString(sum[:])

	prefixBytes := normalizeMacPrefix(macPrefix)
	needed := 6 - len(prefixBytes)
	tail := make([]byte, needed)
	for i := 0; i < needed; i++ {
		b, _ := hexByte(digest[i*2 : i*2+2])
		tail[i] = b
	}

	octets := append(append([]byte{}, prefixBytes...), tail...)
	a = formatMac(octets)

	octets[len(octets)-1]++
	b = formatMac(octets)
	return a, b
}

func hexByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 16, 8)
	return byte(v), err
}

func normalizeMacPrefix(prefix string) []byte {
	if prefix == "" {
		prefix = "02ff60"
	}
	out := make([]byte, 0, 3)
	for i := 0; i+1 < len(prefix) && len(out) < 3; i += 2 {
		b, err := hexByte(prefix[i : i+2])
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	for len(out) < 3 {
		out = append(out, 0)
	}
	return out
}

func formatMac(octets []byte) string {
	parts := make([]string, len(octets))
	for i, o := range octets {
		parts[i] = fmt.Sprintf("%02x", o)
	}
	s := parts[0]
	for _, p := range parts[1:] {
		s += ":" + p
	}
	return s
}

func xorStrings(a, b string) string {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		var x, y byte
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		out[i] = x ^ y
	}
	return hex.EncodeToString(out)
}
