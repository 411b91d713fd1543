package config

import "strings"

// IPv4Addresses returns the parsed ip4_addr special property.
func (c *Config) IPv4Addresses() (AddressSet, error) {
	raw, err := c.GetString("ip4_addr")
	if err != nil {
		return nil, err
	}
	return ParseAddressSet(raw, true)
}

// IPv6Addresses returns the parsed ip6_addr special property.
func (c *Config) IPv6Addresses() (AddressSet, error) {
	raw, err := c.GetString("ip6_addr")
	if err != nil {
		return nil, err
	}
	return ParseAddressSet(raw, false)
}

// Interfaces returns the parsed interfaces special property.
func (c *Config) Interfaces() (InterfaceSet, error) {
	raw, err := c.GetString("interfaces")
	if err != nil {
		return nil, err
	}
	return ParseInterfaceSet(raw)
}

// ResolverConfig returns the parsed resolver special property.
func (c *Config) ResolverConfig() (Resolver, error) {
	raw, err := c.GetString("resolver")
	if err != nil {
		return Resolver{}, err
	}
	return ParseResolver(raw), nil
}

// Depends returns the list of jail filters the "depends" property names
// (§4.2.2); evaluated against the running jail set by the lifecycle
// package at start time.
func (c *Config) Depends() ([]string, error) {
	raw, err := c.GetString("depends")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return splitEscaped(raw), nil
}

// MacPairFor returns the "<nic>_mac" special property for nic, if set.
func (c *Config) MacPairFor(nic string) (MacPair, bool, error) {
	key := nic + "_mac"
	raw, err := c.GetString(key)
	if err != nil {
		return MacPair{}, false, err
	}
	if raw == "" {
		return MacPair{}, false, nil
	}
	pair, err := ParseMacPair(raw)
	return pair, true, err
}

// RlimitsEnabled reports the "rlimits" boolean; when false every rctl
// limit property is ignored entirely at start (§4.2.2).
func (c *Config) RlimitsEnabled() (bool, error) {
	v, err := c.Get("rlimits")
	if err != nil {
		return false, err
	}
	if v.IsNone() {
		return true, nil
	}
	return v.AsBool(), nil
}

// ResourceLimits returns every configured rctl(8) limit property.
func (c *Config) ResourceLimits() ([]ResourceLimitProp, error) {
	enabled, err := c.RlimitsEnabled()
	if err != nil || !enabled {
		return nil, err
	}
	var out []ResourceLimitProp
	for _, key := range KnownResourceLimits {
		raw, _ := c.GetString(key)
		if raw == "" {
			continue
		}
		prop, err := ParseResourceLimit(key, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, prop)
	}
	return out, nil
}
