package config

import (
	"strings"

	"github.com/bsdci/libioc/internal/logger"
	"github.com/bsdci/libioc/iocerrors"
)

// RecognizedKeys are the flat config.json keys §6.2 lists as having
// well-known meaning (excluding the dynamic "<nic>_mac" and rlimit-name
// patterns, and the free-form "user.*" namespace, both handled separately).
var RecognizedKeys = map[string]bool{
	"id": true, "release": true, "basejail": true, "basejail_type": true,
	"vnet": true, "interfaces": true, "ip4_addr": true, "ip4_saddrsel": true,
	"ip4": true, "ip6_addr": true, "ip6_saddrsel": true, "ip6": true,
	"defaultrouter": true, "defaultrouter6": true, "resolver": true,
	"host_hostname": true, "host_hostuuid": true, "host_domainname": true,
	"mac_prefix": true, "devfs_ruleset": true, "enforce_statfs": true,
	"children_max": true, "mount_devfs": true, "mount_fdescfs": true,
	"securelevel": true, "sysvmsg": true, "sysvsem": true, "sysvshm": true,
	"exec_clean": true, "exec_fib": true, "exec_prestart": true,
	"exec_created": true, "exec_start": true, "exec_poststart": true,
	"exec_prestop": true, "exec_stop": true, "exec_poststop": true,
	"exec_timeout": true, "exec_jail_user": true, "stop_timeout": true,
	"login_flags": true, "priority": true, "depends": true, "rlimits": true,
	"jail_zfs": true, "jail_zfs_dataset": true, "provision_method": true,
	"provision_source": true, "provision_rev": true,
	"start_dependant_jails": true, "auto_mount_jail": true,
	"allow_chflags": true, "allow_mount": true, "allow_mount_devfs": true,
	"allow_mount_nullfs": true, "allow_mount_procfs": true,
	"allow_mount_tmpfs": true, "allow_mount_zfs": true, "allow_quotas": true,
	"allow_raw_sockets": true, "allow_socket_af": true, "allow_sysvipc": true,
	"allow_set_hostname": true, "allow_dying": true, "children_cur": true,
	"config_type": true,
}

func isDynamicKey(key string) bool {
	if strings.HasSuffix(key, "_mac") {
		return true
	}
	return IsResourceLimitKey(key)
}

// Recognized reports whether key is settable: a recognized static key, a
// "<nic>_mac"/rlimit-name dynamic key, or under the user.* namespace
// (§4.2: "raises UnknownConfigProperty otherwise").
func Recognized(key string) bool {
	if strings.HasPrefix(key, "user.") {
		return true
	}
	return RecognizedKeys[key] || isDynamicKey(key)
}

// Config is the per-jail property mapping (§3.1, §4.2). Values the caller
// never set fall back to Defaults, then to hardcoded defaults.
type Config struct {
	values   map[string]Value
	user     map[string]string
	Defaults *Defaults
	dirty    bool
	Handler  Handler
}

// New returns an empty Config falling back to d (may be nil, in which case
// only HardcodedDefaults apply).
func New(d *Defaults) *Config {
	return &Config{
		values:   map[string]Value{},
		user:     map[string]string{},
		Defaults: d,
	}
}

// Get returns the effective value of key: the user-set value if present,
// else the defaults-resource value, else the hardcoded default.
func (c *Config) Get(key string) (Value, error) {
	if !Recognized(key) {
		return Value{}, iocerrors.New(iocerrors.KindUnknownConfigProperty, key)
	}
	if strings.HasPrefix(key, "user.") {
		if v, ok := c.user[strings.TrimPrefix(key, "user.")]; ok {
			return StringValue(v), nil
		}
		return NoneValue(), nil
	}
	if v, ok := c.values[key]; ok {
		return v, nil
	}
	if c.Defaults != nil {
		if v, ok := c.Defaults.Get(key); ok {
			return v, nil
		}
	}
	if v, ok := HardcodedDefaults[key]; ok {
		return v, nil
	}
	return NoneValue(), nil
}

// GetString is a convenience wrapper around Get for plain scalars.
func (c *Config) GetString(key string) (string, error) {
	v, err := c.Get(key)
	if err != nil {
		return "", err
	}
	return v.AsString(), nil
}

// GetBool is a convenience wrapper around Get for boolean properties.
func (c *Config) GetBool(key string) (bool, error) {
	v, err := c.Get(key)
	if err != nil {
		return false, err
	}
	return v.AsBool(), nil
}

// Set parses raw and stores it under key, applying any special-property
// setter registered for key (§4.2.1, §4.2.2). It returns whether the
// effective value changed.
func (c *Config) Set(key, raw string) (bool, error) {
	if !Recognized(key) {
		return false, iocerrors.New(iocerrors.KindUnknownConfigProperty, key)
	}
	if strings.HasPrefix(key, "user.") {
		name := strings.TrimPrefix(key, "user.")
		old, existed := c.user[name]
		c.user[name] = raw
		changed := !existed || old != raw
		if changed {
			c.dirty = true
		}
		return changed, nil
	}

	if err := c.validateSpecial(key, raw); err != nil {
		return false, err
	}

	value := ParseValue(raw)
	old, existed := c.values[key]
	c.values[key] = value
	changed := !existed || old.String() != value.String()
	if changed {
		c.dirty = true
	}
	return changed, nil
}

// validateSpecial runs the §4.2.2 special-property parser for key purely
// for validation (the typed result is recomputed on demand by the
// accessors in accessors.go); it exists so Set/Clone reject
// malformed special values before they're stored as plain strings.
func (c *Config) validateSpecial(key, raw string) error {
	switch key {
	case "ip4_addr":
		_, err := ParseAddressSet(raw, true)
		return err
	case "ip6_addr":
		_, err := ParseAddressSet(raw, false)
		return err
	case "interfaces":
		_, err := ParseInterfaceSet(raw)
		return err
	default:
		if strings.HasSuffix(key, "_mac") {
			nic := strings.TrimSuffix(key, "_mac")
			ifaces, _ := c.Interfaces()
			if _, ok := ifaces[nic]; !ok {
				return iocerrors.New(iocerrors.KindInvalidMacAddress, key+" set before interfaces declares "+nic)
			}
			_, err := ParseMacPair(raw)
			return err
		}
		if IsResourceLimitKey(key) {
			_, err := ParseResourceLimit(key, raw)
			return err
		}
	}
	return nil
}

// Delete removes a user-set value for key so the defaults fallback applies
// again (§4.2 "delete(key)").
func (c *Config) Delete(key string) {
	if strings.HasPrefix(key, "user.") {
		delete(c.user, strings.TrimPrefix(key, "user."))
	} else {
		delete(c.values, key)
	}
	c.dirty = true
}

// Clone bulk-sets every key in data. If skipOnError, an invalid value logs
// and is dropped instead of aborting the whole clone (§4.2
// "clone(data, skip_on_error=false)").
func (c *Config) Clone(data map[string]string, skipOnError bool) []error {
	var skipped []error
	for key, raw := range data {
		if _, err := c.Set(key, raw); err != nil {
			if skipOnError && iocerrors.Of(err, iocerrors.KindInvalidJailConfigValue) {
				logger.L.Warn().Err(err).Str("key", key).Msg("skipping invalid config value")
				skipped = append(skipped, err)
				continue
			}
			if skipOnError {
				logger.L.Warn().Err(err).Str("key", key).Msg("skipping invalid config value")
				skipped = append(skipped, err)
				continue
			}
			skipped = append(skipped, err)
			return skipped
		}
	}
	return skipped
}

// ToMap flattens the config (user-set values and user.* keys only, not the
// defaults fallback) to a plain string map, the inverse of Clone — used by
// the round-trip law "Config.clone(Config.to_dict()) equals the original"
// (§8).
func (c *Config) ToMap() map[string]string {
	out := make(map[string]string, len(c.values)+len(c.user))
	for k, v := range c.values {
		out[k] = v.String()
	}
	for k, v := range c.user {
		out["user."+k] = v
	}
	return out
}

// Dirty reports whether Set/Delete/Clone changed anything since the last
// Save.
func (c *Config) Dirty() bool { return c.dirty }

// Save persists the config via its active Handler and clears the dirty
// flag (§4.2 "save()", §4.2.3 "saving always uses the active handler").
func (c *Config) Save() error {
	if c.Handler == nil {
		return iocerrors.New(iocerrors.KindCommandFailure, "no config handler bound")
	}
	if err := c.Handler.Save(c); err != nil {
		return err
	}
	c.dirty = false
	return nil
}
