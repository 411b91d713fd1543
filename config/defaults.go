package config

import (
	"encoding/json"
	"os"
)

// HardcodedDefaults is the last-resort fallback when neither the user nor
// the per-source Defaults resource set a value (§4.2 "get(key)").
var HardcodedDefaults = map[string]Value{
	"basejail":              BoolValue(false),
	"basejail_type":         NoneValue(),
	"vnet":                  BoolValue(false),
	"ip4":                   StringValue("new"),
	"ip6":                   StringValue("new"),
	"ip4_saddrsel":          BoolValue(true),
	"ip6_saddrsel":          BoolValue(true),
	"resolver":              StringValue("/etc/resolv.conf"),
	"mac_prefix":            StringValue("02ff60"),
	"devfs_ruleset":         Value{Kind: KindInt, Int: 4},
	"enforce_statfs":        Value{Kind: KindInt, Int: 2},
	"children_max":          Value{Kind: KindInt, Int: 0},
	"mount_devfs":           BoolValue(true),
	"mount_fdescfs":         BoolValue(true),
	"securelevel":           Value{Kind: KindInt, Int: -1},
	"sysvmsg":               StringValue("disable"),
	"sysvsem":               StringValue("disable"),
	"sysvshm":               StringValue("disable"),
	"exec_clean":            BoolValue(true),
	"exec_fib":              Value{Kind: KindInt, Int: 0},
	"exec_timeout":          Value{Kind: KindInt, Int: 120},
	"exec_jail_user":        StringValue("root"),
	"stop_timeout":          Value{Kind: KindInt, Int: 30},
	"login_flags":           StringValue("-f root"),
	"priority":              Value{Kind: KindInt, Int: 0},
	"rlimits":               BoolValue(true),
	"start_dependant_jails": BoolValue(true),
	"auto_mount_jail":       BoolValue(true),
	"allow_chflags":         BoolValue(false),
	"allow_mount":           BoolValue(false),
	"allow_mount_devfs":     BoolValue(false),
	"allow_mount_nullfs":    BoolValue(false),
	"allow_mount_procfs":    BoolValue(false),
	"allow_mount_tmpfs":     BoolValue(false),
	"allow_mount_zfs":       BoolValue(false),
	"allow_quotas":          BoolValue(false),
	"allow_raw_sockets":     BoolValue(false),
	"allow_socket_af":       BoolValue(false),
	"allow_sysvipc":         BoolValue(false),
	"allow_set_hostname":    BoolValue(true),
	"allow_dying":           BoolValue(false),
	"config_type":           StringValue("auto"),
	"host_domainname":       StringValue("none"),
}

// Defaults is the per-source "default resource", persisted at
// "<source root>/defaults.json" (§4.2.3), consulted before
// HardcodedDefaults.
type Defaults struct {
	path   string
	values map[string]string
}

// LoadDefaults reads defaults.json at path if present; a missing file is
// not an error, it just means no source-level overrides exist yet.
func LoadDefaults(path string) (*Defaults, error) {
	d := &Defaults{path: path, values: map[string]string{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return d, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &d.values); err != nil {
		return nil, err
	}
	return d, nil
}

// Get returns the raw-string default for key parsed as a Value, if set.
func (d *Defaults) Get(key string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	raw, ok := d.values[key]
	if !ok {
		return Value{}, false
	}
	return ParseValue(raw), true
}

// Set stores a source-level default.
func (d *Defaults) Set(key, raw string) { d.values[key] = raw }

// Save whole-file-replaces defaults.json (§3.2 invariant 7).
func (d *Defaults) Save() error {
	data, err := json.MarshalIndent(d.values, "", "  ")
	if err != nil {
		return err
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, d.path)
}
