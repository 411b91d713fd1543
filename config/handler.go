package config

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bsdci/libioc/zfs"
)

// Handler persists a Config's user-set values (not the defaults fallback)
// to one storage medium. Three handlers exist (§4.2.3): JSON, UCL, and
// ZFS user properties; config_type=auto probes them in that order.
type Handler interface {
	Load(c *Config) error
	Save(c *Config) error
	Name() string
}

// ---- JSON handler: "<jail dataset>/config.json" ----

type JSONHandler struct{ Path string }

func (h *JSONHandler) Name() string { return "json" }

func (h *JSONHandler) Load(c *Config) error {
	data, err := os.ReadFile(h.Path)
	if os.IsNotExist(err) {
		return err
	}
	if err != nil {
		return err
	}
	raw := map[string]string{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if _, err := c.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Save whole-file-replaces config.json (§3.2 invariant 7: "Config writes
// are whole-file replacements; partial writes are never observable" — a
// temp file + rename gives that atomicity).
func (h *JSONHandler) Save(c *Config) error {
	data, err := json.MarshalIndent(c.ToMap(), "", "  ")
	if err != nil {
		return err
	}
	tmp := h.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, h.Path)
}

// ---- UCL handler: "<jail dataset>/config" ----
//
// No UCL library exists anywhere in the retrieval pack, and iocage's UCL
// dialect here is just "key = \"value\";" lines — narrow enough that a
// small hand-rolled reader/writer is more honest than bolting on a generic
// UCL/libucl binding nothing in the corpus uses. See DESIGN.md.

type UCLHandler struct{ Path string }

func (h *UCLHandler) Name() string { return "ucl" }

func (h *UCLHandler) Load(c *Config) error {
	f, err := os.Open(h.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSuffix(line, ";")
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		val = strings.Trim(val, `"`)
		if _, err := c.Set(key, val); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (h *UCLHandler) Save(c *Config) error {
	m := c.ToMap()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s = %q;\n", k, m[k])
	}

	tmp := h.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, h.Path)
}

// ---- ZFS user-property handler: "org.freebsd.iocage:<key>" ----
//
// Kept only for read compatibility with legacy iocage/JailConfigZFS
// datasets (§9 "ZFS property-backed legacy config ... never used for
// writes in a fresh implementation"); Save returns an error.

type ZFSHandler struct {
	Client  *zfs.Client
	Dataset string
	Prefix  string // defaults to "org.freebsd.iocage:"
}

func (h *ZFSHandler) Name() string { return "zfs" }

func (h *ZFSHandler) prefix() string {
	if h.Prefix == "" {
		return "org.freebsd.iocage:"
	}
	return h.Prefix
}

func (h *ZFSHandler) Load(c *Config) error {
	props, err := h.Client.UserProperties(context.Background(), h.Dataset, h.prefix())
	if err != nil {
		return err
	}
	for k, v := range props {
		if _, err := c.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (h *ZFSHandler) Save(c *Config) error {
	return fmt.Errorf("zfs property config handler is read-only; never write fresh config via ZFS properties")
}

// Probe selects a persistence handler for jailDir/dataset the way
// config_type=auto does: JSON if config.json exists, else UCL if config
// exists, else ZFS user properties, else a fresh JSONHandler for a
// not-yet-created jail. Probing never mutates (§4.2.3).
func Probe(jailDir string, zfsClient *zfs.Client, dataset string) Handler {
	jsonPath := jailDir + "/config.json"
	if _, err := os.Stat(jsonPath); err == nil {
		return &JSONHandler{Path: jsonPath}
	}
	uclPath := jailDir + "/config"
	if _, err := os.Stat(uclPath); err == nil {
		return &UCLHandler{Path: uclPath}
	}
	if zfsClient != nil && dataset != "" {
		return &ZFSHandler{Client: zfsClient, Dataset: dataset}
	}
	return &JSONHandler{Path: jsonPath}
}
