package jail

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bsdci/libioc/network"
)

// HookName is one of the seven hook-script phases §4.6.1/§4.6.3 generate.
type HookName string

const (
	HookPrestart  HookName = "prestart"
	HookCreated   HookName = "created"
	HookStart     HookName = "start"
	HookPoststart HookName = "poststart"
	HookPrestop   HookName = "prestop"
	HookStop      HookName = "stop"
	HookPoststop  HookName = "poststop"
)

// Hooks accumulates one CommandBuilder per phase and writes them to
// "<jail dataset>/launch-scripts/<hook>.sh" (§4.6.1 step 5).
type Hooks struct {
	scripts map[HookName]*network.CommandBuilder
}

// NewHooks returns an empty Hooks set.
func NewHooks() *Hooks {
	return &Hooks{scripts: map[HookName]*network.CommandBuilder{}}
}

// Builder returns (creating if needed) the CommandBuilder for name.
func (h *Hooks) Builder(name HookName) *network.CommandBuilder {
	b, ok := h.scripts[name]
	if !ok {
		b = &network.CommandBuilder{}
		h.scripts[name] = b
	}
	return b
}

// WriteTo writes every registered hook's script (empty ones included)
// under dir/launch-scripts,
// mode 0755, matching "#!/bin/sh" scripts owned by root:wheel (ownership
// itself is a no-op without privilege; the mode is what this process can
// actually control, §4.6.1 step 5).
func (h *Hooks) WriteTo(dir string) error {
	scriptsDir := filepath.Join(dir, "launch-scripts")
	if err := os.MkdirAll(scriptsDir, 0755); err != nil {
		return err
	}
	for name, b := range h.scripts {
		path := filepath.Join(scriptsDir, string(name)+".sh")
		if err := os.WriteFile(path, []byte(b.Script()), 0755); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the path a hook script will be written to, for referencing
// from jail.conf's exec.* directives.
func (h *Hooks) Path(dir string, name HookName) string {
	return filepath.Join(dir, "launch-scripts", string(name)+".sh")
}

// RenderJailConf writes "<jail dataset>/jail.conf" (§4.6.1 step 6):
// exec.prestart/poststart/prestop/poststop reference the generated
// scripts directly, while exec.stop is an idempotent dispatcher that
// sources stop.sh only if present (so a jail without an explicit
// exec_stop override never fails to terminate).
func RenderJailConf(dir string, kernelName string, execJailUser string) string {
	scriptsDir := filepath.Join(dir, "launch-scripts")
	var b strings.Builder
	fmt.Fprintf(&b, "%s {\n", kernelName)
	fmt.Fprintf(&b, "\texec.prestart  = \"%s/prestart.sh\";\n", scriptsDir)
	fmt.Fprintf(&b, "\texec.poststart = \"%s/poststart.sh\";\n", scriptsDir)
	fmt.Fprintf(&b, "\texec.prestop   = \"%s/prestop.sh\";\n", scriptsDir)
	fmt.Fprintf(&b, "\texec.poststop  = \"%s/poststop.sh\";\n", scriptsDir)
	fmt.Fprintf(&b, "\texec.stop      = \"if [ -f %s/stop.sh ]; then %s/stop.sh; fi\";\n", scriptsDir, scriptsDir)
	if execJailUser != "" {
		fmt.Fprintf(&b, "\texec.jail_user = \"%s\";\n", execJailUser)
	}
	b.WriteString("}\n")
	return b.String()
}

// WriteJailConf renders and writes jail.conf to "<dir>/jail.conf".
func WriteJailConf(dir, kernelName, execJailUser string) error {
	return os.WriteFile(filepath.Join(dir, "jail.conf"), []byte(RenderJailConf(dir, kernelName, execJailUser)), 0644)
}
