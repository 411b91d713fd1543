package jail

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/bsdci/libioc/iocerrors"
)

// Runner executes host commands (jail(8), jexec(8), mount(8), ifconfig(8),
// ipfw(8)) and returns their trimmed stdout (stderr goes into the error),
// the way host.Runner does for the
// simpler uname/sysctl surface; the jail package needs its own because it
// also shells out to mount/jail/jexec, not just read-only host queries.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", iocerrors.Wrap(iocerrors.KindJailCommandFailed, name+" "+strings.Join(args, " ")+": "+stderr.String(), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// DefaultRunner is the Runner production code uses unless overridden.
var DefaultRunner Runner = execRunner{}
