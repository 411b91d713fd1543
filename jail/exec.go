package jail

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/creack/pty"
	shellquote "github.com/kballard/go-shellquote"
	"github.com/mattn/go-isatty"

	"github.com/bsdci/libioc/iocerrors"
)

// envPrefix is how every IOCAGE_ variable an exec'd command sees is named
// (§4.6.5 "propagates IOCAGE_<UPPER_KEY> plus IOCAGE_JAIL_PATH/IOCAGE_JID").
const envPrefix = "IOCAGE_"

func (j *Jail) execEnv(jid int) []string {
	env := os.Environ()
	env = append(env, fmt.Sprintf("%sJAIL_PATH=%s", envPrefix, j.Root))
	env = append(env, fmt.Sprintf("%sJID=%d", envPrefix, jid))
	for k, v := range j.Config.ToMap() {
		k = strings.TrimPrefix(k, "user.")
		env = append(env, envPrefix+strings.ToUpper(k)+"="+v)
	}
	return env
}

// Exec runs command inside the running jail via jexec(8), capturing
// combined output (§4.6.5).
func (j *Jail) Exec(ctx context.Context, command string) (string, error) {
	jid, running, err := j.JID(ctx)
	if err != nil {
		return "", err
	}
	if !running {
		return "", iocerrors.New(iocerrors.KindJailNotRunning, j.FullName())
	}

	words, err := shellquote.Split(command)
	if err != nil {
		return "", iocerrors.Wrap(iocerrors.KindJailCommandFailed, command, err)
	}
	args := append([]string{fmt.Sprint(jid)}, words...)

	cmd := exec.CommandContext(ctx, "/usr/sbin/jexec", args...)
	cmd.Env = j.execEnv(jid)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), iocerrors.Wrap(iocerrors.KindJailCommandFailed, command, err)
	}
	return string(out), nil
}

// Passthru runs command inside the jail with the controlling terminal
// attached directly (stdin/stdout/stderr), for interactive consoles
// (§4.6.5). When stdout isn't a terminal it falls back to a plain piped
// exec so output still reaches the caller.
func (j *Jail) Passthru(ctx context.Context, command string, stdin io.Reader, stdout, stderr io.Writer) error {
	jid, running, err := j.JID(ctx)
	if err != nil {
		return err
	}
	if !running {
		return iocerrors.New(iocerrors.KindJailNotRunning, j.FullName())
	}

	words, err := shellquote.Split(command)
	if err != nil {
		return iocerrors.Wrap(iocerrors.KindJailCommandFailed, command, err)
	}
	args := append([]string{fmt.Sprint(jid)}, words...)

	cmd := exec.CommandContext(ctx, "/usr/sbin/jexec", args...)
	cmd.Env = j.execEnv(jid)

	if f, ok := stdout.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		tty, err := pty.Start(cmd)
		if err != nil {
			return iocerrors.Wrap(iocerrors.KindJailCommandFailed, command, err)
		}
		defer tty.Close()
		go io.Copy(tty, stdin)
		_, err = io.Copy(stdout, tty)
		if err != nil && err != io.EOF {
			return iocerrors.Wrap(iocerrors.KindJailCommandFailed, command, err)
		}
		return cmd.Wait()
	}

	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return iocerrors.Wrap(iocerrors.KindJailCommandFailed, command, err)
	}
	return nil
}
