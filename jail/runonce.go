package jail

import (
	"context"
	"fmt"

	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/iocerrors"
	"github.com/bsdci/libioc/storage"
)

// RunOnce launches a single-command ("fork_exec") jail: config overrides
// apply for the duration of the call only, the jail starts nopersist with
// created.sh/poststop.sh around the command, and it auto-destroys when the
// command exits (§4.6.4). The original config is restored on return.
func (j *Jail) RunOnce(ctx context.Context, scope *events.Scope, command string, overrides map[string]string, release storage.Release) (output string, err error) {
	if j.Running(ctx) {
		return "", iocerrors.New(iocerrors.KindJailAlreadyRunning, j.FullName())
	}

	snapshot := j.Config.ToMap()
	defer func() {
		for k := range j.Config.ToMap() {
			if _, ok := snapshot[k]; !ok {
				j.Config.Delete(k)
			}
		}
		for k, v := range snapshot {
			j.Config.Set(k, v)
		}
	}()
	if errs := j.Config.Clone(overrides, true); len(errs) > 0 {
		return "", errs[0]
	}

	if err := j.Storage.Setup(ctx, scope, release); err != nil {
		return "", err
	}

	ifaces, err := j.networkInterfaces()
	if err != nil {
		return "", err
	}
	vnet, _ := j.Config.GetBool("vnet")

	hooks := NewHooks()
	if err := j.buildPrestartHook(hooks); err != nil {
		return "", err
	}
	if err := j.buildCreatedHook(hooks, ifaces, "$IOCAGE_JID"); err != nil {
		return "", err
	}
	hooks.Builder(HookCreated).Add("/usr/sbin/jexec", j.KernelName(), "/bin/sh", "-c", command)
	j.buildPoststopHook(hooks, nil)

	if err := hooks.WriteTo(j.Dataset); err != nil {
		return "", err
	}
	execJailUser, _ := j.Config.GetString("exec_jail_user")
	if err := WriteJailConf(j.Dataset, j.KernelName(), execJailUser); err != nil {
		return "", err
	}

	spec, err := j.buildStartSpec(ctx, hooks, vnet, command)
	if err != nil {
		return "", err
	}

	out, err := j.Run.Run(ctx, "jail", append([]string{"-c"}, spec.Build()...)...)
	if err != nil {
		return out, iocerrors.Wrap(iocerrors.KindJailLaunchFailed, j.FullName(), err)
	}

	if err := j.teardownMounts(ctx); err != nil {
		return out, err
	}
	if _, perr := j.Run.Run(ctx, "sh", hooks.Path(j.Dataset, HookPoststop)); perr != nil {
		return out, fmt.Errorf("poststop: %w", perr)
	}
	return out, nil
}
