package jail

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/iocerrors"
	"github.com/bsdci/libioc/network"
)

// fixedTeardownMounts is unmounted unconditionally alongside the fstab
// destinations on stop (§4.6.3 "_teardown_mounts unmounts fstab
// destinations and the fixed set").
var fixedTeardownMounts = []string{
	"dev/fd", "dev", "proc", "root/compat/linux/proc",
	"root/etcupdate", "root/usr/ports", "root/usr/src", "tmp",
}

func (j *Jail) buildPrestopHook(hooks *Hooks) {
	b := hooks.Builder(HookPrestop)
	if extra, _ := j.Config.GetString("exec_prestop"); extra != "" {
		b.Raw(extra)
	}
}

func (j *Jail) buildStopHook(hooks *Hooks) {
	b := hooks.Builder(HookStop)
	if datasets, _ := j.Config.GetString("jail_zfs_dataset"); datasets != "" {
		for _, ds := range strings.Split(datasets, ",") {
			b.Raw("zfs unjail $IOCAGE_JID " + strings.TrimSpace(ds))
		}
	}
	if extra, _ := j.Config.GetString("exec_stop"); extra != "" {
		b.Raw(extra)
	}
}

func (j *Jail) buildPoststopHook(hooks *Hooks, ifaces []string) {
	b := hooks.Builder(HookPoststop)
	for _, l := range ifaces {
		b.Raw(l)
	}
	if extra, _ := j.Config.GetString("exec_poststop"); extra != "" {
		b.Raw(extra)
	}
}

// prepareStop builds prestop/stop/poststop hook scripts (§4.6.3). When any
// Secure VNET nic is configured, the poststop script also deletes the
// jail's firewall rule at jid+10000 (§4.5 "the rule with this number is
// deleted").
func (j *Jail) prepareStop(jid int) *Hooks {
	hooks := NewHooks()
	j.buildPrestopHook(hooks)
	j.buildStopHook(hooks)

	var teardownLines []string
	bridges, _ := j.Config.Interfaces()
	hasSecureVNET := false
	for nic, bridge := range bridges {
		if bridge.SecureVNET {
			hasSecureVNET = true
			epairID := network.EpairID(j.FullName(), nic)
			teardownLines = append(teardownLines, fmt.Sprintf("ifconfig ioc%sbr destroy", epairID[:6]))
		}
		teardownLines = append(teardownLines, fmt.Sprintf("ifconfig %s:%d destroy", nic, jid))
	}
	if hasSecureVNET {
		teardownLines = append(teardownLines, strings.Join(network.DeleteFirewallRuleCommand(jid), " "))
	}
	j.buildPoststopHook(hooks, teardownLines)
	return hooks
}

// teardownMounts unmounts every fstab destination plus the fixed set, via
// "umount -f", then "umount -a -F <fstab>" (§4.6.3).
func (j *Jail) teardownMounts(ctx context.Context) error {
	for _, l := range j.Fstab.Render("", nil) {
		j.Run.Run(ctx, "umount", "-f", l.Destination)
	}
	for _, m := range fixedTeardownMounts {
		j.Run.Run(ctx, "umount", "-f", j.Root+"/"+m)
	}
	_, err := j.Run.Run(ctx, "umount", "-a", "-F", j.Dataset+"/fstab")
	return err
}

// teardownNetwork reverses network.Interface.BuildCreated: it destroys
// every epair half (and, in Secure mode, the secondary bridge and the
// firewall rule at jid+10000) created for ifaces. Best-effort: run from a
// rollback step, so a command that fails because nothing was created yet
// is not itself an error (§4.6.1 step 8, §3.2 invariant 5).
func (j *Jail) teardownNetwork(ctx context.Context, ifaces []network.Interface) {
	jidNum, ok, _ := j.JID(ctx)
	jid := "$IOCAGE_JID"
	if ok {
		jid = strconv.Itoa(jidNum)
	}

	hasSecureVNET := false
	for _, iface := range ifaces {
		for _, l := range iface.BuildTeardown(jid).Lines() {
			j.Run.Run(ctx, "sh", "-c", l)
		}
		if iface.Bridge.SecureVNET {
			hasSecureVNET = true
		}
	}
	if hasSecureVNET && ok {
		cmd := network.DeleteFirewallRuleCommand(jidNum)
		j.Run.Run(ctx, cmd[0], cmd[1:]...)
	}
}

// teardownFailedJail destroys a jail(2) instance that may have been created
// by a since-failed Start (best-effort: "jail -r" on a jail that was never
// created simply fails and is ignored), then unmounts everything
// teardownMounts covers (§4.6.1 step 8, §3.2 invariant 5).
func (j *Jail) teardownFailedJail(ctx context.Context) error {
	j.Run.Run(ctx, "jail", "-r", "-f", j.Dataset+"/jail.conf", j.KernelName())
	return j.teardownMounts(ctx)
}

// Stop brings the jail down (§4.6.3): "jail -r" first, falling back to
// manually running prestop/poststop if force is set and jail -r fails.
func (j *Jail) Stop(ctx context.Context, scope *events.Scope, force bool) error {
	jid, running, _ := j.JID(ctx)
	if !running {
		return iocerrors.New(iocerrors.KindJailNotRunning, j.FullName())
	}

	e := scope.Begin(events.TypeJailDestroy, j.FullName())

	hooks := j.prepareStop(jid)
	if err := hooks.WriteTo(j.Dataset); err != nil {
		return scope.Fail(ctx, e, err)
	}
	execJailUser, _ := j.Config.GetString("exec_jail_user")
	if err := WriteJailConf(j.Dataset, j.KernelName(), execJailUser); err != nil {
		return scope.Fail(ctx, e, err)
	}

	_, err := j.Run.Run(ctx, "jail", "-r", "-f", j.Dataset+"/jail.conf", j.KernelName())
	if err != nil {
		if !force {
			return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindJailCommandFailed, j.FullName(), err))
		}
		j.Run.Run(ctx, "sh", hooks.Path(j.Dataset, HookPrestop))
		j.Run.Run(ctx, "sh", hooks.Path(j.Dataset, HookPoststop))
	}

	if err := j.teardownMounts(ctx); err != nil {
		return scope.Fail(ctx, e, err)
	}

	scope.End(e)
	return nil
}
