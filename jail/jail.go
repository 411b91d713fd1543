package jail

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bsdci/libioc/config"
	"github.com/bsdci/libioc/events"
	"github.com/bsdci/libioc/fstab"
	"github.com/bsdci/libioc/host"
	"github.com/bsdci/libioc/iocerrors"
	"github.com/bsdci/libioc/network"
	"github.com/bsdci/libioc/storage"
	"github.com/bsdci/libioc/zfs"
)

// Jail is one managed FreeBSD jail: its identity, config, fstab, storage
// backend, and the process-exec surface needed to actually launch it
// (component G, §3.1 Jail entity, §4.6 lifecycle).
type Jail struct {
	ID              string
	Source          string
	MultipleSources bool
	Dataset         string // "<pool>/iocage/jails/<id>"
	Root            string // mountpoint of Dataset's root clone, jail(8)'s "path"

	Config  *config.Config
	Fstab   *fstab.Fstab
	Storage storage.Backend

	ZFS   *zfs.Client
	Host  *host.Host
	Run   Runner
	Devfs DevfsRulesetResolver

	hooks *Hooks
}

// KernelName is the jail(8)-visible identifier (§4.6.8).
func (j *Jail) KernelName() string { return KernelName(j.Source, j.ID) }

// FullName is "<source>/<id>" when more than one source is configured.
func (j *Jail) FullName() string { return FullName(j.MultipleSources, j.Source, j.ID) }

// HumanReadableName is j.ID, or its first 8 characters if UUID-shaped.
func (j *Jail) HumanReadableName() string { return HumanReadableName(j.ID) }

func (j *Jail) launchScriptsDir() string { return filepath.Join(j.Root, "..", "launch-scripts") }

// JID returns the running jail's numeric id via "jls", or ok=false if it
// isn't running.
func (j *Jail) JID(ctx context.Context) (id int, ok bool, err error) {
	out, rerr := j.Run.Run(ctx, "jls", "-j", j.KernelName(), "jid")
	if rerr != nil {
		return 0, false, nil
	}
	n, perr := strconv.Atoi(strings.TrimSpace(out))
	if perr != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// Running reports whether the jail currently has a JID.
func (j *Jail) Running(ctx context.Context) bool {
	_, ok, _ := j.JID(ctx)
	return ok
}

// ---- resolver (§4.6.1 step 1) ----

func (j *Jail) applyResolver() error {
	resolver, err := j.Config.ResolverConfig()
	if err != nil {
		return err
	}
	path := filepath.Join(j.Root, "etc", "resolv.conf")
	switch resolver.Method {
	case config.ResolverCopy:
		data, err := os.ReadFile("/etc/resolv.conf")
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0644)
	case config.ResolverSkip:
		return os.WriteFile(path, nil, 0644)
	default: // manual
		return os.WriteFile(path, []byte(strings.Join(resolver.Lines, "\n")+"\n"), 0644)
	}
}

// ---- launch-scripts containment (§4.6.1 step 3) ----

func (j *Jail) ensureLaunchScriptsContained() error {
	dir := j.launchScriptsDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	rootReal, err := filepath.EvalSymlinks(filepath.Dir(j.Root))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(real, rootReal) {
		return iocerrors.New(iocerrors.KindInsecureJailPath, dir)
	}
	return nil
}

// ---- DependencyResolver: injected so this package never needs a jail
// registry of its own (§4.6.1 step 2) ----

// DependencyResolver looks a jail filter up to a concrete *Jail, so
// start_dependant_jails can recursively start each depends entry.
type DependencyResolver interface {
	Resolve(filter string) (*Jail, bool)
}

// startDependants resolves and recursively starts every "depends" entry,
// sorted by priority, passing seen to break cycles (§4.6.1 step 2). Every
// dependant it actually starts registers a rollback step on parent that
// stops it again, so a later failure in the parent's own Start unwinds the
// dependants it brought up.
func (j *Jail) startDependants(ctx context.Context, scope *events.Scope, parent *events.Event, resolver DependencyResolver, releases map[string]storage.Release, seen map[string]bool) error {
	enabled, err := j.Config.GetBool("start_dependant_jails")
	if err != nil || !enabled || resolver == nil {
		return nil
	}
	if seen[j.FullName()] {
		return nil
	}
	seen[j.FullName()] = true

	filters, err := j.Config.Depends()
	if err != nil {
		return err
	}

	type candidate struct {
		jail     *Jail
		priority int64
	}
	var candidates []candidate
	for _, filter := range filters {
		dep, ok := resolver.Resolve(filter)
		if !ok || seen[dep.FullName()] || dep.Running(ctx) {
			continue
		}
		priority, _ := dep.Config.Get("priority")
		p, _ := priority.AsInt()
		candidates = append(candidates, candidate{jail: dep, priority: p})
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].priority < candidates[b].priority
	})

	e := scope.Begin(events.TypeJailDependantsStart, j.FullName())
	for _, c := range candidates {
		dep := c.jail
		if seen[dep.FullName()] {
			continue
		}
		if err := dep.Start(ctx, scope, releases[dep.ID], resolver, releases, seen); err != nil {
			return scope.Fail(ctx, e, err)
		}
		started := dep
		parent.AddRollbackStep(func(ctx context.Context, emit events.Emitter) error {
			return started.Stop(ctx, events.NewScope(emit), true)
		})
	}
	scope.End(e)
	return nil
}

// ---- Start (§4.6.1) ----

// Start brings the jail up: precondition stopped, builds and writes hook
// scripts, resolves the devfs ruleset, and invokes "jail -c". Every
// successful step registers a rollback action that Fail runs in reverse
// if a later step fails.
func (j *Jail) Start(ctx context.Context, scope *events.Scope, release storage.Release, resolver DependencyResolver, releases map[string]storage.Release, seen map[string]bool) error {
	if j.Running(ctx) {
		return iocerrors.New(iocerrors.KindJailAlreadyRunning, j.FullName())
	}

	e := scope.Begin(events.TypeJailLaunch, j.FullName())

	if seen == nil {
		seen = map[string]bool{}
	}
	if err := j.startDependants(ctx, scope, e, resolver, releases, seen); err != nil {
		return scope.Fail(ctx, e, err)
	}

	if err := j.applyResolver(); err != nil {
		return scope.Fail(ctx, e, err)
	}

	if err := j.ensureLaunchScriptsContained(); err != nil {
		return scope.Fail(ctx, e, err)
	}

	if err := j.Storage.Apply(ctx, scope, release); err != nil {
		return scope.Fail(ctx, e, err)
	}

	ifaces, err := j.networkInterfaces()
	if err != nil {
		return scope.Fail(ctx, e, err)
	}
	e.AddRollbackStep(func(ctx context.Context, emit events.Emitter) error {
		j.teardownNetwork(ctx, ifaces)
		return nil
	})

	vnet, _ := j.Config.GetBool("vnet")
	hooks := NewHooks()
	j.hooks = hooks

	if err := j.buildPrestartHook(hooks); err != nil {
		return scope.Fail(ctx, e, err)
	}
	kernelJidPlaceholder := "$IOCAGE_JID"
	if err := j.buildCreatedHook(hooks, ifaces, kernelJidPlaceholder); err != nil {
		return scope.Fail(ctx, e, err)
	}
	if err := j.buildStartHook(hooks, ifaces, vnet); err != nil {
		return scope.Fail(ctx, e, err)
	}
	if err := j.buildPoststartHook(hooks); err != nil {
		return scope.Fail(ctx, e, err)
	}

	if err := hooks.WriteTo(j.Dataset); err != nil {
		return scope.Fail(ctx, e, err)
	}
	execJailUser, _ := j.Config.GetString("exec_jail_user")
	if err := WriteJailConf(j.Dataset, j.KernelName(), execJailUser); err != nil {
		return scope.Fail(ctx, e, err)
	}

	spec, err := j.buildStartSpec(ctx, hooks, vnet, "")
	if err != nil {
		return scope.Fail(ctx, e, err)
	}

	if _, err := j.Run.Run(ctx, "jail", append([]string{"-c"}, spec.Build()...)...); err != nil {
		return scope.Fail(ctx, e, iocerrors.Wrap(iocerrors.KindJailLaunchFailed, j.FullName(), err))
	}

	e.AddRollbackStep(func(ctx context.Context, emit events.Emitter) error {
		return j.teardownFailedJail(ctx)
	})

	scope.End(e)
	return nil
}

func (j *Jail) networkInterfaces() ([]network.Interface, error) {
	bridges, err := j.Config.Interfaces()
	if err != nil {
		return nil, err
	}
	ip4, err := j.Config.IPv4Addresses()
	if err != nil {
		return nil, err
	}
	ip6, err := j.Config.IPv6Addresses()
	if err != nil {
		return nil, err
	}
	macPrefix, _ := j.Config.GetString("mac_prefix")

	var out []network.Interface
	for nic, bridge := range bridges {
		iface := network.Interface{
			Nic:          nic,
			Bridge:       bridge,
			IPv4:         ip4[nic],
			IPv6:         ip6[nic],
			JailFullName: j.FullName(),
			MacPrefix:    macPrefix,
		}
		if pair, ok, _ := j.Config.MacPairFor(nic); ok {
			iface.MAC = pair
		}
		out = append(out, iface)
	}
	return out, nil
}

func (j *Jail) buildPrestartHook(hooks *Hooks) error {
	b := hooks.Builder(HookPrestart)
	limits, err := j.Config.ResourceLimits()
	if err != nil {
		return err
	}
	for _, l := range limits {
		b.Add("rctl", "-a", fmt.Sprintf("jail:%s:%s:%s", j.KernelName(), l.Key, l.LimitString))
	}
	if extra, _ := j.Config.GetString("exec_prestart"); extra != "" {
		b.Raw(extra)
	}
	return nil
}

func (j *Jail) buildCreatedHook(hooks *Hooks, ifaces []network.Interface, jidVar string) error {
	b := hooks.Builder(HookCreated)
	b.Raw("export IOCAGE_JID=" + jidVar)
	b.Raw("set -eu")
	for _, iface := range ifaces {
		for _, l := range iface.BuildCreated(jidVar).Lines() {
			b.Raw(l)
		}
	}
	if datasets, _ := j.Config.GetString("jail_zfs_dataset"); datasets != "" {
		for _, l := range storage.AttachCommands(0, strings.Split(datasets, ",")) {
			b.Raw(l)
		}
	}
	if extra, _ := j.Config.GetString("exec_created"); extra != "" {
		b.Raw(extra)
	}
	return nil
}

func (j *Jail) buildStartHook(hooks *Hooks, ifaces []network.Interface, vnet bool) error {
	b := hooks.Builder(HookStart)
	b.Raw(". ./.env 2>/dev/null || true")
	if vnet {
		for _, iface := range ifaces {
			for _, l := range iface.BuildStart().Lines() {
				b.Raw(l)
			}
		}
	}
	b.Add("ifconfig", "lo0", "localhost")
	if router, _ := j.Config.GetString("defaultrouter"); router != "" && router != "none" {
		b.Add("route", "add", "default", router)
	}
	if router6, _ := j.Config.GetString("defaultrouter6"); router6 != "" && router6 != "none" {
		b.Add("route", "add", "-6", "default", router6)
	}
	if vnet {
		for _, iface := range ifaces {
			if iface.Bridge.SecureVNET {
				for _, l := range network.BuildFirewallScript([]network.Interface{iface}).Lines() {
					b.Raw(l)
				}
			}
		}
	} else {
		b.Raw("service ipfw onestop 2>/dev/null || true")
	}
	if extra, _ := j.Config.GetString("exec_start"); extra != "" {
		b.Raw(extra)
	}
	return nil
}

func (j *Jail) buildPoststartHook(hooks *Hooks) error {
	b := hooks.Builder(HookPoststart)
	startPath := hooks.Path(j.Dataset, HookStart)
	b.Raw(fmt.Sprintf("jexec %s %s", j.KernelName(), startPath))
	if extra, _ := j.Config.GetString("exec_poststart"); extra != "" {
		b.Raw(extra)
	}
	return nil
}

func (j *Jail) buildStartSpec(ctx context.Context, hooks *Hooks, vnet bool, singleCommand string) (StartSpec, error) {
	getBool := func(key string) bool { v, _ := j.Config.GetBool(key); return v }
	getInt := func(key string, def int) int {
		v, err := j.Config.Get(key)
		if err != nil {
			return def
		}
		n, err := v.AsInt()
		if err != nil {
			return def
		}
		return int(n)
	}
	getString := func(key string) string { s, _ := j.Config.GetString(key); return s }

	dhcp := false
	ip4, _ := j.Config.IPv4Addresses()
	for _, addrs := range ip4 {
		for _, a := range addrs {
			if a == "dhcp" {
				dhcp = true
			}
		}
	}

	baseRuleset := getString("devfs_ruleset")
	if baseRuleset == "" {
		baseRuleset = "4"
	}
	rulesetNum, err := j.Devfs.Resolve(ctx, baseRuleset, dhcp, getBool("allow_mount_zfs"))
	if err != nil {
		return StartSpec{}, err
	}

	spec := StartSpec{
		KernelName:       j.KernelName(),
		Path:             j.Root,
		HostHostname:     getString("host_hostname"),
		HostHostUUID:     getString("host_hostuuid"),
		VNET:             vnet,
		AllowMount:       getBool("allow_mount"),
		AllowMountDevfs:  getBool("allow_mount_devfs"),
		AllowMountNullfs: getBool("allow_mount_nullfs"),
		AllowMountProcfs: getBool("allow_mount_procfs"),
		AllowMountTmpfs:  getBool("allow_mount_tmpfs"),
		AllowMountZFS:    getBool("allow_mount_zfs"),
		AllowChflags:     getBool("allow_chflags"),
		AllowRawSockets:  getBool("allow_raw_sockets"),
		AllowSysvipc:     getBool("allow_sysvipc"),
		AllowSetHostname: getBool("allow_set_hostname"),
		AllowQuotas:      getBool("allow_quotas"),
		AllowDying:       getBool("allow_dying"),
		MountDevfs:       getBool("mount_devfs"),
		MountFdescfs:     getBool("mount_fdescfs"),
		SysvMsg:          getString("sysvmsg"),
		SysvSem:          getString("sysvsem"),
		SysvShm:          getString("sysvshm"),
		EnforceStatfs:    getInt("enforce_statfs", 2),
		ChildrenMax:      getInt("children_max", 0),
		DevfsRuleset:     rulesetNum,
		FstabPath:        filepath.Join(j.Dataset, "fstab"),
		StopTimeout:      getInt("stop_timeout", 30),
		ExecTimeout:      getInt("exec_timeout", 120),
		Securelevel:      getInt("securelevel", -1),
		ExecPrestart:     hooks.Path(j.Dataset, HookPrestart),
		ExecCreated:      hooks.Path(j.Dataset, HookCreated),
		ExecPoststart:    hooks.Path(j.Dataset, HookPoststart),
		ExecPrestop:      hooks.Path(j.Dataset, HookPrestop),
		ExecStop:         hooks.Path(j.Dataset, HookStop),
		ExecPoststop:     hooks.Path(j.Dataset, HookPoststop),
		ExecJailUser:     getString("exec_jail_user"),
		Persist:          singleCommand == "",
		SingleCommand:    singleCommand,
	}

	if !vnet {
		for _, addrs := range ip4 {
			spec.IPv4Addrs = append(spec.IPv4Addrs, addrs...)
		}
		ip6, _ := j.Config.IPv6Addresses()
		for _, addrs := range ip6 {
			spec.IPv6Addrs = append(spec.IPv6Addrs, addrs...)
		}
	}

	return spec, nil
}
