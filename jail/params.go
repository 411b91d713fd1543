package jail

import (
	"fmt"
	"strconv"

	shellquote "github.com/kballard/go-shellquote"
)

// ParamVector builds the "jail -c" argument list from resolved config
// instead of inline string formatting, separating parameter assembly from
// invocation the way original_source's libioc/JailParams.py separates
// parameter representation from the sysctl layer it introspects
// (SUPPLEMENTED FEATURES).
type ParamVector struct {
	args []string
}

// Set adds "name=value", shell-quoting value the way generated hook
// scripts quote interpolated values (go-shellquote).
func (p *ParamVector) Set(name, value string) *ParamVector {
	p.args = append(p.args, fmt.Sprintf("%s=%s", name, shellquote.Join(value)))
	return p
}

// SetRaw adds "name=value" without quoting, for values already known to be
// a single safe token (numbers, booleans rendered as 0/1).
func (p *ParamVector) SetRaw(name, value string) *ParamVector {
	p.args = append(p.args, name+"="+value)
	return p
}

// SetBool adds "name=1" or "name=0".
func (p *ParamVector) SetBool(name string, v bool) *ParamVector {
	if v {
		return p.SetRaw(name, "1")
	}
	return p.SetRaw(name, "0")
}

// Flag adds a bare boolean parameter with no value ("persist",
// "vnet").
func (p *ParamVector) Flag(name string) *ParamVector {
	p.args = append(p.args, name)
	return p
}

// Args returns the accumulated "jail -c" argument list.
func (p *ParamVector) Args() []string { return append([]string(nil), p.args...) }

// StartSpec holds the full parameter set for "jail -c" per §4.6.1
// step 7: identity, IP policy (or vnet), filesystem policy, sysv
// namespaces, enforce_statfs, children.max, devfs_ruleset, fstab path,
// timeouts, allow.dying, and persist (or nopersist+command for
// single-command jails).
type StartSpec struct {
	KernelName    string
	Path          string
	HostHostname  string
	HostHostUUID  string
	VNET          bool
	IPv4Addrs     []string
	IPv6Addrs     []string
	AllowMount         bool
	AllowMountDevfs    bool
	AllowMountNullfs   bool
	AllowMountProcfs   bool
	AllowMountTmpfs    bool
	AllowMountZFS      bool
	AllowChflags       bool
	AllowRawSockets    bool
	AllowSysvipc       bool
	AllowSetHostname   bool
	AllowQuotas        bool
	AllowDying         bool
	MountDevfs    bool
	MountFdescfs  bool
	SysvMsg       string // "inherit" | "new" | "disable"
	SysvSem       string
	SysvShm       string
	EnforceStatfs int
	ChildrenMax   int
	DevfsRuleset  int
	FstabPath     string
	StopTimeout   int
	ExecTimeout   int
	Securelevel   int
	ExecPrestart  string
	ExecCreated   string
	ExecStart     string
	ExecPoststart string
	ExecPrestop   string
	ExecStop      string
	ExecPoststop  string
	ExecJailUser  string
	Persist       bool
	SingleCommand string // when set (RunOnce), implies nopersist + command=
}

// Build renders the vector jail(8) expects for "jail -c <args...>".
func (s StartSpec) Build() []string {
	p := &ParamVector{}
	p.Set("name", s.KernelName)
	p.Set("path", s.Path)
	p.Set("host.hostname", s.HostHostname)
	if s.HostHostUUID != "" {
		p.Set("host.hostuuid", s.HostHostUUID)
	}

	if s.VNET {
		p.Flag("vnet")
	} else {
		for _, a := range s.IPv4Addrs {
			p.Set("ip4.addr", a)
		}
		for _, a := range s.IPv6Addrs {
			p.Set("ip6.addr", a)
		}
	}

	p.SetBool("allow.mount", s.AllowMount)
	p.SetBool("allow.mount.devfs", s.AllowMountDevfs)
	p.SetBool("allow.mount.nullfs", s.AllowMountNullfs)
	p.SetBool("allow.mount.procfs", s.AllowMountProcfs)
	p.SetBool("allow.mount.tmpfs", s.AllowMountTmpfs)
	p.SetBool("allow.mount.zfs", s.AllowMountZFS)
	p.SetBool("allow.chflags", s.AllowChflags)
	p.SetBool("allow.raw_sockets", s.AllowRawSockets)
	p.SetBool("allow.sysvipc", s.AllowSysvipc)
	p.SetBool("allow.set_hostname", s.AllowSetHostname)
	p.SetBool("allow.quotas", s.AllowQuotas)
	p.SetBool("allow.dying", s.AllowDying)
	p.SetBool("mount.devfs", s.MountDevfs)
	p.SetBool("mount.fdescfs", s.MountFdescfs)

	if s.SysvMsg != "" {
		p.SetRaw("sysvmsg", s.SysvMsg)
	}
	if s.SysvSem != "" {
		p.SetRaw("sysvsem", s.SysvSem)
	}
	if s.SysvShm != "" {
		p.SetRaw("sysvshm", s.SysvShm)
	}

	p.SetRaw("enforce_statfs", strconv.Itoa(s.EnforceStatfs))
	p.SetRaw("children.max", strconv.Itoa(s.ChildrenMax))
	p.SetRaw("devfs_ruleset", strconv.Itoa(s.DevfsRuleset))
	p.Set("mount.fstab", s.FstabPath)
	p.SetRaw("stop.timeout", strconv.Itoa(s.StopTimeout))
	p.SetRaw("exec.timeout", strconv.Itoa(s.ExecTimeout))
	if s.Securelevel != 0 {
		p.SetRaw("securelevel", strconv.Itoa(s.Securelevel))
	}

	if s.ExecPrestart != "" {
		p.Set("exec.prestart", s.ExecPrestart)
	}
	if s.ExecCreated != "" {
		p.Set("exec.created", s.ExecCreated)
	}
	if s.ExecStart != "" {
		p.Set("exec.start", s.ExecStart)
	}
	if s.ExecPoststart != "" {
		p.Set("exec.poststart", s.ExecPoststart)
	}
	p.Set("exec.prestop", s.ExecPrestop)
	p.Set("exec.poststop", s.ExecPoststop)
	p.Set("exec.stop", s.ExecStop)
	if s.ExecJailUser != "" {
		p.Set("exec.jail_user", s.ExecJailUser)
	}

	if s.SingleCommand != "" {
		p.Flag("nopersist")
		p.Set("command", "/usr/bin/true")
	} else if s.Persist {
		p.Flag("persist")
	}

	return p.Args()
}

