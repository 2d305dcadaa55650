package provision

import (
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sdrwatch/sdrprov/internal/hostexec"
	"github.com/sdrwatch/sdrprov/internal/packaging"
	"github.com/sdrwatch/sdrprov/internal/pkgmgr"
	"github.com/sdrwatch/sdrprov/internal/pyenv"
	"github.com/sdrwatch/sdrprov/internal/toolchain"
)

// System aggregates one adapter per host subsystem. Tests substitute fakes.
type System struct {
	Root     packaging.RootChecker
	Prober   hostexec.Prober
	Packages pkgmgr.PackageManager
	VCS      toolchain.VersionControl
	Build    toolchain.BuildSystem
	Rules    toolchain.DeviceRules
	Python   pyenv.Interpreter
	Services packaging.ServiceManager
}

// NewHostSystem wires the real adapters. A zero probeTimeout selects
// hostexec.DefaultProbeTimeout.
func NewHostSystem(logger *slog.Logger, probeTimeout time.Duration, python string) System {
	runner := hostexec.NewRunner(logger)
	prober := hostexec.NewProber(probeTimeout)
	return System{
		Root:     packaging.NewRootChecker(),
		Prober:   prober,
		Packages: pkgmgr.NewAPT(runner),
		VCS:      toolchain.NewGit(runner),
		Build:    toolchain.NewCMake(runner),
		Rules:    toolchain.NewUdevadm(runner),
		Python:   pyenv.NewInterpreter(python, runner, prober),
		Services: packaging.NewServiceManager(runner, prober),
	}
}

// HostInfo identifies the machine in logs and the journal.
type HostInfo struct {
	Hostname string
	Machine  string
	Release  string
}

func (h HostInfo) String() string {
	return strings.TrimSpace(h.Hostname + " " + h.Machine + " " + h.Release)
}

// DescribeHost reads the kernel's uname data. Fields stay empty on failure.
func DescribeHost() HostInfo {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return HostInfo{}
	}
	return HostInfo{
		Hostname: unix.ByteSliceToString(u.Nodename[:]),
		Machine:  unix.ByteSliceToString(u.Machine[:]),
		Release:  unix.ByteSliceToString(u.Release[:]),
	}
}
