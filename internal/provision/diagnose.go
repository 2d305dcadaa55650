package provision

import (
	"context"

	"github.com/sdrwatch/sdrprov/internal/hostexec"
	"github.com/sdrwatch/sdrprov/internal/pyenv"
	"github.com/sdrwatch/sdrprov/internal/toolchain"
)

// requiredTools are the host binaries a full run invokes.
var requiredTools = []string{"apt-get", "git", "cmake", "make", "ldconfig", "udevadm", "python3", "systemctl"}

// ToolStatus reports whether a binary resolves on PATH.
type ToolStatus struct {
	Name      string
	Available bool
}

// Diagnosis is a side-effect-free view of the host.
type Diagnosis struct {
	Host         HostInfo
	ToolchainOK  bool
	ProbeCommand []string
	Tools        []ToolStatus
	VenvDir      string
	Capabilities []pyenv.Capability
	Root         bool
}

// Diagnose probes the toolchain, host tools and venv imports without
// changing anything. It does not require root.
func Diagnose(ctx context.Context, sys System, p Plan, lookPath func(string) bool) Diagnosis {
	if lookPath == nil {
		lookPath = hostexec.Available
	}
	target := p.BuildTarget()
	target.ApplyDefaults()

	d := Diagnosis{
		Host:         DescribeHost(),
		ProbeCommand: target.ProbeCommand,
		VenvDir:      p.Python.VenvDir,
		Root:         sys.Root.IsRoot(),
	}
	d.ToolchainOK = sys.Prober.Probe(ctx, target.ProbeCommand)
	for _, name := range requiredTools {
		d.Tools = append(d.Tools, ToolStatus{Name: name, Available: lookPath(name)})
	}

	spec := p.VenvSpec()
	spec.ApplyDefaults()
	for _, mod := range spec.Imports {
		d.Capabilities = append(d.Capabilities, pyenv.Capability{
			Module:    mod,
			Available: sys.Python.CanImport(ctx, spec.Dir, mod),
		})
	}
	return d
}

// ToolchainState maps the probe result onto the toolchain states.
func (d Diagnosis) ToolchainState() toolchain.State {
	if d.ToolchainOK {
		return toolchain.StateHealthy
	}
	return toolchain.StateUnverified
}
