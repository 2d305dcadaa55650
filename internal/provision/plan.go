package provision

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"

	"github.com/sdrwatch/sdrprov/internal/guard"
	"github.com/sdrwatch/sdrprov/internal/journal"
	"github.com/sdrwatch/sdrprov/internal/pkgmgr"
	"github.com/sdrwatch/sdrprov/internal/pyenv"
	"github.com/sdrwatch/sdrprov/internal/toolchain"
)

const (
	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"

	// DefaultCanonicalScript is the scanner script shipped in the project.
	DefaultCanonicalScript = "sdr_watch.py"

	// DefaultAliasScript is the name the control plane launches by default.
	DefaultAliasScript = "sdrwatch.py"

	// DefaultVenvName is the venv directory inside the project.
	DefaultVenvName = ".venv"
)

// PackagesPlan selects the OS packages to install.
type PackagesPlan struct {
	// Manager is the package manager. Default: apt
	Manager string `yaml:"manager"`

	// Install replaces the default package set when non-empty.
	Install []string `yaml:"install"`

	// Extra is appended to the package set.
	Extra []string `yaml:"extra"`
}

// CommandLine is an argv. In YAML it is either a list or one shell-style
// string such as "rtl_test -t".
type CommandLine []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *CommandLine) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		args, err := shlex.Split(n.Value)
		if err != nil {
			return fmt.Errorf("command %q: %w", n.Value, err)
		}
		*c = args
		return nil
	}
	var args []string
	if err := n.Decode(&args); err != nil {
		return err
	}
	*c = args
	return nil
}

// ToolchainPlan configures the rtl-sdr verification and source build.
type ToolchainPlan struct {
	ProbeCommand CommandLine       `yaml:"probe_command"`
	PrimaryURL   string            `yaml:"primary_url"`
	FallbackURL  string            `yaml:"fallback_url"`
	WorkDir      string            `yaml:"work_dir"`
	Prefix       string            `yaml:"prefix"`
	Options      map[string]string `yaml:"options"`
	RuleDest     string            `yaml:"rule_dest"`
	Jobs         int               `yaml:"jobs"`
}

// GuardPlan configures the driver blacklist.
type GuardPlan struct {
	BlacklistPath string `yaml:"blacklist_path"`

	// BlacklistPolicy is "overwrite" or "append". Default: overwrite
	BlacklistPolicy guard.Policy `yaml:"blacklist_policy"`
}

// PythonPlan configures the virtual environment.
type PythonPlan struct {
	// Interpreter creates the venv. Default: python3
	Interpreter string `yaml:"interpreter"`

	// VenvDir defaults to <project_dir>/.venv.
	VenvDir string `yaml:"venv_dir"`

	IsolateSystemPackages bool     `yaml:"isolate_system_packages"`
	Packages              []string `yaml:"packages"`
	Imports               []string `yaml:"imports"`
}

// ShimPlan names the legacy script alias.
type ShimPlan struct {
	Canonical string `yaml:"canonical"`
	Alias     string `yaml:"alias"`
}

// ServicesPlan configures service installation.
type ServicesPlan struct {
	// StartDelay separates the control and web unit starts. Default: 2s
	StartDelay time.Duration `yaml:"start_delay"`
}

// Plan is the run plan for a provisioning run, populated from an optional
// YAML file via LoadPlan.
type Plan struct {
	// LogLevel is the log level: "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// ProjectDir is the SDRWatch checkout. Default: $SDRWATCH_PROJECT_DIR
	// or the working directory.
	ProjectDir string `yaml:"project_dir"`

	// JournalPath is the run journal. Default: /var/lib/sdrprov/journal.db
	JournalPath string `yaml:"journal_path"`

	Packages  PackagesPlan  `yaml:"packages"`
	Toolchain ToolchainPlan `yaml:"toolchain"`
	Guard     GuardPlan     `yaml:"guard"`
	Python    PythonPlan    `yaml:"python"`
	Shim      ShimPlan      `yaml:"shim"`
	Services  ServicesPlan  `yaml:"services"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (p *Plan) ApplyDefaults() {
	if p.LogLevel == "" {
		p.LogLevel = DefaultLogLevel
	}
	if p.ProjectDir == "" {
		p.ProjectDir = os.Getenv("SDRWATCH_PROJECT_DIR")
	}
	if p.ProjectDir == "" {
		if wd, err := os.Getwd(); err == nil {
			p.ProjectDir = wd
		}
	}
	if p.ProjectDir != "" {
		if abs, err := filepath.Abs(p.ProjectDir); err == nil {
			p.ProjectDir = abs
		}
	}
	if p.JournalPath == "" {
		p.JournalPath = journal.DefaultPath
	}
	if p.Packages.Manager == "" {
		p.Packages.Manager = pkgmgr.ManagerAPT
	}
	if p.Guard.BlacklistPath == "" {
		p.Guard.BlacklistPath = guard.DefaultBlacklistPath
	}
	if p.Guard.BlacklistPolicy == "" {
		p.Guard.BlacklistPolicy = guard.PolicyOverwrite
	}
	if p.Python.VenvDir == "" && p.ProjectDir != "" {
		p.Python.VenvDir = filepath.Join(p.ProjectDir, DefaultVenvName)
	}
	if p.Shim.Canonical == "" {
		p.Shim.Canonical = DefaultCanonicalScript
	}
	if p.Shim.Alias == "" {
		p.Shim.Alias = DefaultAliasScript
	}
}

// Validate checks that required fields are set and values are acceptable.
func (p *Plan) Validate() error {
	switch p.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("provision: plan: invalid log_level %q", p.LogLevel)
	}
	if p.ProjectDir == "" || !filepath.IsAbs(p.ProjectDir) {
		return errors.New("provision: plan: project_dir must be an absolute path")
	}
	if p.Packages.Manager != pkgmgr.ManagerAPT {
		return fmt.Errorf("provision: plan: unsupported package manager %q", p.Packages.Manager)
	}
	switch p.Guard.BlacklistPolicy {
	case guard.PolicyOverwrite, guard.PolicyAppendMissing:
	default:
		return fmt.Errorf("provision: plan: invalid blacklist_policy %q (must be %q or %q)",
			p.Guard.BlacklistPolicy, guard.PolicyOverwrite, guard.PolicyAppendMissing)
	}
	if !filepath.IsAbs(p.Python.VenvDir) {
		return errors.New("provision: plan: python.venv_dir must be an absolute path")
	}
	if p.Toolchain.WorkDir != "" && (!filepath.IsAbs(p.Toolchain.WorkDir) || p.Toolchain.WorkDir == "/") {
		return errors.New("provision: plan: toolchain.work_dir must be an absolute path other than /")
	}
	if v, ok := p.Toolchain.Options[toolchain.DetachKernelDriver]; ok && v != "ON" {
		return fmt.Errorf("provision: plan: toolchain.options.%s must be ON, got %q", toolchain.DetachKernelDriver, v)
	}
	if p.Services.StartDelay < 0 {
		return errors.New("provision: plan: services.start_delay must not be negative")
	}
	if filepath.Base(p.Shim.Alias) != p.Shim.Alias || filepath.Base(p.Shim.Canonical) != p.Shim.Canonical {
		return errors.New("provision: plan: shim names must be plain file names")
	}
	return nil
}

// PackageRequest returns the OS package batch.
func (p *Plan) PackageRequest() pkgmgr.Request {
	pkgs := p.Packages.Install
	if len(pkgs) == 0 {
		pkgs = pkgmgr.DefaultPackages
	}
	all := append(append([]string(nil), pkgs...), p.Packages.Extra...)
	return pkgmgr.NewRequest(p.Packages.Manager, all...)
}

// BuildTarget returns the toolchain target.
func (p *Plan) BuildTarget() toolchain.BuildTarget {
	return toolchain.BuildTarget{
		ProbeCommand: []string(p.Toolchain.ProbeCommand),
		PrimaryURL:   p.Toolchain.PrimaryURL,
		FallbackURL:  p.Toolchain.FallbackURL,
		WorkDir:      p.Toolchain.WorkDir,
		Prefix:       p.Toolchain.Prefix,
		Options:      p.Toolchain.Options,
		RuleDest:     p.Toolchain.RuleDest,
		Jobs:         p.Toolchain.Jobs,
	}
}

// VenvSpec returns the Python environment spec.
func (p *Plan) VenvSpec() pyenv.Spec {
	return pyenv.Spec{
		Dir:                   p.Python.VenvDir,
		IsolateSystemPackages: p.Python.IsolateSystemPackages,
		Packages:              p.Python.Packages,
		Imports:               p.Python.Imports,
	}
}

// DefaultPlan returns a Plan with defaults applied.
func DefaultPlan() Plan {
	var p Plan
	p.ApplyDefaults()
	return p
}

// LoadPlan reads a YAML plan file. It applies defaults and validates the plan.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("provision: plan: read %s: %w", path, err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("provision: plan: parse %s: %w", path, err)
	}
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
