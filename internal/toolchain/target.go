package toolchain

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
)

const (
	// DefaultPrimaryURL is the upstream osmocom rtl-sdr repository.
	DefaultPrimaryURL = "https://gitea.osmocom.org/sdr/rtl-sdr.git"

	// DefaultFallbackURL is the GitHub mirror, used when the primary clone fails.
	DefaultFallbackURL = "https://github.com/osmocom/rtl-sdr.git"

	// DefaultWorkDir holds the clone and build tree.
	DefaultWorkDir = "/var/tmp/sdrprov/rtl-sdr"

	// DefaultPrefix is the install prefix.
	DefaultPrefix = "/usr"

	// DefaultRuleFile is the udev rule shipped at the root of the rtl-sdr tree.
	DefaultRuleFile = "rtl-sdr.rules"

	// DefaultRuleDest is where the shipped udev rule is installed.
	DefaultRuleDest = "/etc/udev/rules.d/rtl-sdr.rules"
)

// DetachKernelDriver lets librtlsdr detach the DVB-T kernel driver. It is
// always built ON.
const DetachKernelDriver = "DETACH_KERNEL_DRIVER"

// DefaultProbeCommand exercises librtlsdr end to end.
var DefaultProbeCommand = []string{"rtl_test", "-t"}

// BuildTarget describes a native driver toolchain to verify or build.
type BuildTarget struct {
	Name         string
	ProbeCommand []string
	PrimaryURL   string
	FallbackURL  string

	// WorkDir is wiped and recreated before every build. It is left in
	// place afterwards for debugging.
	WorkDir string

	// Options are passed to cmake as -D<key>=<value>.
	Options map[string]string
	Prefix  string

	// RuleFile is relative to the source tree root.
	RuleFile string
	RuleDest string

	// Jobs is the compile parallelism. Zero means runtime.NumCPU().
	Jobs int
}

// ApplyDefaults sets default values for zero-valued fields.
func (t *BuildTarget) ApplyDefaults() {
	if t.Name == "" {
		t.Name = "rtl-sdr"
	}
	if len(t.ProbeCommand) == 0 {
		t.ProbeCommand = DefaultProbeCommand
	}
	if t.PrimaryURL == "" {
		t.PrimaryURL = DefaultPrimaryURL
	}
	if t.FallbackURL == "" {
		t.FallbackURL = DefaultFallbackURL
	}
	if t.WorkDir == "" {
		t.WorkDir = DefaultWorkDir
	}
	if t.Prefix == "" {
		t.Prefix = DefaultPrefix
	}
	if t.RuleFile == "" {
		t.RuleFile = DefaultRuleFile
	}
	if t.RuleDest == "" {
		t.RuleDest = DefaultRuleDest
	}
	if t.Jobs <= 0 {
		t.Jobs = runtime.NumCPU()
	}
	if _, ok := t.Options[DetachKernelDriver]; !ok {
		opts := make(map[string]string, len(t.Options)+1)
		for k, v := range t.Options {
			opts[k] = v
		}
		opts[DetachKernelDriver] = "ON"
		t.Options = opts
	}
}

// Validate checks that required fields are set.
func (t *BuildTarget) Validate() error {
	if len(t.ProbeCommand) == 0 {
		return errors.New("toolchain: target: ProbeCommand is required")
	}
	if t.PrimaryURL == "" || t.FallbackURL == "" {
		return errors.New("toolchain: target: PrimaryURL and FallbackURL are required")
	}
	if t.WorkDir == "" || t.WorkDir == "/" || !filepath.IsAbs(t.WorkDir) {
		return errors.New("toolchain: target: WorkDir must be an absolute path other than /")
	}
	if t.Prefix == "" {
		return errors.New("toolchain: target: Prefix is required")
	}
	if v, ok := t.Options[DetachKernelDriver]; ok && v != "ON" {
		return fmt.Errorf("toolchain: target: option %s must be ON, got %q", DetachKernelDriver, v)
	}
	return nil
}

// SourceDir is where the repository is cloned.
func (t *BuildTarget) SourceDir() string {
	return filepath.Join(t.WorkDir, "src")
}

// BuildDir is the out-of-tree cmake build directory.
func (t *BuildTarget) BuildDir() string {
	return filepath.Join(t.SourceDir(), "build")
}

// CMakeArgs returns the -D options sorted by key, with the install prefix set.
func (t *BuildTarget) CMakeArgs() []string {
	opts := make(map[string]string, len(t.Options)+1)
	for k, v := range t.Options {
		opts[k] = v
	}
	opts["CMAKE_INSTALL_PREFIX"] = t.Prefix

	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, "-D"+k+"="+opts[k])
	}
	return args
}
