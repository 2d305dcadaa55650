// Package guard maintains the files that give SDRWatch exclusive access to
// the SDR dongle: the kernel module blacklist and the udev device rules.
package guard

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/sdrwatch/sdrprov/internal/fsutil"
)

// DefaultBlacklistPath is where the DVB-T driver blacklist is written.
const DefaultBlacklistPath = "/etc/modprobe.d/blacklist-rtl-sdr.conf"

// DefaultRuleDir is the system udev rule directory.
const DefaultRuleDir = "/etc/udev/rules.d"

// BlacklistedModules are the in-kernel DVB-T drivers that claim RTL2832U
// dongles before librtlsdr can open them.
var BlacklistedModules = []string{"dvb_usb_rtl28xxu", "rtl2832", "rtl2830"}

// Result is the outcome of an ensure operation.
type Result int

const (
	// AlreadyPresent means the file already satisfied the requirement.
	AlreadyPresent Result = iota
	// Applied means the file was created or rewritten.
	Applied
)

func (r Result) String() string {
	if r == Applied {
		return "applied"
	}
	return "already_present"
}

// Policy selects how a guard file lacking its content is repaired.
type Policy string

const (
	// PolicyOverwrite replaces the file with exactly the required lines when
	// the marker line is absent. A partial blacklist from another author is
	// not trusted.
	PolicyOverwrite Policy = "overwrite"

	// PolicyAppendMissing keeps unrelated lines, drops duplicate required
	// lines and appends the missing ones.
	PolicyAppendMissing Policy = "append"
)

// File is a guard file identified by path with its required content.
type File struct {
	Path string

	// Marker is the line whose presence short-circuits PolicyOverwrite.
	// Defaults to the first required line.
	Marker string

	Lines  []string
	Mode   os.FileMode
	Policy Policy
}

// Blacklist returns the kernel module blacklist guard file at path.
func Blacklist(path string, policy Policy) File {
	if path == "" {
		path = DefaultBlacklistPath
	}
	lines := make([]string, 0, len(BlacklistedModules))
	for _, m := range BlacklistedModules {
		lines = append(lines, "blacklist "+m)
	}
	return File{Path: path, Lines: lines, Mode: 0o644, Policy: policy}
}

func (f *File) applyDefaults() {
	if f.Marker == "" && len(f.Lines) > 0 {
		f.Marker = f.Lines[0]
	}
	if f.Mode == 0 {
		f.Mode = 0o644
	}
	if f.Policy == "" {
		f.Policy = PolicyOverwrite
	}
}

func (f *File) validate() error {
	if f.Path == "" {
		return errors.New("guard: file path is required")
	}
	if len(f.Lines) == 0 {
		return fmt.Errorf("guard: %s: no required lines", f.Path)
	}
	if !fsutil.ContainsLine(f.Lines, f.Marker) {
		return fmt.Errorf("guard: %s: marker %q is not a required line", f.Path, f.Marker)
	}
	switch f.Policy {
	case PolicyOverwrite, PolicyAppendMissing:
	default:
		return fmt.Errorf("guard: %s: unknown policy %q", f.Path, f.Policy)
	}
	return nil
}

// Configurator applies guard files.
type Configurator struct {
	logger *slog.Logger
}

// NewConfigurator creates a Configurator.
func NewConfigurator(logger *slog.Logger) *Configurator {
	return &Configurator{logger: logger.With("component", "guard")}
}

// Ensure makes f hold its required lines. When a change is applied the
// operator is told a reboot is recommended, since the blacklisted modules may
// already be loaded.
func (c *Configurator) Ensure(f File) (Result, error) {
	f.applyDefaults()
	if err := f.validate(); err != nil {
		return AlreadyPresent, err
	}

	existing, exists, err := fsutil.ReadLines(f.Path)
	if err != nil {
		return AlreadyPresent, fmt.Errorf("guard: read %s: %w", f.Path, err)
	}

	var content []string
	switch f.Policy {
	case PolicyOverwrite:
		if exists && fsutil.ContainsLine(existing, f.Marker) {
			c.logger.Info("guard file already satisfied", "path", f.Path)
			return AlreadyPresent, nil
		}
		content = f.Lines
	case PolicyAppendMissing:
		content = mergeLines(existing, f.Lines)
		if exists && slices.Equal(content, existing) {
			c.logger.Info("guard file already satisfied", "path", f.Path)
			return AlreadyPresent, nil
		}
	}

	if err := fsutil.WriteFileAtomic(f.Path, fsutil.JoinLines(content), f.Mode); err != nil {
		return AlreadyPresent, fmt.Errorf("guard: write %s: %w", f.Path, err)
	}
	c.logger.Warn("guard file written, reboot recommended", "path", f.Path, "policy", string(f.Policy))
	return Applied, nil
}

// CopyRule installs a device rule file verbatim. It is a no-op when dst
// already holds identical bytes.
func (c *Configurator) CopyRule(src, dst string) (Result, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return AlreadyPresent, fmt.Errorf("guard: read rule %s: %w", src, err)
	}
	existing, err := os.ReadFile(dst)
	if err == nil && bytes.Equal(existing, data) {
		c.logger.Info("device rule already installed", "path", dst)
		return AlreadyPresent, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return AlreadyPresent, fmt.Errorf("guard: read %s: %w", dst, err)
	}
	if err := fsutil.WriteFileAtomic(dst, data, 0o644); err != nil {
		return AlreadyPresent, fmt.Errorf("guard: install rule %s: %w", dst, err)
	}
	c.logger.Info("device rule installed", "src", src, "dst", dst)
	return Applied, nil
}

// mergeLines keeps every unrelated line of existing in place, keeps only the
// first occurrence of each required line and appends required lines that are
// missing.
func mergeLines(existing, required []string) []string {
	isRequired := make(map[string]bool, len(required))
	for _, r := range required {
		isRequired[strings.TrimSpace(r)] = true
	}
	seen := make(map[string]bool, len(required))
	out := make([]string, 0, len(existing)+len(required))
	for _, l := range existing {
		key := strings.TrimSpace(l)
		if isRequired[key] {
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, l)
	}
	for _, r := range required {
		if !seen[strings.TrimSpace(r)] {
			out = append(out, r)
			seen[strings.TrimSpace(r)] = true
		}
	}
	return out
}
