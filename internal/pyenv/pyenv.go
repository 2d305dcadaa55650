// Package pyenv provisions the SDRWatch Python virtual environment and
// reports which optional runtime modules it can import.
package pyenv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// DefaultBootstrap are upgraded before any declared package is installed.
var DefaultBootstrap = []string{"pip", "setuptools", "wheel"}

// DefaultPackages are the pip-only dependencies of the SDRWatch services.
// numpy, scipy and SoapySDR come from OS packages through system site
// packages.
var DefaultPackages = []string{"flask", "pyrtlsdr"}

// DefaultImports are probed after installation. A missing module is reported,
// not fatal.
var DefaultImports = []string{"SoapySDR", "flask", "rtlsdr", "numpy", "scipy"}

// Interpreter abstracts the Python toolchain for testability.
type Interpreter interface {
	// CreateVenv creates a virtual environment at dir.
	CreateVenv(ctx context.Context, dir string, systemSitePackages bool) error

	// PipInstall installs pkgs into the venv at dir.
	PipInstall(ctx context.Context, dir string, upgrade bool, pkgs []string) error

	// CanImport reports whether the venv's interpreter can import module.
	CanImport(ctx context.Context, dir, module string) bool
}

// Spec describes the environment to provision.
type Spec struct {
	Dir string

	// IsolateSystemPackages hides OS-installed Python packages from the
	// venv. The default exposes them, which is how numpy and SoapySDR reach
	// the services.
	IsolateSystemPackages bool

	Bootstrap []string
	Packages  []string
	Imports   []string
}

// ApplyDefaults sets default values for nil fields. An explicitly empty
// slice is kept.
func (s *Spec) ApplyDefaults() {
	if s.Bootstrap == nil {
		s.Bootstrap = DefaultBootstrap
	}
	if s.Packages == nil {
		s.Packages = DefaultPackages
	}
	if s.Imports == nil {
		s.Imports = DefaultImports
	}
}

// Validate checks that required fields are set.
func (s *Spec) Validate() error {
	if s.Dir == "" || !filepath.IsAbs(s.Dir) {
		return errors.New("pyenv: spec: Dir must be an absolute path")
	}
	return nil
}

// BinDir returns the venv's bin directory.
func (s *Spec) BinDir() string {
	return filepath.Join(s.Dir, "bin")
}

// Capability is the result of a single import probe.
type Capability struct {
	Module    string
	Available bool
}

// Report describes what Provision did and what the venv can import.
type Report struct {
	Created      bool
	Capabilities []Capability
}

// Missing returns the modules that failed their import probe.
func (r *Report) Missing() []string {
	var out []string
	for _, c := range r.Capabilities {
		if !c.Available {
			out = append(out, c.Module)
		}
	}
	return out
}

// Provisioner creates and populates the venv.
type Provisioner struct {
	py     Interpreter
	logger *slog.Logger
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(py Interpreter, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		py:     py,
		logger: logger.With("component", "pyenv"),
	}
}

// Provision creates the venv when absent, installs packages and probes
// imports. Creation and pip failures are fatal.
func (p *Provisioner) Provision(ctx context.Context, s Spec) (Report, error) {
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return Report{}, err
	}

	var report Report

	// 1. Create venv unless the directory already exists
	if _, err := os.Stat(s.Dir); err == nil {
		p.logger.Info("venv already satisfied", "dir", s.Dir)
	} else if errors.Is(err, os.ErrNotExist) {
		if err := p.py.CreateVenv(ctx, s.Dir, !s.IsolateSystemPackages); err != nil {
			return report, fmt.Errorf("pyenv: create venv %s: %w", s.Dir, err)
		}
		report.Created = true
		p.logger.Info("venv created", "dir", s.Dir, "system_site_packages", !s.IsolateSystemPackages)
	} else {
		return report, fmt.Errorf("pyenv: stat %s: %w", s.Dir, err)
	}

	// 2. Upgrade packaging tools
	if len(s.Bootstrap) > 0 {
		if err := p.py.PipInstall(ctx, s.Dir, true, s.Bootstrap); err != nil {
			return report, fmt.Errorf("pyenv: upgrade %v: %w", s.Bootstrap, err)
		}
	}

	// 3. Install declared packages
	if len(s.Packages) > 0 {
		if err := p.py.PipInstall(ctx, s.Dir, false, s.Packages); err != nil {
			return report, fmt.Errorf("pyenv: install %v: %w", s.Packages, err)
		}
		p.logger.Info("pip packages installed", "packages", s.Packages)
	}

	// 4. Probe imports
	for _, mod := range s.Imports {
		ok := p.py.CanImport(ctx, s.Dir, mod)
		report.Capabilities = append(report.Capabilities, Capability{Module: mod, Available: ok})
		if ok {
			p.logger.Info("import available", "module", mod)
		} else {
			p.logger.Warn("import unavailable", "module", mod)
		}
	}
	return report, nil
}
