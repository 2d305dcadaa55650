// Package packaging renders and installs the SDRWatch systemd services and
// their shared environment file.
package packaging

import (
	"errors"
	"path/filepath"
	"time"
)

// InstallConfig holds the paths and timing for the SDRWatch service pair.
// InstallConfig is passed as a constructor argument; the installer reads no
// configuration files.
type InstallConfig struct {
	// EnvFilePath is the environment file both units load.
	// Default: /etc/sdrwatch.env
	EnvFilePath string

	// ControlUnitPath is the control plane unit.
	// Default: /etc/systemd/system/sdrwatch-control.service
	ControlUnitPath string

	// WebUnitPath is the web dashboard unit.
	// Default: /etc/systemd/system/sdrwatch-web.service
	WebUnitPath string

	// User owns the state directory. Empty leaves its owner unchanged.
	User string

	// Group owns the environment file and the state directory. Empty leaves
	// group ownership unchanged.
	Group string

	// StateDir is the services' writable scratch directory, listed in both
	// units' ReadWritePaths. Empty skips creating it.
	StateDir string

	// StartDelay separates starting the control unit from the web unit.
	// Default: 2s. Negative disables the delay.
	StartDelay time.Duration
}

// DefaultEnvFilePath is the default path of the shared environment file.
const DefaultEnvFilePath = "/etc/sdrwatch.env"

// DefaultControlUnitPath is the default path of the control plane unit.
const DefaultControlUnitPath = "/etc/systemd/system/sdrwatch-control.service"

// DefaultWebUnitPath is the default path of the web dashboard unit.
const DefaultWebUnitPath = "/etc/systemd/system/sdrwatch-web.service"

// DefaultStartDelay gives the control plane time to bind before the web
// dashboard starts.
const DefaultStartDelay = 2 * time.Second

// ApplyDefaults sets default values for zero-valued fields.
func (c *InstallConfig) ApplyDefaults() {
	if c.EnvFilePath == "" {
		c.EnvFilePath = DefaultEnvFilePath
	}
	if c.ControlUnitPath == "" {
		c.ControlUnitPath = DefaultControlUnitPath
	}
	if c.WebUnitPath == "" {
		c.WebUnitPath = DefaultWebUnitPath
	}
	if c.StartDelay == 0 {
		c.StartDelay = DefaultStartDelay
	}
}

// Validate checks that required fields are set.
func (c *InstallConfig) Validate() error {
	for _, p := range []struct {
		name, path string
	}{
		{"EnvFilePath", c.EnvFilePath},
		{"ControlUnitPath", c.ControlUnitPath},
		{"WebUnitPath", c.WebUnitPath},
	} {
		if p.path == "" {
			return errors.New("packaging: config: " + p.name + " is required")
		}
		if !filepath.IsAbs(p.path) {
			return errors.New("packaging: config: " + p.name + " must be absolute")
		}
	}
	if c.StateDir != "" && (!filepath.IsAbs(c.StateDir) || c.StateDir == "/") {
		return errors.New("packaging: config: StateDir must be an absolute path other than /")
	}
	if c.ControlUnitPath == c.WebUnitPath {
		return errors.New("packaging: config: ControlUnitPath and WebUnitPath must differ")
	}
	if filepath.Ext(c.ControlUnitPath) != ".service" || filepath.Ext(c.WebUnitPath) != ".service" {
		return errors.New("packaging: config: unit paths must end in .service")
	}
	return nil
}
