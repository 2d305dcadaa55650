package packaging

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/coreos/go-systemd/v22/unit"
)

// Placeholder names used by the built-in unit templates.
const (
	BindUser        = "user"
	BindGroup       = "group"
	BindEnvFile     = "env_file"
	BindProjectDir  = "project_dir"
	BindStateDir    = "state_dir"
	BindControlHost = "control_host"
	BindControlPort = "control_port"
	BindControlUnit = "control_unit"
	BindWebHost     = "web_host"
	BindWebPort     = "web_port"
)

// ControlUnitTemplate runs the SDRWatch control plane. Flags are read from the
// environment file at start so token rotation needs no unit rewrite.
const ControlUnitTemplate = `[Unit]
Description=SDRWatch control plane (${control_host}:${control_port})
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User=${user}
Group=${group}
WorkingDirectory=${project_dir}
EnvironmentFile=${env_file}
ExecStart=/bin/bash -lc 'exec "$${SDRWATCH_VENV_BIN}/python" "$${SDRWATCH_PROJECT_DIR}/sdrwatch-control.py" serve --host "$${SDRWATCH_CONTROL_HOST}" --port "$${SDRWATCH_CONTROL_PORT}" --token "$${SDRWATCH_CONTROL_TOKEN}"'
Restart=on-failure
RestartSec=3
NoNewPrivileges=true
ProtectSystem=full
ProtectHome=read-only
PrivateTmp=true
ReadWritePaths=${state_dir} ${project_dir}

[Install]
WantedBy=multi-user.target
`

// WebUnitTemplate runs the SDRWatch web dashboard after the control plane.
const WebUnitTemplate = `[Unit]
Description=SDRWatch web dashboard (${web_host}:${web_port})
After=network-online.target ${control_unit}
Wants=network-online.target ${control_unit}

[Service]
Type=simple
User=${user}
Group=${group}
WorkingDirectory=${project_dir}
EnvironmentFile=${env_file}
ExecStart=/bin/bash -lc 'exec "$${SDRWATCH_VENV_BIN}/python" "$${SDRWATCH_PROJECT_DIR}/sdrwatch-web-simple.py" --db "$${SDRWATCH_DB}" --host "$${SDRWATCH_WEB_HOST}" --port "$${SDRWATCH_WEB_PORT}"'
Restart=on-failure
RestartSec=3
NoNewPrivileges=true
ProtectSystem=full
ProtectHome=read-only
PrivateTmp=true
ReadWritePaths=${state_dir} ${project_dir}

[Install]
WantedBy=multi-user.target
`

// Unit is a service unit to render and install.
type Unit struct {
	// Name is the systemd unit name, e.g. sdrwatch-control.service.
	Name     string
	Path     string
	Template *Template
}

// ServiceUnits returns the control and web units in start order.
func ServiceUnits(cfg InstallConfig) []Unit {
	cfg.ApplyDefaults()
	return []Unit{
		{
			Name:     filepath.Base(cfg.ControlUnitPath),
			Path:     cfg.ControlUnitPath,
			Template: MustParseTemplate("control", ControlUnitTemplate),
		},
		{
			Name:     filepath.Base(cfg.WebUnitPath),
			Path:     cfg.WebUnitPath,
			Template: MustParseTemplate("web", WebUnitTemplate),
		},
	}
}

// validateUnit parses rendered as a unit file and requires [Service] ExecStart.
func validateUnit(name, rendered string) error {
	opts, err := unit.DeserializeOptions(strings.NewReader(rendered))
	if err != nil {
		return fmt.Errorf("packaging: unit %s: %w", name, err)
	}
	for _, o := range opts {
		if o.Section == "Service" && o.Name == "ExecStart" && strings.TrimSpace(o.Value) != "" {
			return nil
		}
	}
	return fmt.Errorf("packaging: unit %s: missing [Service] ExecStart", name)
}
