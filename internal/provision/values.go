package provision

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/sdrwatch/sdrprov/internal/collect"
	"github.com/sdrwatch/sdrprov/internal/packaging"
)

// Configuration value names.
const (
	ValueInstallServices = "install_services"
	ValueUser            = "service_user"
	ValueGroup           = "service_group"
	ValueProjectDir      = "project_dir"
	ValueDB              = "db_path"
	ValueControlHost     = "control_host"
	ValueControlPort     = "control_port"
	ValueControlToken    = "control_token"
	ValueWebHost         = "web_host"
	ValueWebPort         = "web_port"
	ValueWebToken        = "web_token"
	ValueEnvFile         = "env_file"
	ValueControlUnit     = "control_unit_path"
	ValueWebUnit         = "web_unit_path"
	ValueStateDir        = "state_dir"
)

// DefaultStateDir is the control plane's scratch directory.
const DefaultStateDir = "/var/lib/sdrwatch-control"

// DefaultServiceUser runs the services when no sudo user is known.
const DefaultServiceUser = "pi"

// GateValue asks whether to install the services at all.
func GateValue() collect.Value {
	return collect.Value{
		Name:    ValueInstallServices,
		Env:     "SDRWATCH_INSTALL_SERVICES",
		Prompt:  "Install and start the SDRWatch systemd services? (y/n)",
		Default: "yes",
		Kind:    collect.KindBool,
	}
}

// ExistingEnv returns the current contents of the env file at path.
type ExistingEnv func(path string) map[string]string

// ServiceValues returns the service configuration values in prompt order.
// sudoUser is the invoking user behind sudo, if any. Tokens already present
// in the env file become their defaults so a rerun keeps them.
func ServiceValues(projectDir, sudoUser string, existing ExistingEnv) []collect.Value {
	user := sudoUser
	if user == "" || user == "root" {
		user = DefaultServiceUser
	}
	fromEnvFile := func(key string) func(collect.Record) string {
		return func(r collect.Record) string {
			if existing == nil {
				return ""
			}
			return existing(r.Get(ValueEnvFile))[key]
		}
	}
	return []collect.Value{
		{Name: ValueUser, Env: "SDRWATCH_USER", Prompt: "Service user", Default: user},
		{Name: ValueGroup, Env: "SDRWATCH_GROUP", Prompt: "Service group",
			DefaultFunc: func(r collect.Record) string { return r.Get(ValueUser) }},
		{Name: ValueProjectDir, Env: "SDRWATCH_PROJECT_DIR", Prompt: "SDRWatch project directory", Default: projectDir},
		{Name: ValueDB, Env: "SDRWATCH_DB", Prompt: "Scan database path",
			DefaultFunc: func(r collect.Record) string { return filepath.Join(r.Get(ValueProjectDir), "sdrwatch.db") }},
		{Name: ValueEnvFile, Env: "SDRWATCH_ENV_FILE", Prompt: "Environment file", Default: packaging.DefaultEnvFilePath},
		{Name: ValueControlHost, Env: "SDRWATCH_CONTROL_HOST", Prompt: "Control API bind host", Default: "127.0.0.1"},
		{Name: ValueControlPort, Env: "SDRWATCH_CONTROL_PORT", Prompt: "Control API port", Default: "8765", Kind: collect.KindPort},
		{Name: ValueControlToken, Env: "SDRWATCH_CONTROL_TOKEN", Prompt: "Control API token", Kind: collect.KindSecret,
			DefaultFunc: fromEnvFile("SDRWATCH_CONTROL_TOKEN")},
		{Name: ValueWebHost, Env: "SDRWATCH_WEB_HOST", Prompt: "Web dashboard bind host", Default: "0.0.0.0"},
		{Name: ValueWebPort, Env: "SDRWATCH_WEB_PORT", Prompt: "Web dashboard port", Default: "8080", Kind: collect.KindPort},
		{Name: ValueWebToken, Env: "SDRWATCH_TOKEN", Prompt: "Web dashboard token", Kind: collect.KindSecret,
			DefaultFunc: fromEnvFile("SDRWATCH_TOKEN")},
		{Name: ValueControlUnit, Env: "SDRWATCH_CONTROL_UNIT", Prompt: "Control unit path", Default: packaging.DefaultControlUnitPath},
		{Name: ValueWebUnit, Env: "SDRWATCH_WEB_UNIT", Prompt: "Web unit path", Default: packaging.DefaultWebUnitPath},
		{Name: ValueStateDir, Env: "SDRWATCH_CONTROL_BASE", Prompt: "Control state directory", Default: DefaultStateDir},
	}
}

// ReadExistingEnv is an ExistingEnv over packaging.ReadEnvFile. Unreadable
// files yield no values.
func ReadExistingEnv(path string) map[string]string {
	m, err := packaging.ReadEnvFile(path)
	if err != nil {
		return nil
	}
	return m
}

// ServiceInputs is everything the unit generator needs, derived from one
// configuration record.
type ServiceInputs struct {
	Config   packaging.InstallConfig
	Env      *packaging.EnvRecord
	Bindings packaging.Bindings

	ControlAddr string
	WebAddr     string
}

// BuildServiceInputs converts rec into installer configuration, the env file
// and template bindings.
func BuildServiceInputs(rec collect.Record, venvBin, script string, p ServicesPlan) (ServiceInputs, error) {
	for _, name := range []string{ValueProjectDir, ValueStateDir, ValueEnvFile, ValueControlUnit, ValueWebUnit, ValueDB} {
		if v := rec.Get(name); v == "" || !filepath.IsAbs(v) {
			return ServiceInputs{}, fmt.Errorf("provision: %s must be an absolute path, got %q", name, v)
		}
	}
	for _, name := range []string{ValueUser, ValueGroup, ValueControlHost, ValueWebHost} {
		if strings.TrimSpace(rec.Get(name)) == "" {
			return ServiceInputs{}, fmt.Errorf("provision: %s is required", name)
		}
	}

	cfg := packaging.InstallConfig{
		EnvFilePath:     rec.Get(ValueEnvFile),
		ControlUnitPath: rec.Get(ValueControlUnit),
		WebUnitPath:     rec.Get(ValueWebUnit),
		User:            rec.Get(ValueUser),
		Group:           rec.Get(ValueGroup),
		StateDir:        rec.Get(ValueStateDir),
		StartDelay:      p.StartDelay,
	}
	cfg.ApplyDefaults()

	env := &packaging.EnvRecord{}
	env.Set("SDRWATCH_PROJECT_DIR", rec.Get(ValueProjectDir))
	env.Set("SDRWATCH_VENV_BIN", venvBin)
	env.Set("SDRWATCH_DB", rec.Get(ValueDB))
	env.Set("SDRWATCH_CONTROL_HOST", rec.Get(ValueControlHost))
	env.Set("SDRWATCH_CONTROL_PORT", rec.Get(ValueControlPort))
	env.Set("SDRWATCH_CONTROL_TOKEN", rec.Get(ValueControlToken))
	env.Set("SDRWATCH_WEB_HOST", rec.Get(ValueWebHost))
	env.Set("SDRWATCH_WEB_PORT", rec.Get(ValueWebPort))
	env.Set("SDRWATCH_TOKEN", rec.Get(ValueWebToken))
	env.Set("SDRWATCH_CONTROL_BASE", rec.Get(ValueStateDir))
	env.Set("SDRWATCH_SCRIPT", script)
	env.Set("SDRWATCH_BIN", script)

	b := packaging.Bindings{
		packaging.BindUser:        rec.Get(ValueUser),
		packaging.BindGroup:       rec.Get(ValueGroup),
		packaging.BindEnvFile:     cfg.EnvFilePath,
		packaging.BindProjectDir:  rec.Get(ValueProjectDir),
		packaging.BindStateDir:    rec.Get(ValueStateDir),
		packaging.BindControlHost: rec.Get(ValueControlHost),
		packaging.BindControlPort: rec.Get(ValueControlPort),
		packaging.BindControlUnit: filepath.Base(cfg.ControlUnitPath),
		packaging.BindWebHost:     rec.Get(ValueWebHost),
		packaging.BindWebPort:     rec.Get(ValueWebPort),
	}

	return ServiceInputs{
		Config:      cfg,
		Env:         env,
		Bindings:    b,
		ControlAddr: net.JoinHostPort(rec.Get(ValueControlHost), rec.Get(ValueControlPort)),
		WebAddr:     net.JoinHostPort(rec.Get(ValueWebHost), rec.Get(ValueWebPort)),
	}, nil
}
