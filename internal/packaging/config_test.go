package packaging

import (
	"strings"
	"testing"
	"time"
)

func TestInstallConfig_ApplyDefaults(t *testing.T) {
	cfg := InstallConfig{}
	cfg.ApplyDefaults()

	if cfg.EnvFilePath != "/etc/sdrwatch.env" {
		t.Errorf("EnvFilePath = %q, want %q", cfg.EnvFilePath, "/etc/sdrwatch.env")
	}
	if cfg.ControlUnitPath != "/etc/systemd/system/sdrwatch-control.service" {
		t.Errorf("ControlUnitPath = %q", cfg.ControlUnitPath)
	}
	if cfg.WebUnitPath != "/etc/systemd/system/sdrwatch-web.service" {
		t.Errorf("WebUnitPath = %q", cfg.WebUnitPath)
	}
	if cfg.StartDelay != 2*time.Second {
		t.Errorf("StartDelay = %v, want 2s", cfg.StartDelay)
	}
	if cfg.Group != "" {
		t.Errorf("Group = %q, want empty", cfg.Group)
	}
}

func TestInstallConfig_CustomValues(t *testing.T) {
	cfg := InstallConfig{
		EnvFilePath:     "/opt/sdrwatch/env",
		ControlUnitPath: "/usr/lib/systemd/system/a.service",
		WebUnitPath:     "/usr/lib/systemd/system/b.service",
		Group:           "radio",
		StartDelay:      -1,
	}
	cfg.ApplyDefaults()

	if cfg.EnvFilePath != "/opt/sdrwatch/env" {
		t.Errorf("EnvFilePath = %q", cfg.EnvFilePath)
	}
	if cfg.StartDelay != -1 {
		t.Errorf("StartDelay = %v, want negative preserved", cfg.StartDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestInstallConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     InstallConfig
		wantErr string
	}{
		{
			name:    "relative env file",
			cfg:     InstallConfig{EnvFilePath: "sdrwatch.env"},
			wantErr: "EnvFilePath must be absolute",
		},
		{
			name: "same unit paths",
			cfg: InstallConfig{
				ControlUnitPath: "/etc/systemd/system/x.service",
				WebUnitPath:     "/etc/systemd/system/x.service",
			},
			wantErr: "must differ",
		},
		{
			name:    "not a service",
			cfg:     InstallConfig{WebUnitPath: "/etc/systemd/system/web.timer"},
			wantErr: "must end in .service",
		},
		{
			name:    "relative state dir",
			cfg:     InstallConfig{StateDir: "var/lib/sdrwatch-control"},
			wantErr: "StateDir must be an absolute path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.ApplyDefaults()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
