package pkgmgr

import (
	"context"

	"github.com/sdrwatch/sdrprov/internal/hostexec"
)

var aptEnv = []string{"DEBIAN_FRONTEND=noninteractive"}

type aptManager struct {
	runner hostexec.Runner
}

// NewAPT returns a PackageManager that drives apt-get.
func NewAPT(runner hostexec.Runner) PackageManager {
	return &aptManager{runner: runner}
}

func (m *aptManager) Available() bool {
	return hostexec.Available("apt-get")
}

func (m *aptManager) Update(ctx context.Context) error {
	return m.runner.Run(ctx, hostexec.Command{Name: "apt-get", Args: []string{"update"}, Env: aptEnv})
}

func (m *aptManager) Install(ctx context.Context, packages []string) error {
	args := append([]string{"install", "-y", "--no-install-recommends"}, packages...)
	return m.runner.Run(ctx, hostexec.Command{Name: "apt-get", Args: args, Env: aptEnv})
}
