package packaging

import (
	"context"

	"golang.org/x/sys/unix"

	"github.com/sdrwatch/sdrprov/internal/hostexec"
)

// realServiceManager implements ServiceManager by running systemctl.
type realServiceManager struct {
	runner hostexec.Runner
	prober hostexec.Prober
}

// NewServiceManager returns a ServiceManager that calls the real systemctl binary.
func NewServiceManager(runner hostexec.Runner, prober hostexec.Prober) ServiceManager {
	return &realServiceManager{runner: runner, prober: prober}
}

func (m *realServiceManager) IsAvailable() bool {
	return hostexec.Available("systemctl")
}

func (m *realServiceManager) DaemonReload(ctx context.Context) error {
	return m.run(ctx, "daemon-reload")
}

func (m *realServiceManager) EnableNow(ctx context.Context, unit string) error {
	return m.run(ctx, "enable", "--now", unit)
}

func (m *realServiceManager) IsActive(ctx context.Context, unit string) bool {
	return m.prober.Probe(ctx, []string{"systemctl", "is-active", "--quiet", unit})
}

func (m *realServiceManager) run(ctx context.Context, args ...string) error {
	return m.runner.Run(ctx, hostexec.Command{Name: "systemctl", Args: args})
}

// realRootChecker implements RootChecker using the effective UID.
type realRootChecker struct{}

// NewRootChecker returns a RootChecker that checks the real process EUID.
func NewRootChecker() RootChecker {
	return &realRootChecker{}
}

func (c *realRootChecker) IsRoot() bool {
	return unix.Geteuid() == 0
}
