package packaging

import "context"

// ServiceManager abstracts systemd service management for testability.
// EnableNow must be idempotent: enabling an enabled, running unit returns nil.
type ServiceManager interface {
	// IsAvailable returns true if systemctl is available on the system.
	IsAvailable() bool

	// DaemonReload executes systemctl daemon-reload to pick up unit changes.
	DaemonReload(ctx context.Context) error

	// EnableNow enables the named unit at boot and starts it.
	EnableNow(ctx context.Context, unit string) error

	// IsActive returns true if the named unit is currently running.
	IsActive(ctx context.Context, unit string) bool
}

// RootChecker abstracts privilege checking for testability.
type RootChecker interface {
	// IsRoot returns true if the current process has root privileges.
	IsRoot() bool
}
