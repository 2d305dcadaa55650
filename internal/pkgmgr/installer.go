package pkgmgr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// PackageManager abstracts the host package manager for testability.
// Install must be idempotent: already-installed packages are no-ops.
type PackageManager interface {
	// Available reports whether the package manager binary is present.
	Available() bool

	// Update refreshes the package index.
	Update(ctx context.Context) error

	// Install installs all packages in one transaction.
	Install(ctx context.Context, packages []string) error
}

// Installer applies a Request. There is no per-package retry: the package
// manager's own atomicity is relied upon and any failure is fatal.
type Installer struct {
	pm     PackageManager
	logger *slog.Logger
}

// NewInstaller creates an Installer over the given package manager.
func NewInstaller(pm PackageManager, logger *slog.Logger) *Installer {
	return &Installer{
		pm:     pm,
		logger: logger.With("component", "pkgmgr"),
	}
}

// Install refreshes the index and installs the requested packages.
func (ins *Installer) Install(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if !ins.pm.Available() {
		return fmt.Errorf("pkgmgr: required tool for %s is not installed", req.Manager)
	}

	ins.logger.Info("refreshing package index", "manager", req.Manager)
	if err := ins.pm.Update(ctx); err != nil {
		return fmt.Errorf("pkgmgr: update: %w", err)
	}

	ins.logger.Info("installing packages",
		"manager", req.Manager,
		"count", len(req.Packages),
		"packages", strings.Join(req.Packages, " "),
	)
	if err := ins.pm.Install(ctx, req.Packages); err != nil {
		return fmt.Errorf("pkgmgr: install: %w", err)
	}
	ins.logger.Info("packages installed", "count", len(req.Packages))
	return nil
}
