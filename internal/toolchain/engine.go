// Package toolchain verifies the native SDR driver toolchain and rebuilds it
// from source when the packaged version fails its probe.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sdrwatch/sdrprov/internal/guard"
	"github.com/sdrwatch/sdrprov/internal/hostexec"
)

// ErrBothClonesFailed is returned when neither source URL could be cloned.
var ErrBothClonesFailed = errors.New("toolchain: primary and fallback clone failed")

// VersionControl abstracts repository cloning for testability.
type VersionControl interface {
	// Clone clones url into dir, which must not exist or be empty.
	Clone(ctx context.Context, url, dir string) error
}

// BuildSystem abstracts the native configure/compile/install toolchain.
type BuildSystem interface {
	Configure(ctx context.Context, srcDir, buildDir string, args []string) error
	Compile(ctx context.Context, buildDir string, jobs int) error
	Install(ctx context.Context, buildDir string) error

	// RefreshLinkerCache runs ldconfig so the new library is resolvable.
	RefreshLinkerCache(ctx context.Context) error
}

// DeviceRules abstracts the udev control interface.
type DeviceRules interface {
	Reload(ctx context.Context) error
	Trigger(ctx context.Context) error
}

// Outcome describes what Ensure did.
type Outcome struct {
	State State

	// SourceURL is the URL the installed tree was cloned from.
	SourceURL string

	// UsedFallback is true when the primary clone failed.
	UsedFallback bool

	// Rule is the result of installing the bundled udev rule. RuleMissing is
	// set when the tree shipped none.
	Rule        guard.Result
	RuleMissing bool

	// Verified is the post-install probe result.
	Verified bool
}

// Engine runs the probe-then-maybe-rebuild flow.
type Engine struct {
	prober hostexec.Prober
	vcs    VersionControl
	build  BuildSystem
	rules  DeviceRules
	guard  *guard.Configurator
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(prober hostexec.Prober, vcs VersionControl, build BuildSystem, rules DeviceRules, g *guard.Configurator, logger *slog.Logger) *Engine {
	return &Engine{
		prober: prober,
		vcs:    vcs,
		build:  build,
		rules:  rules,
		guard:  g,
		logger: logger.With("component", "toolchain"),
	}
}

// Ensure returns immediately when the probe passes. Otherwise it builds and
// installs the toolchain from source. Only the initial probe is non-fatal.
func (e *Engine) Ensure(ctx context.Context, t BuildTarget) (Outcome, error) {
	t.ApplyDefaults()
	if err := t.Validate(); err != nil {
		return Outcome{State: StateUnverified}, err
	}

	m := &machine{}
	if err := m.to(StateProbing); err != nil {
		return Outcome{State: m.state}, err
	}
	logger := e.logger.With("target", t.Name)
	logger.Info("probing toolchain", "cmd", t.ProbeCommand)

	if e.prober.Probe(ctx, t.ProbeCommand) {
		if err := m.to(StateHealthy); err != nil {
			return Outcome{State: m.state}, err
		}
		logger.Info("toolchain healthy, skipping source build")
		return Outcome{State: m.state}, nil
	}

	logger.Warn("toolchain probe failed, building from source")
	if err := m.to(StateBuilding); err != nil {
		return Outcome{State: m.state}, err
	}

	out, err := e.buildFromSource(ctx, t, logger)
	if err != nil {
		if terr := m.to(StateFailed); terr != nil {
			return Outcome{State: m.state}, errors.Join(err, terr)
		}
		out.State = m.state
		return out, err
	}
	if err := m.to(StateInstalled); err != nil {
		return Outcome{State: m.state}, err
	}
	out.State = m.state

	out.Verified = e.prober.Probe(ctx, t.ProbeCommand)
	if out.Verified {
		logger.Info("toolchain verified after install")
	} else {
		logger.Warn("toolchain probe still failing after install; is a dongle attached?")
	}
	return out, nil
}

func (e *Engine) buildFromSource(ctx context.Context, t BuildTarget, logger *slog.Logger) (Outcome, error) {
	var out Outcome

	// 1. Clean working directory
	if err := os.RemoveAll(t.WorkDir); err != nil {
		return out, fmt.Errorf("toolchain: clean work dir %s: %w", t.WorkDir, err)
	}
	if err := os.MkdirAll(t.WorkDir, 0o755); err != nil {
		return out, fmt.Errorf("toolchain: create work dir %s: %w", t.WorkDir, err)
	}
	logger.Info("work dir reset", "path", t.WorkDir)

	// 2. Clone with single fallback
	srcDir := t.SourceDir()
	url, usedFallback, err := e.clone(ctx, t, srcDir, logger)
	if err != nil {
		return out, err
	}
	out.SourceURL = url
	out.UsedFallback = usedFallback

	// 3. Configure, compile, install
	buildDir := t.BuildDir()
	args := t.CMakeArgs()
	logger.Info("configuring build", "args", args)
	if err := e.build.Configure(ctx, srcDir, buildDir, args); err != nil {
		return out, fmt.Errorf("toolchain: configure: %w", err)
	}
	logger.Info("compiling", "jobs", t.Jobs)
	if err := e.build.Compile(ctx, buildDir, t.Jobs); err != nil {
		return out, fmt.Errorf("toolchain: compile: %w", err)
	}
	logger.Info("installing", "prefix", t.Prefix)
	if err := e.build.Install(ctx, buildDir); err != nil {
		return out, fmt.Errorf("toolchain: install: %w", err)
	}
	if err := e.build.RefreshLinkerCache(ctx); err != nil {
		return out, fmt.Errorf("toolchain: ldconfig: %w", err)
	}
	logger.Info("linker cache refreshed")

	// 4. Bundled device rules
	rulePath := filepath.Join(srcDir, t.RuleFile)
	if _, err := os.Stat(rulePath); errors.Is(err, os.ErrNotExist) {
		logger.Warn("source tree ships no device rule file", "path", rulePath)
		out.RuleMissing = true
		return out, nil
	} else if err != nil {
		return out, fmt.Errorf("toolchain: stat rule file: %w", err)
	}

	res, err := e.guard.CopyRule(rulePath, t.RuleDest)
	if err != nil {
		return out, fmt.Errorf("toolchain: %w", err)
	}
	out.Rule = res
	if err := e.rules.Reload(ctx); err != nil {
		return out, fmt.Errorf("toolchain: reload device rules: %w", err)
	}
	if err := e.rules.Trigger(ctx); err != nil {
		return out, fmt.Errorf("toolchain: trigger device rules: %w", err)
	}
	logger.Info("device rules reloaded", "rule", t.RuleDest)
	return out, nil
}

// clone tries the primary URL, then the fallback once. There is no third source.
func (e *Engine) clone(ctx context.Context, t BuildTarget, dir string, logger *slog.Logger) (string, bool, error) {
	logger.Info("cloning", "url", t.PrimaryURL)
	primaryErr := e.vcs.Clone(ctx, t.PrimaryURL, dir)
	if primaryErr == nil {
		return t.PrimaryURL, false, nil
	}

	logger.Warn("primary clone failed, trying fallback",
		"url", t.PrimaryURL,
		"fallback", t.FallbackURL,
		"error", primaryErr,
	)
	if err := os.RemoveAll(dir); err != nil {
		return "", false, fmt.Errorf("toolchain: remove partial clone: %w", err)
	}
	if fallbackErr := e.vcs.Clone(ctx, t.FallbackURL, dir); fallbackErr != nil {
		return "", false, fmt.Errorf("%w: %s: %w; %s: %w",
			ErrBothClonesFailed, t.PrimaryURL, primaryErr, t.FallbackURL, fallbackErr)
	}
	return t.FallbackURL, true, nil
}
