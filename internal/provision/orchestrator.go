// Package provision runs the SDRWatch host provisioning sequence: OS
// packages, the rtl-sdr toolchain, driver guards, the Python environment,
// the script alias and the systemd services.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sdrwatch/sdrprov/internal/collect"
	"github.com/sdrwatch/sdrprov/internal/guard"
	"github.com/sdrwatch/sdrprov/internal/journal"
	"github.com/sdrwatch/sdrprov/internal/packaging"
	"github.com/sdrwatch/sdrprov/internal/pkgmgr"
	"github.com/sdrwatch/sdrprov/internal/pyenv"
	"github.com/sdrwatch/sdrprov/internal/shim"
	"github.com/sdrwatch/sdrprov/internal/toolchain"
)

// ErrNotRoot is returned when provisioning is attempted without root.
var ErrNotRoot = errors.New("provision: root privileges required (run with sudo)")

// ErrProjectDirMismatch is returned when the service configuration names a
// project directory other than the one provisioned.
var ErrProjectDirMismatch = errors.New("provision: project_dir differs from the provisioned project")

// Step names.
const (
	StepPackages  = "packages"
	StepToolchain = "toolchain"
	StepGuard     = "guard"
	StepPython    = "python"
	StepShim      = "shim"
	StepServices  = "services"
)

// Action is one host mutation.
type Action struct {
	Step   string
	Kind   string
	Detail string
}

// ServiceSummary describes the installed services.
type ServiceSummary struct {
	ControlURL string
	WebURL     string
	Units      []string
	EnvFile    string
	Inactive   []string
}

// Report is the outcome of a run.
type Report struct {
	Host              HostInfo
	Actions           []Action
	Warnings          []string
	RebootRecommended bool

	Toolchain toolchain.Outcome
	Python    pyenv.Report

	// Services is nil when service installation was declined or skipped.
	Services *ServiceSummary
}

func (r *Report) act(step, kind, detail string) {
	r.Actions = append(r.Actions, Action{Step: step, Kind: kind, Detail: detail})
}

func (r *Report) warn(logger *slog.Logger, msg string, args ...any) {
	logger.Warn(msg, args...)
	r.Warnings = append(r.Warnings, msg)
}

// Recorder persists finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, r journal.Run) (int64, error)
}

// Options controls a run.
type Options struct {
	Plan Plan

	// SkipServices bypasses the service step without asking.
	SkipServices bool

	// In and Out carry interactive prompts.
	In  io.Reader
	Out io.Writer

	// AutoYes is consulted once per configuration value.
	AutoYes func() bool

	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)

	// TokenSource defaults to collect.GenerateToken.
	TokenSource func() (string, error)
}

// Orchestrator executes the provisioning steps in order.
type Orchestrator struct {
	sys     System
	opts    Options
	logger  *slog.Logger
	journal Recorder
	now     func() time.Time
}

// New creates an Orchestrator.
func New(sys System, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.AutoYes == nil {
		opts.AutoYes = collect.AutoYesFromEnv(opts.LookupEnv, false)
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Orchestrator{
		sys:    sys,
		opts:   opts,
		logger: logger.With("component", "provision"),
		now:    time.Now,
	}
}

// SetJournal enables run recording.
func (o *Orchestrator) SetJournal(r Recorder) {
	o.journal = r
}

func (o *Orchestrator) stepLogger(step string) *slog.Logger {
	return o.logger.With("step", step)
}

// Run executes every step. The first fatal error stops the run and is
// returned wrapped with its step name. The partial report is returned too.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	// 1. Check root
	if !o.sys.Root.IsRoot() {
		return nil, ErrNotRoot
	}

	started := o.now()
	report := &Report{Host: DescribeHost()}
	o.logger.Info("provisioning started", "host", report.Host.String(), "project_dir", o.opts.Plan.ProjectDir)

	steps := []struct {
		name string
		fn   func(context.Context, *Report, *slog.Logger) error
	}{
		{StepPackages, o.installPackages},
		{StepToolchain, o.ensureToolchain},
		{StepGuard, o.ensureGuards},
		{StepPython, o.provisionPython},
		{StepShim, o.ensureShim},
		{StepServices, o.installServices},
	}

	var runErr error
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("provision: step %s: %w", s.name, err)
			break
		}
		logger := o.stepLogger(s.name)
		logger.Info("step started")
		if err := s.fn(ctx, report, logger); err != nil {
			runErr = fmt.Errorf("provision: step %s: %w", s.name, err)
			logger.Error("step failed", "error", err)
			break
		}
		logger.Info("step finished")
	}

	o.record(ctx, report, started, runErr)
	if runErr != nil {
		return report, runErr
	}
	o.logger.Info("provisioning finished",
		"actions", len(report.Actions),
		"warnings", len(report.Warnings),
		"reboot_recommended", report.RebootRecommended,
	)
	return report, nil
}

func (o *Orchestrator) installPackages(ctx context.Context, r *Report, logger *slog.Logger) error {
	req := o.opts.Plan.PackageRequest()
	if err := pkgmgr.NewInstaller(o.sys.Packages, logger).Install(ctx, req); err != nil {
		return err
	}
	r.act(StepPackages, "install", strconv.Itoa(len(req.Packages))+" packages")
	return nil
}

func (o *Orchestrator) ensureToolchain(ctx context.Context, r *Report, logger *slog.Logger) error {
	engine := toolchain.NewEngine(o.sys.Prober, o.sys.VCS, o.sys.Build, o.sys.Rules, guard.NewConfigurator(logger), logger)
	out, err := engine.Ensure(ctx, o.opts.Plan.BuildTarget())
	r.Toolchain = out
	if err != nil {
		return err
	}
	if out.State == toolchain.StateHealthy {
		return nil
	}

	r.act(StepToolchain, "clone", out.SourceURL)
	r.act(StepToolchain, "build", "cmake, make, make install, ldconfig")
	if out.UsedFallback {
		r.warn(logger, "primary toolchain repository unreachable, built from fallback", "url", out.SourceURL)
	}
	switch {
	case out.RuleMissing:
		r.warn(logger, "source tree shipped no udev rule; device permissions may need manual setup")
	case out.Rule == guard.Applied:
		r.act(StepToolchain, "udev-rule", "installed and reloaded")
	}
	if !out.Verified {
		r.warn(logger, "rtl_test still fails after build; check that the dongle is attached")
	}
	return nil
}

func (o *Orchestrator) ensureGuards(_ context.Context, r *Report, logger *slog.Logger) error {
	f := guard.Blacklist(o.opts.Plan.Guard.BlacklistPath, o.opts.Plan.Guard.BlacklistPolicy)
	res, err := guard.NewConfigurator(logger).Ensure(f)
	if err != nil {
		return err
	}
	if res == guard.Applied {
		r.act(StepGuard, "write", f.Path)
		r.RebootRecommended = true
		r.Warnings = append(r.Warnings, "kernel driver blacklist changed; reboot recommended")
	}
	return nil
}

func (o *Orchestrator) provisionPython(ctx context.Context, r *Report, logger *slog.Logger) error {
	spec := o.opts.Plan.VenvSpec()
	res, err := pyenv.NewProvisioner(o.sys.Python, logger).Provision(ctx, spec)
	r.Python = res
	if err != nil {
		return err
	}
	if res.Created {
		r.act(StepPython, "create-venv", spec.Dir)
	}
	r.act(StepPython, "pip-install", spec.Dir)
	for _, mod := range res.Missing() {
		r.Warnings = append(r.Warnings, "python module "+mod+" is not importable")
	}
	return nil
}

func (o *Orchestrator) ensureShim(_ context.Context, r *Report, logger *slog.Logger) error {
	dir := o.opts.Plan.ProjectDir
	alias := filepath.Join(dir, o.opts.Plan.Shim.Alias)
	canonical := filepath.Join(dir, o.opts.Plan.Shim.Canonical)
	res, err := shim.NewLinker(logger).EnsureAlias(canonical, alias)
	if err != nil {
		return err
	}
	switch res {
	case shim.Created:
		r.act(StepShim, "symlink", alias)
	case shim.SkippedMissingSource:
		r.warn(logger, "scanner script "+canonical+" is missing; "+alias+" was not created and the control plane cannot launch scans",
			"canonical", canonical, "alias", alias)
	}
	return nil
}

func (o *Orchestrator) installServices(ctx context.Context, r *Report, logger *slog.Logger) error {
	if o.opts.SkipServices {
		logger.Info("service installation skipped by flag")
		return nil
	}
	c := o.newCollector(o.opts.AutoYes, logger)
	gate, err := c.Collect([]collect.Value{GateValue()})
	if err != nil {
		return err
	}
	if !gate.Bool(ValueInstallServices) {
		logger.Info("service installation declined")
		return nil
	}

	in, err := o.collectServiceInputs(c)
	if err != nil {
		return err
	}
	ins := packaging.NewInstaller(in.Config, o.sys.Services, logger)
	rendered, err := ins.Render(in.Env, in.Bindings)
	if err != nil {
		return err
	}
	res, err := ins.Install(ctx, rendered)
	if err != nil {
		return err
	}

	if res.EnvFileChanged {
		r.act(StepServices, "write", in.Config.EnvFilePath)
	}
	for _, u := range res.ChangedUnits {
		r.act(StepServices, "write", u)
	}
	if res.StateDirChanged {
		r.act(StepServices, "state-dir", in.Config.StateDir)
	}
	if res.Reloaded {
		r.act(StepServices, "daemon-reload", "")
	}
	for _, u := range res.Started {
		r.act(StepServices, "enable-now", u)
	}
	for _, u := range res.Inactive {
		r.Warnings = append(r.Warnings, u+" is not active; inspect with journalctl -u "+u)
	}

	units := make([]string, 0, len(rendered.Units))
	for _, u := range rendered.Units {
		units = append(units, u.Name)
	}
	r.Services = &ServiceSummary{
		ControlURL: serviceURL(in.ControlAddr, r.Host.Hostname),
		WebURL:     serviceURL(in.WebAddr, r.Host.Hostname),
		Units:      units,
		EnvFile:    in.Config.EnvFilePath,
		Inactive:   res.Inactive,
	}
	return nil
}

// RenderServices collects the service configuration non-interactively and
// renders the env file and units without touching the host.
func (o *Orchestrator) RenderServices() (*packaging.Rendered, error) {
	logger := o.stepLogger("render")
	in, err := o.collectServiceInputs(o.newCollector(func() bool { return true }, logger))
	if err != nil {
		return nil, err
	}
	return packaging.NewInstaller(in.Config, o.sys.Services, logger).Render(in.Env, in.Bindings)
}

func (o *Orchestrator) newCollector(autoYes func() bool, logger *slog.Logger) *collect.Collector {
	c := collect.New(o.opts.In, o.opts.Out, autoYes, logger)
	c.SetLookupEnv(o.opts.LookupEnv)
	if o.opts.TokenSource != nil {
		c.SetTokenSource(o.opts.TokenSource)
	}
	return c
}

func (o *Orchestrator) collectServiceInputs(c *collect.Collector) (ServiceInputs, error) {
	sudoUser, _ := o.opts.LookupEnv("SUDO_USER")
	rec, err := c.Collect(ServiceValues(o.opts.Plan.ProjectDir, sudoUser, ReadExistingEnv))
	if err != nil {
		return ServiceInputs{}, err
	}
	// Services run from the tree the alias and venv were provisioned in.
	if got, want := filepath.Clean(rec.Get(ValueProjectDir)), o.opts.Plan.ProjectDir; got != want {
		return ServiceInputs{}, fmt.Errorf("%w: collected %s, provisioned %s (set SDRWATCH_PROJECT_DIR before running)",
			ErrProjectDirMismatch, got, want)
	}
	venvBin := filepath.Join(o.opts.Plan.Python.VenvDir, "bin")
	script := filepath.Join(o.opts.Plan.ProjectDir, o.opts.Plan.Shim.Alias)
	return BuildServiceInputs(rec, venvBin, script, o.opts.Plan.Services)
}

func (o *Orchestrator) record(ctx context.Context, r *Report, started time.Time, runErr error) {
	if o.journal == nil {
		return
	}
	run := journal.Run{
		StartedAt:  started,
		FinishedAt: o.now(),
		Status:     journal.StatusSucceeded,
		Host:       r.Host.String(),
	}
	if runErr != nil {
		run.Status = journal.StatusFailed
		run.Error = runErr.Error()
	}
	for _, a := range r.Actions {
		run.Actions = append(run.Actions, journal.Action{Step: a.Step, Kind: a.Kind, Detail: a.Detail})
	}
	// The journal is written even when ctx was cancelled mid-run.
	if _, err := o.journal.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		r.warn(o.logger, "run journal not written", "error", err)
	}
}

// serviceURL turns a bind address into a browsable URL. Wildcard hosts are
// replaced by hostname.
func serviceURL(addr, hostname string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "0.0.0.0" || host == "::" || host == "" {
		host = hostname
		if host == "" {
			host = "localhost"
		}
	}
	return "http://" + net.JoinHostPort(host, port)
}
