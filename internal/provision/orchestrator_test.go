package provision

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/sdrwatch/sdrprov/internal/packaging"
	"github.com/sdrwatch/sdrprov/internal/toolchain"
)

func TestRun_EndToEndFallbackScenario(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(false)
	h.failClone["https://repo-a.example/rtl-sdr.git"] = true
	o := newTestOrchestrator(h, e, true, nil, nil)
	j := &fakeJournal{}
	o.SetJournal(j)

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantClones := []string{"https://repo-a.example/rtl-sdr.git", "https://repo-b.example/rtl-sdr.git"}
	if strings.Join(h.clones, " ") != strings.Join(wantClones, " ") {
		t.Errorf("clones = %v, want %v", h.clones, wantClones)
	}
	if report.Toolchain.State != toolchain.StateInstalled || report.Toolchain.SourceURL != wantClones[1] {
		t.Errorf("toolchain = %+v", report.Toolchain)
	}
	if !report.Toolchain.Verified {
		t.Error("toolchain not verified after build")
	}

	control := readFile(t, e.env["SDRWATCH_CONTROL_UNIT"])
	web := readFile(t, e.env["SDRWATCH_WEB_UNIT"])
	if !strings.Contains(control, "8765") {
		t.Errorf("control unit does not reference 8765:\n%s", control)
	}
	if !strings.Contains(web, "8080") {
		t.Errorf("web unit does not reference 8080:\n%s", web)
	}
	envFile := readFile(t, e.env["SDRWATCH_ENV_FILE"])
	for _, want := range []string{
		"SDRWATCH_CONTROL_PORT=8765",
		"SDRWATCH_WEB_PORT=8080",
		"SDRWATCH_CONTROL_TOKEN=token-01",
		"SDRWATCH_TOKEN=token-02",
		"SDRWATCH_VENV_BIN=" + filepath.Join(e.project, ".venv", "bin"),
		"SDRWATCH_SCRIPT=" + filepath.Join(e.project, "sdrwatch.py"),
	} {
		if !strings.Contains(envFile, want+"\n") {
			t.Errorf("env file missing %q:\n%s", want, envFile)
		}
	}

	if strings.Join(h.enabled, ",") != "sdrwatch-control.service,sdrwatch-web.service" {
		t.Errorf("enabled = %v", h.enabled)
	}
	if !report.RebootRecommended {
		t.Error("RebootRecommended = false after blacklist write")
	}

	var summary bytes.Buffer
	WriteSummary(&summary, report)
	for _, want := range []string{":8080", "http://127.0.0.1:8765", "journalctl -u sdrwatch-web.service", "reboot"} {
		if !strings.Contains(summary.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, summary.String())
		}
	}

	if len(j.runs) != 1 || j.runs[0].Status != "succeeded" || len(j.runs[0].Actions) != len(report.Actions) {
		t.Errorf("journal = %+v", j.runs)
	}
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(false)
	ctx := context.Background()

	first, err := newTestOrchestrator(h, e, true, nil, nil).Run(ctx)
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	files := []string{
		e.env["SDRWATCH_ENV_FILE"],
		e.env["SDRWATCH_CONTROL_UNIT"],
		e.env["SDRWATCH_WEB_UNIT"],
		e.plan().Guard.BlacklistPath,
	}
	before := make(map[string]string)
	for _, f := range files {
		before[f] = readFile(t, f)
	}

	second, err := newTestOrchestrator(h, e, true, nil, nil).Run(ctx)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if len(second.Actions) >= len(first.Actions) {
		t.Errorf("second run actions = %d, first = %d; want strictly fewer", len(second.Actions), len(first.Actions))
	}
	for _, f := range files {
		if got := readFile(t, f); got != before[f] {
			t.Errorf("%s changed on second run", f)
		}
	}
	if len(h.clones) != 1 || h.builds != 1 {
		t.Errorf("clones = %v builds = %d, want one build total", h.clones, h.builds)
	}
	if h.venvCreates != 1 {
		t.Errorf("venvCreates = %d, want 1", h.venvCreates)
	}
	if h.reloads != 1 {
		t.Errorf("daemon reloads = %d, want 1", h.reloads)
	}
	if second.RebootRecommended {
		t.Error("second run recommends reboot")
	}
	if second.Toolchain.State != toolchain.StateHealthy {
		t.Errorf("second run toolchain = %v, want healthy", second.Toolchain.State)
	}
}

func TestRun_HealthyToolchainSkipsBuild(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(true)

	report, err := newTestOrchestrator(h, e, true, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(h.clones) != 0 || h.builds != 0 {
		t.Errorf("clones = %v builds = %d, want none", h.clones, h.builds)
	}
	if _, err := os.Stat(e.plan().Toolchain.WorkDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("work dir created for healthy toolchain")
	}
	for _, a := range report.Actions {
		if a.Step == StepToolchain {
			t.Errorf("unexpected toolchain action %+v", a)
		}
	}
}

func TestRun_RequiresRoot(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(true)
	h.root = false
	j := &fakeJournal{}
	o := newTestOrchestrator(h, e, true, nil, nil)
	o.SetJournal(j)

	_, err := o.Run(context.Background())
	if !errors.Is(err, ErrNotRoot) {
		t.Fatalf("Run() error = %v, want ErrNotRoot", err)
	}
	if len(h.aptInstalls) != 0 || len(j.runs) != 0 {
		t.Error("non-root run touched the host")
	}
}

func TestRun_FatalStepStopsRun(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(false)
	h.failBuild = errBoom
	j := &fakeJournal{}
	o := newTestOrchestrator(h, e, true, nil, nil)
	o.SetJournal(j)

	report, err := o.Run(context.Background())
	if !errors.Is(err, errBoom) {
		t.Fatalf("Run() error = %v, want wrapped boom", err)
	}
	if !strings.HasPrefix(err.Error(), "provision: step toolchain:") {
		t.Errorf("error %q not wrapped with step", err)
	}
	if report.Toolchain.State != toolchain.StateFailed {
		t.Errorf("toolchain state = %v, want failed", report.Toolchain.State)
	}
	if _, statErr := os.Stat(e.plan().Guard.BlacklistPath); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("guard step ran after fatal toolchain failure")
	}
	if len(j.runs) != 1 || j.runs[0].Status != "failed" || j.runs[0].Error == "" {
		t.Errorf("journal = %+v, want one failed run", j.runs)
	}
}

func TestRun_BothClonesFail(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(false)
	h.failClone["https://repo-a.example/rtl-sdr.git"] = true
	h.failClone["https://repo-b.example/rtl-sdr.git"] = true

	_, err := newTestOrchestrator(h, e, true, nil, nil).Run(context.Background())
	if !errors.Is(err, toolchain.ErrBothClonesFailed) {
		t.Fatalf("Run() error = %v, want ErrBothClonesFailed", err)
	}
	if len(h.clones) != 2 {
		t.Errorf("clones = %v, want exactly 2", h.clones)
	}
}

func TestRun_PackageFailureIsFatal(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(true)
	h.failPackage = errBoom

	_, err := newTestOrchestrator(h, e, true, nil, nil).Run(context.Background())
	if err == nil || !strings.HasPrefix(err.Error(), "provision: step packages:") {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRun_SkipServicesFlag(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(true)
	o := newTestOrchestrator(h, e, true, nil, nil)
	o.opts.SkipServices = true

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Services != nil || len(h.enabled) != 0 {
		t.Errorf("services installed despite skip flag")
	}
	if _, err := os.Stat(e.env["SDRWATCH_ENV_FILE"]); !errors.Is(err, os.ErrNotExist) {
		t.Error("env file written despite skip flag")
	}
}

func TestRun_InteractiveDecline(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(true)
	var out bytes.Buffer
	o := newTestOrchestrator(h, e, false, strings.NewReader("n\n"), &out)

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Services != nil || len(h.enabled) != 0 {
		t.Error("services installed after operator declined")
	}
	if !strings.Contains(out.String(), "Install and start the SDRWatch systemd services?") {
		t.Errorf("gate prompt not shown: %q", out.String())
	}

	var summary bytes.Buffer
	WriteSummary(&summary, report)
	if !strings.Contains(summary.String(), "Services were not installed") {
		t.Errorf("summary = %q", summary.String())
	}
}

func TestRun_InteractivePortOverride(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(true)
	// gate, user, group, project, db, env file, control host, control port
	answers := "y\n\n\n\n\n\n\n9000\n"
	o := newTestOrchestrator(h, e, false, strings.NewReader(answers), nil)

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Services == nil || report.Services.ControlURL != "http://127.0.0.1:9000" {
		t.Fatalf("services = %+v", report.Services)
	}
	if !strings.Contains(readFile(t, e.env["SDRWATCH_CONTROL_UNIT"]), "127.0.0.1:9000") {
		t.Error("control unit does not carry the chosen port")
	}
}

func TestRun_MissingImportsAreWarnings(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(true)
	h.imports["SoapySDR"] = false

	report, err := newTestOrchestrator(h, e, true, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	found := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "SoapySDR") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want SoapySDR", report.Warnings)
	}
}

func TestRun_JournalFailureIsWarning(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(true)
	o := newTestOrchestrator(h, e, true, nil, nil)
	o.SetJournal(&fakeJournal{err: errBoom})

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Warnings) == 0 || !strings.Contains(strings.Join(report.Warnings, "|"), "journal") {
		t.Errorf("warnings = %v", report.Warnings)
	}
}

func TestRun_ShimCreated(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(true)

	if _, err := newTestOrchestrator(h, e, true, nil, nil).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	target, err := os.Readlink(filepath.Join(e.project, "sdrwatch.py"))
	if err != nil || target != "sdr_watch.py" {
		t.Errorf("alias = %q, %v", target, err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestOrchestrator(h, e, true, nil, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(h.aptInstalls) != 0 {
		t.Error("packages installed after cancellation")
	}
}

func TestRenderServices_NoHostChanges(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(true)
	h.root = false

	r, err := newTestOrchestrator(h, e, false, failReader{t}, nil).RenderServices()
	if err != nil {
		t.Fatalf("RenderServices() error = %v", err)
	}
	if len(r.Units) != 2 {
		t.Fatalf("units = %d", len(r.Units))
	}
	if _, err := os.Stat(r.EnvFile.Path); !errors.Is(err, os.ErrNotExist) {
		t.Error("render wrote the env file")
	}
	if h.reloads != 0 || len(h.enabled) != 0 {
		t.Error("render touched systemd")
	}
}

type failReader struct{ t *testing.T }

func (r failReader) Read(_ []byte) (int, error) {
	r.t.Error("render read stdin")
	return 0, errBoom
}

func TestServiceURL(t *testing.T) {
	tests := []struct {
		addr, host, want string
	}{
		{"127.0.0.1:8765", "pi", "http://127.0.0.1:8765"},
		{"0.0.0.0:8080", "raspberrypi", "http://raspberrypi:8080"},
		{"0.0.0.0:8080", "", "http://localhost:8080"},
		{"[::]:8080", "pi", "http://pi:8080"},
	}
	for _, tt := range tests {
		if got := serviceURL(tt.addr, tt.host); got != tt.want {
			t.Errorf("serviceURL(%q, %q) = %q, want %q", tt.addr, tt.host, got, tt.want)
		}
	}
}

func TestRun_CreatesStateDirForServiceUser(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(true)
	stateDir := e.env["SDRWATCH_CONTROL_BASE"]

	report, err := newTestOrchestrator(h, e, true, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	info, err := os.Stat(stateDir)
	if err != nil {
		t.Fatalf("state dir not created: %v", err)
	}
	if !info.IsDir() || info.Mode().Perm() != packaging.StateDirMode {
		t.Errorf("state dir mode = %v", info.Mode())
	}
	var st unix.Stat_t
	if err := unix.Stat(stateDir, &st); err != nil {
		t.Fatal(err)
	}
	if int(st.Uid) != os.Getuid() || int(st.Gid) != os.Getgid() {
		t.Errorf("state dir owner = %d:%d, want %d:%d", st.Uid, st.Gid, os.Getuid(), os.Getgid())
	}
	if !strings.Contains(readFile(t, e.env["SDRWATCH_CONTROL_UNIT"]), "ReadWritePaths="+stateDir+" ") {
		t.Error("control unit does not list the state dir as writable")
	}

	found := false
	for _, a := range report.Actions {
		if a.Step == StepServices && a.Kind == "state-dir" && a.Detail == stateDir {
			found = true
		}
	}
	if !found {
		t.Errorf("actions = %+v, want state-dir action", report.Actions)
	}

	second, err := newTestOrchestrator(h, e, true, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	for _, a := range second.Actions {
		if a.Kind == "state-dir" {
			t.Errorf("state dir prepared again on second run: %+v", a)
		}
	}
}

func TestRun_MissingScannerScriptWarns(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(true)
	canonical := filepath.Join(e.project, "sdr_watch.py")
	if err := os.Remove(canonical); err != nil {
		t.Fatal(err)
	}

	report, err := newTestOrchestrator(h, e, true, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	found := false
	for _, w := range report.Warnings {
		if strings.Contains(w, canonical) {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %q, want one naming %s", report.Warnings, canonical)
	}
	if _, err := os.Lstat(filepath.Join(e.project, "sdrwatch.py")); !errors.Is(err, os.ErrNotExist) {
		t.Error("alias created without a source")
	}

	var summary bytes.Buffer
	WriteSummary(&summary, report)
	if !strings.Contains(summary.String(), canonical) {
		t.Errorf("summary does not mention the missing script:\n%s", summary.String())
	}
}

func TestRun_ProjectDirOverrideRejected(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(true)
	other := filepath.Join(e.root, "elsewhere")
	e.env["SDRWATCH_PROJECT_DIR"] = other

	_, err := newTestOrchestrator(h, e, true, nil, nil).Run(context.Background())
	if !errors.Is(err, ErrProjectDirMismatch) {
		t.Fatalf("Run() error = %v, want ErrProjectDirMismatch", err)
	}
	if !strings.HasPrefix(err.Error(), "provision: step services:") || !strings.Contains(err.Error(), other) {
		t.Errorf("error = %q", err)
	}
	if _, err := os.Stat(e.env["SDRWATCH_CONTROL_UNIT"]); !errors.Is(err, os.ErrNotExist) {
		t.Error("unit written for a mismatched project dir")
	}
	if len(h.enabled) != 0 {
		t.Error("services started for a mismatched project dir")
	}
}

func TestRun_ScriptPathFollowsProvisionedProject(t *testing.T) {
	e := newTestEnv(t)
	h := newFakeHost(true)

	if _, err := newTestOrchestrator(h, e, true, nil, nil).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	env, err := packaging.ReadEnvFile(e.env["SDRWATCH_ENV_FILE"])
	if err != nil {
		t.Fatal(err)
	}
	alias := filepath.Join(e.project, "sdrwatch.py")
	if env["SDRWATCH_SCRIPT"] != alias || env["SDRWATCH_BIN"] != alias {
		t.Errorf("script = %q bin = %q, want %q", env["SDRWATCH_SCRIPT"], env["SDRWATCH_BIN"], alias)
	}
	if _, err := os.Stat(alias); err != nil {
		t.Errorf("script path does not resolve: %v", err)
	}
	if env["SDRWATCH_VENV_BIN"] != filepath.Join(e.project, ".venv", "bin") {
		t.Errorf("venv bin = %q", env["SDRWATCH_VENV_BIN"])
	}
}
