package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/sdrwatch/sdrprov/internal/journal"
	"github.com/sdrwatch/sdrprov/internal/toolchain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeHost is an in-memory host. Installing the toolchain makes the driver
// probe pass; creating a venv creates its directory.
type fakeHost struct {
	root        bool
	driverOK    bool
	failClone   map[string]bool
	failPackage error
	failBuild   error
	imports     map[string]bool

	aptUpdates  int
	aptInstalls [][]string
	clones      []string
	builds      int
	venvCreates int
	pipInstalls int
	reloads     int
	enabled     []string
}

func newFakeHost(driverOK bool) *fakeHost {
	return &fakeHost{
		root:      true,
		driverOK:  driverOK,
		failClone: map[string]bool{},
		imports:   map[string]bool{"flask": true, "rtlsdr": true, "numpy": true, "scipy": true, "SoapySDR": true},
	}
}

func (h *fakeHost) system() System {
	return System{
		Root:     fakeRoot{h},
		Prober:   fakeProber{h},
		Packages: fakePackages{h},
		VCS:      fakeVCS{h},
		Build:    fakeBuild{h},
		Rules:    fakeRules{h},
		Python:   fakePython{h},
		Services: fakeServices{h},
	}
}

type fakeRoot struct{ h *fakeHost }

func (f fakeRoot) IsRoot() bool { return f.h.root }

type fakeProber struct{ h *fakeHost }

func (f fakeProber) Probe(_ context.Context, argv []string) bool {
	if len(argv) > 0 && argv[0] == "driver-check" {
		return f.h.driverOK
	}
	return false
}

type fakePackages struct{ h *fakeHost }

func (f fakePackages) Available() bool { return true }

func (f fakePackages) Update(_ context.Context) error {
	f.h.aptUpdates++
	return nil
}

func (f fakePackages) Install(_ context.Context, pkgs []string) error {
	f.h.aptInstalls = append(f.h.aptInstalls, pkgs)
	return f.h.failPackage
}

type fakeVCS struct{ h *fakeHost }

func (f fakeVCS) Clone(_ context.Context, url, dir string) error {
	f.h.clones = append(f.h.clones, url)
	if f.h.failClone[url] {
		return fmt.Errorf("clone %s: unreachable", url)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, toolchain.DefaultRuleFile), []byte("SUBSYSTEMS==\"usb\", MODE=\"0666\"\n"), 0o644)
}

type fakeBuild struct{ h *fakeHost }

func (f fakeBuild) Configure(_ context.Context, _, _ string, _ []string) error { return nil }
func (f fakeBuild) Compile(_ context.Context, _ string, _ int) error {
	return f.h.failBuild
}

func (f fakeBuild) Install(_ context.Context, _ string) error {
	f.h.builds++
	f.h.driverOK = true
	return nil
}

func (f fakeBuild) RefreshLinkerCache(_ context.Context) error { return nil }

type fakeRules struct{ h *fakeHost }

func (f fakeRules) Reload(_ context.Context) error  { return nil }
func (f fakeRules) Trigger(_ context.Context) error { return nil }

type fakePython struct{ h *fakeHost }

func (f fakePython) CreateVenv(_ context.Context, dir string, _ bool) error {
	f.h.venvCreates++
	return os.MkdirAll(filepath.Join(dir, "bin"), 0o755)
}

func (f fakePython) PipInstall(_ context.Context, _ string, _ bool, _ []string) error {
	f.h.pipInstalls++
	return nil
}

func (f fakePython) CanImport(_ context.Context, _ string, module string) bool {
	return f.h.imports[module]
}

type fakeServices struct{ h *fakeHost }

func (f fakeServices) IsAvailable() bool { return true }

func (f fakeServices) DaemonReload(_ context.Context) error {
	f.h.reloads++
	return nil
}

func (f fakeServices) EnableNow(_ context.Context, unit string) error {
	f.h.enabled = append(f.h.enabled, unit)
	return nil
}

func (f fakeServices) IsActive(_ context.Context, _ string) bool { return true }

// fakeJournal records runs in memory.
type fakeJournal struct {
	runs []journal.Run
	err  error
}

func (j *fakeJournal) RecordRun(_ context.Context, r journal.Run) (int64, error) {
	if j.err != nil {
		return 0, j.err
	}
	j.runs = append(j.runs, r)
	return int64(len(j.runs)), nil
}

// testEnv is a sandboxed host layout under t.TempDir().
type testEnv struct {
	root    string
	project string
	env     map[string]string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	project := filepath.Join(root, "home", "pi", "sdrwatch")
	if err := os.MkdirAll(project, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(project, "sdr_watch.py"), []byte("# scanner\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	u, err := user.Current()
	if err != nil {
		t.Skipf("current user not resolvable: %v", err)
	}
	g, err := user.LookupGroupId(strconv.Itoa(os.Getgid()))
	if err != nil {
		t.Skipf("current group not resolvable: %v", err)
	}
	return &testEnv{
		root:    root,
		project: project,
		env: map[string]string{
			"SDRWATCH_USER":         u.Username,
			"SDRWATCH_GROUP":        g.Name,
			"SDRWATCH_ENV_FILE":     filepath.Join(root, "etc", "sdrwatch.env"),
			"SDRWATCH_CONTROL_UNIT": filepath.Join(root, "etc", "systemd", "system", "sdrwatch-control.service"),
			"SDRWATCH_WEB_UNIT":     filepath.Join(root, "etc", "systemd", "system", "sdrwatch-web.service"),
			"SDRWATCH_CONTROL_BASE": filepath.Join(root, "var", "lib", "sdrwatch-control"),
		},
	}
}

func (e *testEnv) path(parts ...string) string {
	return filepath.Join(append([]string{e.root}, parts...)...)
}

func (e *testEnv) plan() Plan {
	p := Plan{
		ProjectDir: e.project,
		Toolchain: ToolchainPlan{
			ProbeCommand: []string{"driver-check"},
			PrimaryURL:   "https://repo-a.example/rtl-sdr.git",
			FallbackURL:  "https://repo-b.example/rtl-sdr.git",
			WorkDir:      e.path("var", "tmp", "rtl-sdr"),
			RuleDest:     e.path("etc", "udev", "rules.d", "rtl-sdr.rules"),
			Jobs:         2,
		},
		Guard:    GuardPlan{BlacklistPath: e.path("etc", "modprobe.d", "blacklist-rtl-sdr.conf")},
		Services: ServicesPlan{StartDelay: 1},
	}
	p.ApplyDefaults()
	return p
}

func (e *testEnv) lookup(k string) (string, bool) {
	v, ok := e.env[k]
	return v, ok
}

func sequentialTokens() func() (string, error) {
	n := 0
	return func() (string, error) {
		n++
		return fmt.Sprintf("token-%02d", n), nil
	}
}

func newTestOrchestrator(h *fakeHost, e *testEnv, autoYes bool, in io.Reader, out io.Writer) *Orchestrator {
	if in == nil {
		in = strings.NewReader("")
	}
	if out == nil {
		out = io.Discard
	}
	return New(h.system(), Options{
		Plan:        e.plan(),
		In:          in,
		Out:         out,
		AutoYes:     func() bool { return autoYes },
		LookupEnv:   e.lookup,
		TokenSource: sequentialTokens(),
	}, discardLogger())
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%q) = %v", path, err)
	}
	return string(data)
}

var errBoom = errors.New("boom")
