package pyenv

import (
	"context"
	"path/filepath"

	"github.com/sdrwatch/sdrprov/internal/hostexec"
)

// DefaultPython is the interpreter used to create venvs.
const DefaultPython = "python3"

type venvPython struct {
	python string
	runner hostexec.Runner
	prober hostexec.Prober
}

// NewInterpreter returns an Interpreter backed by python3 -m venv and the
// venv's own pip. An empty python selects DefaultPython.
func NewInterpreter(python string, runner hostexec.Runner, prober hostexec.Prober) Interpreter {
	if python == "" {
		python = DefaultPython
	}
	return &venvPython{python: python, runner: runner, prober: prober}
}

func (v *venvPython) CreateVenv(ctx context.Context, dir string, systemSitePackages bool) error {
	args := []string{"-m", "venv"}
	if systemSitePackages {
		args = append(args, "--system-site-packages")
	}
	return v.runner.Run(ctx, hostexec.Command{Name: v.python, Args: append(args, dir)})
}

func (v *venvPython) PipInstall(ctx context.Context, dir string, upgrade bool, pkgs []string) error {
	args := []string{"-m", "pip", "install", "--disable-pip-version-check"}
	if upgrade {
		args = append(args, "--upgrade")
	}
	return v.runner.Run(ctx, hostexec.Command{
		Name: venvBin(dir, "python"),
		Args: append(args, pkgs...),
	})
}

func (v *venvPython) CanImport(ctx context.Context, dir, module string) bool {
	return v.prober.Probe(ctx, []string{venvBin(dir, "python"), "-c", "import " + module})
}

func venvBin(dir, name string) string {
	return filepath.Join(dir, "bin", name)
}
