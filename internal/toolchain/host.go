package toolchain

import (
	"context"
	"strconv"

	"github.com/sdrwatch/sdrprov/internal/hostexec"
)

type gitClient struct {
	runner hostexec.Runner
}

// NewGit returns a VersionControl backed by the git CLI.
func NewGit(runner hostexec.Runner) VersionControl {
	return &gitClient{runner: runner}
}

func (g *gitClient) Clone(ctx context.Context, url, dir string) error {
	return g.runner.Run(ctx, hostexec.Command{
		Name: "git",
		Args: []string{"clone", "--depth", "1", url, dir},
		Env:  []string{"GIT_TERMINAL_PROMPT=0"},
	})
}

type cmakeBuild struct {
	runner hostexec.Runner
}

// NewCMake returns a BuildSystem that runs cmake, make and ldconfig.
func NewCMake(runner hostexec.Runner) BuildSystem {
	return &cmakeBuild{runner: runner}
}

func (b *cmakeBuild) Configure(ctx context.Context, srcDir, buildDir string, args []string) error {
	return b.runner.Run(ctx, hostexec.Command{
		Name: "cmake",
		Args: append([]string{"-S", srcDir, "-B", buildDir}, args...),
	})
}

func (b *cmakeBuild) Compile(ctx context.Context, buildDir string, jobs int) error {
	return b.runner.Run(ctx, hostexec.Command{
		Name: "make",
		Args: []string{"-C", buildDir, "-j" + strconv.Itoa(jobs)},
	})
}

func (b *cmakeBuild) Install(ctx context.Context, buildDir string) error {
	return b.runner.Run(ctx, hostexec.Command{Name: "make", Args: []string{"-C", buildDir, "install"}})
}

func (b *cmakeBuild) RefreshLinkerCache(ctx context.Context) error {
	return b.runner.Run(ctx, hostexec.Command{Name: "ldconfig"})
}

type udevadm struct {
	runner hostexec.Runner
}

// NewUdevadm returns DeviceRules backed by udevadm.
func NewUdevadm(runner hostexec.Runner) DeviceRules {
	return &udevadm{runner: runner}
}

func (u *udevadm) Reload(ctx context.Context) error {
	return u.runner.Run(ctx, hostexec.Command{Name: "udevadm", Args: []string{"control", "--reload-rules"}})
}

func (u *udevadm) Trigger(ctx context.Context) error {
	return u.runner.Run(ctx, hostexec.Command{Name: "udevadm", Args: []string{"trigger"}})
}
