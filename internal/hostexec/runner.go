// Package hostexec runs host commands on behalf of the provisioning adapters.
package hostexec

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// waitDelayAfterKill is the grace period for a child to exit after its context
// is cancelled before it is forcibly killed.
const waitDelayAfterKill = 500 * time.Millisecond

// maxErrorOutput bounds how much combined output is folded into an error.
const maxErrorOutput = 2048

// Command describes one external invocation.
type Command struct {
	Name string
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env entries are appended to the inherited environment.
	Env []string
}

// String returns the command line for logging.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

func (c Command) label() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + c.Args[0]
}

// Runner executes commands synchronously. Implementations must not impose a
// timeout of their own; the invoked tool decides how long it takes.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

type execRunner struct {
	logger *slog.Logger
}

// NewRunner returns a Runner backed by os/exec.
func NewRunner(logger *slog.Logger) Runner {
	return &execRunner{logger: logger.With("component", "hostexec")}
}

func (r *execRunner) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.WaitDelay = waitDelayAfterKill
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	r.logger.Debug("running command", "cmd", c.String(), "dir", c.Dir)
	start := time.Now()
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("hostexec: %s: %s: %w", c.label(), tail(output), err)
	}
	r.logger.Debug("command finished", "cmd", c.label(), "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// tail keeps the end of the output, where build tools print the actual failure.
func tail(output []byte) string {
	s := strings.TrimSpace(string(output))
	if len(s) > maxErrorOutput {
		s = "..." + s[len(s)-maxErrorOutput:]
	}
	return s
}
