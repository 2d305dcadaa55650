package hostexec

import (
	"context"
	"os/exec"
	"time"
)

// DefaultProbeTimeout bounds a single diagnostic probe.
const DefaultProbeTimeout = 5 * time.Second

// Prober runs side-effect-free diagnostic commands. A probe never fails with
// an error: any problem, including a missing binary or a timeout, is false.
type Prober interface {
	Probe(ctx context.Context, argv []string) bool
}

type execProber struct {
	timeout time.Duration
}

// NewProber returns a Prober that runs each probe with the given timeout.
// A zero timeout selects DefaultProbeTimeout.
func NewProber(timeout time.Duration) Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &execProber{timeout: timeout}
}

func (p *execProber) Probe(ctx context.Context, argv []string) bool {
	return Probe(ctx, p.timeout, argv)
}

// Probe runs argv with output discarded and reports whether it exited zero
// within timeout.
func Probe(ctx context.Context, timeout time.Duration, argv []string) bool {
	if len(argv) == 0 || argv[0] == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.WaitDelay = waitDelayAfterKill
	// Stdout and Stderr stay nil, which connects them to the null device.
	return cmd.Run() == nil
}

// Available reports whether name resolves on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
