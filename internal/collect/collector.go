package collect

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// AutoYesEnv switches the collector to non-interactive mode.
const AutoYesEnv = "SDRWATCH_AUTO_YES"

// tokenBytes yields a 32 character hex token.
const tokenBytes = 16

// Collector resolves configuration values. The interactive/non-interactive
// mode is re-evaluated for every value.
type Collector struct {
	rawIn   io.Reader
	in      *bufio.Reader
	out     io.Writer
	autoYes func() bool
	logger  *slog.Logger

	lookupEnv func(string) (string, bool)
	newToken  func() (string, error)

	eof       bool
	ttyWarned bool
}

// New creates a Collector reading answers from in and writing prompts to out.
// autoYes is called once per value.
func New(in io.Reader, out io.Writer, autoYes func() bool, logger *slog.Logger) *Collector {
	return &Collector{
		rawIn:     in,
		in:        bufio.NewReader(in),
		out:       out,
		autoYes:   autoYes,
		logger:    logger.With("component", "collect"),
		lookupEnv: os.LookupEnv,
		newToken:  GenerateToken,
	}
}

// SetLookupEnv overrides environment lookup, for tests.
func (c *Collector) SetLookupEnv(fn func(string) (string, bool)) {
	c.lookupEnv = fn
}

// SetTokenSource overrides secret generation, for tests.
func (c *Collector) SetTokenSource(fn func() (string, error)) {
	c.newToken = fn
}

// AutoYesFromEnv returns a mode function reading AutoYesEnv through lookup on
// every call. force short-circuits to true.
func AutoYesFromEnv(lookup func(string) (string, bool), force bool) func() bool {
	return func() bool {
		if force {
			return true
		}
		v, _ := lookup(AutoYesEnv)
		return EnvTrue(v)
	}
}

// GenerateToken returns a random 32 character hex string.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("collect: generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Collect resolves values in order. Later defaults may depend on earlier
// answers through Value.DefaultFunc.
func (c *Collector) Collect(values []Value) (Record, error) {
	rec := make(Record, len(values))
	for _, v := range values {
		val, err := c.resolve(v, rec)
		if err != nil {
			return rec, err
		}
		rec[v.Name] = val
	}
	return rec, nil
}

func (c *Collector) resolve(v Value, rec Record) (string, error) {
	def := v.defaultFor(rec)
	env, hasEnv := c.env(v.Env)

	var (
		val string
		err error
	)
	if c.autoYes() {
		val = def
		if hasEnv {
			val = env
		}
		if v.Kind != KindSecret || val != "" {
			if val, err = normalize(v.Kind, val); err != nil {
				return "", fmt.Errorf("collect: %s: %w", v.Name, err)
			}
		}
	} else {
		if hasEnv {
			def = env
		}
		if val, err = c.ask(v, def); err != nil {
			return "", err
		}
	}

	if v.Kind == KindSecret && val == "" {
		tok, err := c.newToken()
		if err != nil {
			return "", err
		}
		c.logger.Info("generated secret", "name", v.Name)
		return tok, nil
	}
	return val, nil
}

func (c *Collector) env(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	v, ok := c.lookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// ask prompts until the answer is valid for the value's kind.
func (c *Collector) ask(v Value, def string) (string, error) {
	c.warnIfNotTTY()
	for {
		if c.eof {
			return c.fallback(v, def)
		}

		fmt.Fprintf(c.out, "%s [%s]: ", v.Prompt, displayDefault(v.Kind, def))
		line, err := c.in.ReadString('\n')
		if errors.Is(err, io.EOF) {
			c.eof = true
			if strings.TrimSpace(line) == "" {
				fmt.Fprintln(c.out)
				c.logger.Warn("input closed, using default", "name", v.Name)
				return c.fallback(v, def)
			}
		} else if err != nil {
			return "", fmt.Errorf("collect: read %s: %w", v.Name, err)
		}

		answer := strings.TrimSpace(line)
		if answer == "" {
			answer = def
		}
		if v.Kind == KindSecret && answer == "" {
			return "", nil
		}
		val, err := normalize(v.Kind, answer)
		if err == nil {
			return val, nil
		}
		fmt.Fprintf(c.out, "  %v\n", err)
	}
}

// fallback resolves def without further input.
func (c *Collector) fallback(v Value, def string) (string, error) {
	if v.Kind == KindSecret && def == "" {
		return "", nil
	}
	val, err := normalize(v.Kind, def)
	if err != nil {
		return "", fmt.Errorf("collect: %s: no input and invalid default: %w", v.Name, err)
	}
	return val, nil
}

func (c *Collector) warnIfNotTTY() {
	if c.ttyWarned {
		return
	}
	c.ttyWarned = true
	type fder interface {
		Fd() uintptr
	}
	if f, ok := c.rawIn.(fder); ok && !isatty.IsTerminal(f.Fd()) {
		c.logger.Warn("stdin is not a terminal; set " + AutoYesEnv + "=1 for unattended runs")
	}
}

func displayDefault(kind Kind, def string) string {
	if kind != KindSecret {
		return def
	}
	if def == "" {
		return "generate"
	}
	return "keep current"
}
