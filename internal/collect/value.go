// Package collect gathers the operator configuration for the SDRWatch
// services, interactively or from SDRWATCH_* environment overrides.
package collect

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind selects how a value is parsed and validated.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindPort
	// KindSecret receives a generated token when it resolves to empty.
	KindSecret
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindPort:
		return "port"
	case KindSecret:
		return "secret"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value describes one configuration value.
type Value struct {
	Name   string
	Env    string
	Prompt string
	Kind   Kind

	Default string

	// DefaultFunc computes the default from values collected earlier. It
	// takes precedence over Default.
	DefaultFunc func(Record) string
}

func (v Value) defaultFor(r Record) string {
	if v.DefaultFunc != nil {
		return v.DefaultFunc(r)
	}
	return v.Default
}

// Record maps value names to their resolved strings.
type Record map[string]string

// Get returns the value for name, or "" when absent.
func (r Record) Get(name string) string {
	return r[name]
}

// Bool interprets name as a yes/no answer. Absent or unparseable is false.
func (r Record) Bool(name string) bool {
	b, err := ParseYesNo(r[name])
	return err == nil && b
}

// Int parses name as a base-10 integer.
func (r Record) Int(name string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(r[name]))
	if err != nil {
		return 0, fmt.Errorf("collect: %s: %w", name, err)
	}
	return n, nil
}

// ParseYesNo accepts y, yes, n and no, case-insensitively.
func ParseYesNo(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	}
	return false, fmt.Errorf("collect: %q is not yes or no", s)
}

// EnvTrue reports whether an environment value switches a flag on.
func EnvTrue(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

func parsePort(s string) (string, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("collect: %q is not a port in 1..65535", s)
	}
	return strconv.Itoa(n), nil
}

// normalize validates raw for kind and returns its canonical form.
func normalize(kind Kind, raw string) (string, error) {
	switch kind {
	case KindBool:
		b, err := ParseYesNo(raw)
		if err != nil {
			return "", err
		}
		if b {
			return "yes", nil
		}
		return "no", nil
	case KindPort:
		return parsePort(raw)
	default:
		return strings.TrimSpace(raw), nil
	}
}
