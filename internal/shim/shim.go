// Package shim keeps legacy script names working by symlinking them to the
// canonical script.
package shim

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Result is the outcome of EnsureAlias.
type Result int

const (
	// Created means a new symlink was made.
	Created Result = iota
	// AlreadyPresent means something already exists at the alias path.
	AlreadyPresent
	// SkippedMissingSource means the canonical file does not exist.
	SkippedMissingSource
)

func (r Result) String() string {
	switch r {
	case Created:
		return "created"
	case AlreadyPresent:
		return "already_present"
	case SkippedMissingSource:
		return "skipped_missing_source"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Linker creates compatibility aliases.
type Linker struct {
	logger *slog.Logger
}

// NewLinker creates a Linker.
func NewLinker(logger *slog.Logger) *Linker {
	return &Linker{logger: logger.With("component", "shim")}
}

// EnsureAlias points alias at canonical with a relative symlink when
// canonical exists and alias does not. An existing alias of any kind,
// including a dangling or foreign symlink, is left untouched.
func (l *Linker) EnsureAlias(canonical, alias string) (Result, error) {
	if _, err := os.Lstat(alias); err == nil {
		l.logger.Info("alias already satisfied", "alias", alias)
		return AlreadyPresent, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return AlreadyPresent, fmt.Errorf("shim: stat %s: %w", alias, err)
	}

	if _, err := os.Stat(canonical); errors.Is(err, os.ErrNotExist) {
		l.logger.Info("canonical script absent, alias skipped", "canonical", canonical)
		return SkippedMissingSource, nil
	} else if err != nil {
		return SkippedMissingSource, fmt.Errorf("shim: stat %s: %w", canonical, err)
	}

	target, err := filepath.Rel(filepath.Dir(alias), canonical)
	if err != nil {
		target = canonical
	}
	if err := os.Symlink(target, alias); err != nil {
		return AlreadyPresent, fmt.Errorf("shim: link %s -> %s: %w", alias, target, err)
	}
	l.logger.Info("alias created", "alias", alias, "target", target)
	return Created, nil
}
