// Package hook runs user configured commands around backup operations.
package hook

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/cosiner/argv"
	"github.com/rs/zerolog"
)

// Service defines the interface for running hook commands
type Service interface {
	Run(ctx context.Context, commands []string) error
}

// CommandExecutor abstracts command execution for testing
type CommandExecutor interface {
	Run(ctx context.Context, name string, args ...string) error
}

// DefaultExecutor implements CommandExecutor with the process's standard
// streams attached, so hook output lands in the same place as borg's.
type DefaultExecutor struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewDefaultExecutor creates a DefaultExecutor wired to stdout and stderr
func NewDefaultExecutor() *DefaultExecutor {
	return &DefaultExecutor{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes the named program with the given arguments
func (e *DefaultExecutor) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr
	return cmd.Run()
}

// Impl implements the hook Service interface
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new hook service instance
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: NewDefaultExecutor(),
		logger:   logger,
	}
}

// NewWithExecutor creates a new hook service with a custom executor
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Run executes each command in order and stops at the first failure
func (s *Impl) Run(ctx context.Context, commands []string) error {
	if len(commands) == 0 {
		return nil
	}

	for _, raw := range commands {
		words, err := parseCommand(raw)
		if err != nil {
			return fmt.Errorf("parsing hook command %q: %w", raw, err)
		}

		s.logger.Info().Str("command", raw).Msg("running hook command")
		if err := s.executor.Run(ctx, words[0], words[1:]...); err != nil {
			return fmt.Errorf("hook command %q failed: %w", raw, err)
		}
	}

	s.logger.Debug().Int("count", len(commands)).Msg("hook commands finished")
	return nil
}

// parseCommand splits a hook line into an argument vector. Hook commands run
// without a shell, so pipelines and command substitution are rejected instead
// of silently misbehaving. Environment variables are expanded.
func parseCommand(raw string) ([]string, error) {
	words, err := argv.Argv(raw, func(backquoted string) (string, error) {
		return "", fmt.Errorf("command substitution is not supported")
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(words) > 1 {
		return nil, fmt.Errorf("pipelines are not supported")
	}
	if len(words) == 0 || len(words[0]) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return words[0], nil
}
