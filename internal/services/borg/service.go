// Package borg shells out to the borg binary for repository operations.
package borg

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/fhaussmann/borgcron/internal/models"
	"github.com/fhaussmann/borgcron/internal/secret"
	"github.com/rs/zerolog"
)

// Service defines the interface for borg operations.
type Service interface {
	Init(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase) error
	Create(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase, settings models.BackupSettings) error
	Prune(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase, policy models.RetentionPolicy) error
	Check(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase) error
	List(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase) error
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Run(ctx context.Context, env []string, name string, args ...string) error
}

// DefaultExecutor runs commands with inherited stdio so borg output reaches
// the operator (or the cron mail) unmodified.
type DefaultExecutor struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewDefaultExecutor creates an executor wired to the process stdio.
func NewDefaultExecutor() *DefaultExecutor {
	return &DefaultExecutor{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes a command with additional environment variables. The extra
// variables exist only in the child process environment.
func (e *DefaultExecutor) Run(ctx context.Context, env []string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdin = e.Stdin
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr
	return cmd.Run()
}

// Impl implements the Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a new borg service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: NewDefaultExecutor(),
		logger:   logger,
		now:      time.Now,
	}
}

// NewWithExecutor creates a new borg service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Impl) buildEnv(sshCfg models.SSHConfig, pass secret.Passphrase) []string {
	env := []string{
		fmt.Sprintf("%s=%s", secret.EnvKey, pass.Value()),
	}

	if rsh := sshCfg.RemoteShell(); rsh != "" {
		env = append(env, "BORG_RSH="+rsh)
	}

	return env
}

// commandArgs assembles the argv for a borg subcommand, inserting shared
// flags before the op specific ones.
func commandArgs(repo models.RepoConfig, sub string, extra ...string) []string {
	args := []string{sub}
	if repo.RemotePath != "" {
		args = append(args, "--remote-path", repo.RemotePath)
	}
	args = append(args, extra...)
	return args
}

// Init creates the remote repository with the configured encryption mode.
// Borg itself refuses to reinitialize an existing repository.
func (s *Impl) Init(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase) error {
	s.logger.Info().Str("repository", repo.Target()).Str("encryption", repo.Encryption).Msg("starting repository init")

	args := commandArgs(repo, "init", "--encryption", repo.Encryption)
	args = append(args, repo.Target())

	if err := s.executor.Run(ctx, s.buildEnv(sshCfg, pass), "borg", args...); err != nil {
		return fmt.Errorf("borg init failed: %w", err)
	}

	s.logger.Info().Msg("repository init finished")
	return nil
}

// Create writes a new archive named after the current date.
func (s *Impl) Create(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase, settings models.BackupSettings) error {
	archive := s.now().Format("2006-01-02")

	s.logger.Info().
		Str("repository", repo.Target()).
		Str("archive", archive).
		Strs("paths", settings.Paths).
		Msg("starting backup")

	args := commandArgs(repo, "create", "--stats", "--compression", repo.Compression)

	for _, pattern := range settings.Excludes {
		args = append(args, "--exclude", pattern)
	}

	args = append(args, repo.Target()+"::"+archive)

	// Each source path is handed to borg as its own argument.
	args = append(args, settings.Paths...)

	if err := s.executor.Run(ctx, s.buildEnv(sshCfg, pass), "borg", args...); err != nil {
		return fmt.Errorf("borg create failed: %w", err)
	}

	s.logger.Info().Str("archive", archive).Msg("backup finished")
	return nil
}

// Prune removes old archives according to the retention policy.
func (s *Impl) Prune(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase, policy models.RetentionPolicy) error {
	s.logger.Info().
		Int("keep_daily", policy.KeepDaily).
		Int("keep_weekly", policy.KeepWeekly).
		Int("keep_monthly", policy.KeepMonthly).
		Int("keep_yearly", policy.KeepYearly).
		Msg("starting prune")

	args := commandArgs(repo, "prune",
		"--keep-daily", strconv.Itoa(policy.KeepDaily),
		"--keep-weekly", strconv.Itoa(policy.KeepWeekly),
		"--keep-monthly", strconv.Itoa(policy.KeepMonthly),
		"--keep-yearly", strconv.Itoa(policy.KeepYearly),
	)
	args = append(args, repo.Target())

	if err := s.executor.Run(ctx, s.buildEnv(sshCfg, pass), "borg", args...); err != nil {
		return fmt.Errorf("borg prune failed: %w", err)
	}

	s.logger.Info().Msg("prune finished")
	return nil
}

// Check verifies repository and archive consistency.
func (s *Impl) Check(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase) error {
	s.logger.Info().Str("repository", repo.Target()).Msg("starting repository check")

	args := commandArgs(repo, "check")
	args = append(args, repo.Target())

	if err := s.executor.Run(ctx, s.buildEnv(sshCfg, pass), "borg", args...); err != nil {
		return fmt.Errorf("borg check failed: %w", err)
	}

	s.logger.Info().Msg("repository check finished")
	return nil
}

// List prints the archives in the repository. The listing itself is borg
// output, so the log bracket stays at debug level.
func (s *Impl) List(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase) error {
	s.logger.Debug().Str("repository", repo.Target()).Msg("listing archives")

	args := commandArgs(repo, "list")
	args = append(args, repo.Target())

	if err := s.executor.Run(ctx, s.buildEnv(sshCfg, pass), "borg", args...); err != nil {
		return fmt.Errorf("borg list failed: %w", err)
	}

	s.logger.Debug().Msg("archives listed")
	return nil
}
