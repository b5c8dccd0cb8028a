// Package runner orchestrates borgcron operations.
package runner

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/fhaussmann/borgcron/internal/models"
	"github.com/fhaussmann/borgcron/internal/secret"
	"github.com/fhaussmann/borgcron/internal/services/borg"
	"github.com/fhaussmann/borgcron/internal/services/hook"
	"github.com/fhaussmann/borgcron/internal/services/notify"
	"github.com/fhaussmann/borgcron/internal/services/remote"
	"github.com/fhaussmann/borgcron/internal/services/wol"
)

// Service defines the interface for running borgcron operations.
type Service interface {
	Init(ctx context.Context, cfg models.Config) error
	Create(ctx context.Context, cfg models.Config) error
	Prune(ctx context.Context, cfg models.Config) error
	Check(ctx context.Context, cfg models.Config) error
	List(ctx context.Context, cfg models.Config) error
	Quota(ctx context.Context, cfg models.Config) error
	Delete(ctx context.Context, cfg models.Config) error
}

// Impl implements the runner Service interface.
type Impl struct {
	borgSvc   borg.Service
	remoteSvc remote.Service
	wolSvc    wol.Service
	notifySvc notify.Service
	hookSvc   hook.Service
	secrets   secret.Loader
	logger    zerolog.Logger
}

// New creates a new runner service with the default service implementations.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		borgSvc:   borg.New(logger),
		remoteSvc: remote.New(logger),
		wolSvc:    wol.New(logger),
		notifySvc: notify.New(logger),
		hookSvc:   hook.New(logger),
		secrets:   secret.NewFileLoader(logger),
		logger:    logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	borgSvc borg.Service,
	remoteSvc remote.Service,
	wolSvc wol.Service,
	notifySvc notify.Service,
	hookSvc hook.Service,
	secrets secret.Loader,
) *Impl {
	return &Impl{
		borgSvc:   borgSvc,
		remoteSvc: remoteSvc,
		wolSvc:    wolSvc,
		notifySvc: notifySvc,
		hookSvc:   hookSvc,
		secrets:   secrets,
		logger:    logger,
	}
}

// Init creates the remote repository.
func (s *Impl) Init(ctx context.Context, cfg models.Config) error {
	return s.run(ctx, cfg, "init", true, func(ctx context.Context, pass secret.Passphrase) error {
		return s.borgSvc.Init(ctx, cfg.Repo, cfg.SSH, pass)
	})
}

// Create runs a backup, wrapped in the configured hook commands. After hooks
// only run when the backup itself succeeded.
func (s *Impl) Create(ctx context.Context, cfg models.Config) error {
	return s.run(ctx, cfg, "create", true, func(ctx context.Context, pass secret.Passphrase) error {
		if cfg.Hooks != nil {
			if err := s.hookSvc.Run(ctx, cfg.Hooks.Before); err != nil {
				return fmt.Errorf("before hook: %w", err)
			}
		}

		if err := s.borgSvc.Create(ctx, cfg.Repo, cfg.SSH, pass, cfg.Backup); err != nil {
			return err
		}

		if cfg.Hooks != nil {
			if err := s.hookSvc.Run(ctx, cfg.Hooks.After); err != nil {
				return fmt.Errorf("after hook: %w", err)
			}
		}
		return nil
	})
}

// Prune applies the retention policy to the repository.
func (s *Impl) Prune(ctx context.Context, cfg models.Config) error {
	return s.run(ctx, cfg, "prune", true, func(ctx context.Context, pass secret.Passphrase) error {
		return s.borgSvc.Prune(ctx, cfg.Repo, cfg.SSH, pass, cfg.Retention)
	})
}

// Check verifies repository consistency.
func (s *Impl) Check(ctx context.Context, cfg models.Config) error {
	return s.run(ctx, cfg, "check", true, func(ctx context.Context, pass secret.Passphrase) error {
		return s.borgSvc.Check(ctx, cfg.Repo, cfg.SSH, pass)
	})
}

// List prints the archives in the repository.
func (s *Impl) List(ctx context.Context, cfg models.Config) error {
	return s.run(ctx, cfg, "list", true, func(ctx context.Context, pass secret.Passphrase) error {
		return s.borgSvc.List(ctx, cfg.Repo, cfg.SSH, pass)
	})
}

// Quota reports disk usage on the backup host. It talks to the server
// directly, so no passphrase is loaded.
func (s *Impl) Quota(ctx context.Context, cfg models.Config) error {
	return s.run(ctx, cfg, "quota", false, func(ctx context.Context, _ secret.Passphrase) error {
		return s.remoteSvc.Quota(ctx, cfg.Repo, cfg.SSH)
	})
}

// Delete removes the repository directory on the backup host. Confirmation
// is the caller's responsibility.
func (s *Impl) Delete(ctx context.Context, cfg models.Config) error {
	return s.run(ctx, cfg, "delete", false, func(ctx context.Context, _ secret.Passphrase) error {
		return s.remoteSvc.RemoveRepository(ctx, cfg.Repo, cfg.SSH)
	})
}

// run wraps an operation with the shared workflow: take the lock, load the
// passphrase, wake the backup host, execute, notify.
func (s *Impl) run(
	ctx context.Context,
	cfg models.Config,
	op string,
	needsSecret bool,
	fn func(ctx context.Context, pass secret.Passphrase) error,
) error {
	startTime := time.Now()

	s.logger.Info().
		Str("operation", op).
		Str("repository", cfg.Repo.Target()).
		Msg("starting operation")

	var runErr error
	defer func() {
		if cfg.Notify != nil {
			s.sendNotification(cfg, op, startTime, runErr)
		}
	}()

	runErr = s.execute(ctx, cfg, needsSecret, fn)
	if runErr != nil {
		return runErr
	}

	s.logger.Info().
		Str("operation", op).
		Dur("duration", time.Since(startTime)).
		Msg("operation completed")

	return nil
}

func (s *Impl) execute(
	ctx context.Context,
	cfg models.Config,
	needsSecret bool,
	fn func(ctx context.Context, pass secret.Passphrase) error,
) error {
	if cfg.LockFile != "" {
		// The kernel drops the lock when the process dies, so a killed run
		// never blocks the next one.
		lock := flock.New(cfg.LockFile)
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquiring lock %s: %w", cfg.LockFile, err)
		}
		if !locked {
			return fmt.Errorf("another borgcron instance holds the lock %s", cfg.LockFile)
		}
		defer func() { _ = lock.Unlock() }()
	}

	// The passphrase is read before any network activity, so a missing or
	// unreadable secret file aborts the run without waking the host.
	var pass secret.Passphrase
	if needsSecret {
		var err error
		pass, err = s.secrets.Load(cfg.PassphraseFile)
		if err != nil {
			return fmt.Errorf("loading passphrase: %w", err)
		}
	}

	if cfg.WOL != nil {
		if err := s.runWOL(ctx, cfg); err != nil {
			return err
		}
	}

	return fn(ctx, pass)
}

func (s *Impl) runWOL(ctx context.Context, cfg models.Config) error {
	port := cfg.SSH.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(cfg.Repo.Host, strconv.Itoa(port))

	if err := s.wolSvc.Wake(ctx, *cfg.WOL, addr); err != nil {
		return fmt.Errorf("waking backup host: %w", err)
	}
	return nil
}

func (s *Impl) sendNotification(cfg models.Config, op string, startTime time.Time, runErr error) {
	msg := models.Notification{
		Operation:  op,
		Repository: cfg.Repo.Target(),
		Success:    runErr == nil,
		Duration:   time.Since(startTime),
	}
	if runErr != nil {
		msg.ErrorMessage = runErr.Error()
	}

	if err := s.notifySvc.Send(*cfg.Notify, msg); err != nil {
		s.logger.Error().Err(err).Msg("failed to send notification")
	}
}
