// Package remote runs raw commands on the repository host over SSH.
package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fhaussmann/borgcron/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Service defines the interface for raw remote commands.
type Service interface {
	Quota(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig) error
	RemoveRepository(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig) error
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	Run(cmd string, stdout, stderr io.Writer) error
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) Run(cmd string, stdout, stderr io.Writer) error {
	s.session.Stdout = stdout
	s.session.Stderr = stderr
	return s.session.Run(cmd)
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

// Impl implements the Service interface.
type Impl struct {
	clientFactory ClientFactory
	logger        zerolog.Logger
	stdout        io.Writer
	stderr        io.Writer
}

// New creates a new remote command service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		logger:        logger,
		stdout:        os.Stdout,
		stderr:        os.Stderr,
	}
}

// NewWithClientFactory creates a new remote command service with a custom
// client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		logger:        logger,
		stdout:        os.Stdout,
		stderr:        os.Stderr,
	}
}

func (s *Impl) buildConfig(repo models.RepoConfig, sshCfg models.SSHConfig) (*ssh.ClientConfig, error) {
	if sshCfg.KeyPath == "" {
		return nil, fmt.Errorf("ssh.key_path is required for remote commands")
	}

	key, err := os.ReadFile(sshCfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key from %s: %w", sshCfg.KeyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // verification is opt-in via known_hosts_file
	if sshCfg.KnownHostsFile != "" {
		callback, err := knownhosts.New(sshCfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts from %s: %w", sshCfg.KnownHostsFile, err)
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User: repo.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}, nil
}

// runCommand connects to the repository host and runs cmd, streaming its
// output to our stdio so it reaches the operator unmodified.
func (s *Impl) runCommand(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, cmd string) error {
	sshConfig, err := s.buildConfig(repo, sshCfg)
	if err != nil {
		return err
	}

	port := sshCfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(repo.Host, strconv.Itoa(port))

	// Dial in a goroutine so the context can cut the wait short.
	clientChan := make(chan struct {
		client SSHClient
		err    error
	}, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		clientChan <- struct {
			client SSHClient
			err    error
		}{client, err}
	}()

	var client SSHClient
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-clientChan:
		if res.err != nil {
			return fmt.Errorf("failed to connect: %w", res.err)
		}
		client = res.client
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	s.logger.Debug().Str("command", cmd).Msg("executing remote command")

	return session.Run(cmd, s.stdout, s.stderr)
}

// Quota prints the storage quota of the backup account.
func (s *Impl) Quota(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig) error {
	s.logger.Info().Str("host", repo.Host).Str("user", repo.User).Msg("starting quota check")

	if err := s.runCommand(ctx, repo, sshCfg, "quota"); err != nil {
		return fmt.Errorf("quota command failed: %w", err)
	}

	s.logger.Info().Msg("quota check finished")
	return nil
}

// RemoveRepository deletes the whole repository directory tree on the
// remote host.
func (s *Impl) RemoveRepository(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig) error {
	s.logger.Info().Str("host", repo.Host).Str("path", repo.Path).Msg("starting repository removal")

	cmd := "rm -rf " + shellQuote(repo.Path)

	if err := s.runCommand(ctx, repo, sshCfg, cmd); err != nil {
		return fmt.Errorf("repository removal failed: %w", err)
	}

	s.logger.Info().Msg("repository removal finished")
	return nil
}

// shellQuote wraps s in single quotes for the remote shell, escaping any
// embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
