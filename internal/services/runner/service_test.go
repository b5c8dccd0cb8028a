package runner

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhaussmann/borgcron/internal/models"
	"github.com/fhaussmann/borgcron/internal/secret"
)

// Mock implementations.
type mockBorgService struct {
	initFunc   func(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase) error
	createFunc func(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase, settings models.BackupSettings) error
	pruneFunc  func(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase, policy models.RetentionPolicy) error
	checkFunc  func(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase) error
	listFunc   func(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase) error
}

func (m *mockBorgService) Init(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase) error {
	if m.initFunc != nil {
		return m.initFunc(ctx, repo, sshCfg, pass)
	}
	return nil
}

func (m *mockBorgService) Create(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase, settings models.BackupSettings) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, repo, sshCfg, pass, settings)
	}
	return nil
}

func (m *mockBorgService) Prune(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase, policy models.RetentionPolicy) error {
	if m.pruneFunc != nil {
		return m.pruneFunc(ctx, repo, sshCfg, pass, policy)
	}
	return nil
}

func (m *mockBorgService) Check(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase) error {
	if m.checkFunc != nil {
		return m.checkFunc(ctx, repo, sshCfg, pass)
	}
	return nil
}

func (m *mockBorgService) List(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig, pass secret.Passphrase) error {
	if m.listFunc != nil {
		return m.listFunc(ctx, repo, sshCfg, pass)
	}
	return nil
}

type mockRemoteService struct {
	quotaFunc  func(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig) error
	removeFunc func(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig) error
}

func (m *mockRemoteService) Quota(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig) error {
	if m.quotaFunc != nil {
		return m.quotaFunc(ctx, repo, sshCfg)
	}
	return nil
}

func (m *mockRemoteService) RemoveRepository(ctx context.Context, repo models.RepoConfig, sshCfg models.SSHConfig) error {
	if m.removeFunc != nil {
		return m.removeFunc(ctx, repo, sshCfg)
	}
	return nil
}

type mockWOLService struct {
	wakeFunc func(ctx context.Context, cfg models.WOLConfig, addr string) error
}

func (m *mockWOLService) Wake(ctx context.Context, cfg models.WOLConfig, addr string) error {
	if m.wakeFunc != nil {
		return m.wakeFunc(ctx, cfg, addr)
	}
	return nil
}

type mockNotifyService struct {
	sendFunc func(cfg models.NotifyConfig, msg models.Notification) error
}

func (m *mockNotifyService) Send(cfg models.NotifyConfig, msg models.Notification) error {
	if m.sendFunc != nil {
		return m.sendFunc(cfg, msg)
	}
	return nil
}

type mockHookService struct {
	runFunc func(ctx context.Context, commands []string) error
}

func (m *mockHookService) Run(ctx context.Context, commands []string) error {
	if m.runFunc != nil {
		return m.runFunc(ctx, commands)
	}
	return nil
}

type mockLoader struct {
	loadFunc func(path string) (secret.Passphrase, error)
}

func (m *mockLoader) Load(path string) (secret.Passphrase, error) {
	if m.loadFunc != nil {
		return m.loadFunc(path)
	}
	return secret.New("test-pass"), nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func minimalConfig() models.Config {
	return models.Config{
		Repo: models.RepoConfig{
			User: "alice",
			Host: "backup.example",
			Path: "myhost",
		},
		Backup: models.BackupSettings{
			Paths: []string{"/data"},
		},
		Retention: models.RetentionPolicy{
			KeepDaily:   7,
			KeepWeekly:  4,
			KeepMonthly: 6,
			KeepYearly:  1,
		},
		SSH:            models.SSHConfig{Port: 22},
		PassphraseFile: "/etc/borgcron/passphrase",
	}
}

func TestCreate_Success(t *testing.T) {
	var capturedSettings models.BackupSettings
	borgSvc := &mockBorgService{
		createFunc: func(_ context.Context, _ models.RepoConfig, _ models.SSHConfig, _ secret.Passphrase, settings models.BackupSettings) error {
			capturedSettings = settings
			return nil
		},
	}

	runner := NewWithServices(
		testLogger(),
		borgSvc,
		&mockRemoteService{},
		&mockWOLService{},
		&mockNotifyService{},
		&mockHookService{},
		&mockLoader{},
	)

	err := runner.Create(context.Background(), minimalConfig())

	require.NoError(t, err)
	assert.Equal(t, []string{"/data"}, capturedSettings.Paths)
}

func TestCreate_PassphraseReachesBorg(t *testing.T) {
	var capturedPass secret.Passphrase
	borgSvc := &mockBorgService{
		createFunc: func(_ context.Context, _ models.RepoConfig, _ models.SSHConfig, pass secret.Passphrase, _ models.BackupSettings) error {
			capturedPass = pass
			return nil
		},
	}
	secrets := &mockLoader{
		loadFunc: func(path string) (secret.Passphrase, error) {
			assert.Equal(t, "/etc/borgcron/passphrase", path)
			return secret.New("hunter2"), nil
		},
	}

	runner := NewWithServices(
		testLogger(),
		borgSvc,
		&mockRemoteService{},
		&mockWOLService{},
		&mockNotifyService{},
		&mockHookService{},
		secrets,
	)

	err := runner.Create(context.Background(), minimalConfig())

	require.NoError(t, err)
	assert.Equal(t, "hunter2", capturedPass.Value())
}

func TestCreate_SecretFailurePreventsBackup(t *testing.T) {
	createCalled := false
	borgSvc := &mockBorgService{
		createFunc: func(_ context.Context, _ models.RepoConfig, _ models.SSHConfig, _ secret.Passphrase, _ models.BackupSettings) error {
			createCalled = true
			return nil
		},
	}
	secrets := &mockLoader{
		loadFunc: func(_ string) (secret.Passphrase, error) {
			return secret.Passphrase{}, errors.New("file too open")
		},
	}

	runner := NewWithServices(
		testLogger(),
		borgSvc,
		&mockRemoteService{},
		&mockWOLService{},
		&mockNotifyService{},
		&mockHookService{},
		secrets,
	)

	err := runner.Create(context.Background(), minimalConfig())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading passphrase")
	assert.False(t, createCalled, "backup must not run without a passphrase")
}

func TestCreate_RunsHooksAroundBackup(t *testing.T) {
	var events []string
	borgSvc := &mockBorgService{
		createFunc: func(_ context.Context, _ models.RepoConfig, _ models.SSHConfig, _ secret.Passphrase, _ models.BackupSettings) error {
			events = append(events, "create")
			return nil
		},
	}
	hookSvc := &mockHookService{
		runFunc: func(_ context.Context, commands []string) error {
			events = append(events, commands[0])
			return nil
		},
	}

	runner := NewWithServices(
		testLogger(),
		borgSvc,
		&mockRemoteService{},
		&mockWOLService{},
		&mockNotifyService{},
		hookSvc,
		&mockLoader{},
	)

	cfg := minimalConfig()
	cfg.Hooks = &models.HooksConfig{
		Before: []string{"before-cmd"},
		After:  []string{"after-cmd"},
	}

	err := runner.Create(context.Background(), cfg)

	require.NoError(t, err)
	assert.Equal(t, []string{"before-cmd", "create", "after-cmd"}, events)
}

func TestCreate_BeforeHookFailurePreventsBackup(t *testing.T) {
	createCalled := false
	borgSvc := &mockBorgService{
		createFunc: func(_ context.Context, _ models.RepoConfig, _ models.SSHConfig, _ secret.Passphrase, _ models.BackupSettings) error {
			createCalled = true
			return nil
		},
	}
	hookSvc := &mockHookService{
		runFunc: func(_ context.Context, _ []string) error {
			return errors.New("service still running")
		},
	}

	runner := NewWithServices(
		testLogger(),
		borgSvc,
		&mockRemoteService{},
		&mockWOLService{},
		&mockNotifyService{},
		hookSvc,
		&mockLoader{},
	)

	cfg := minimalConfig()
	cfg.Hooks = &models.HooksConfig{Before: []string{"stop-service"}}

	err := runner.Create(context.Background(), cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "before hook")
	assert.False(t, createCalled)
}

func TestCreate_AfterHooksSkippedOnBackupFailure(t *testing.T) {
	var hookRuns [][]string
	borgSvc := &mockBorgService{
		createFunc: func(_ context.Context, _ models.RepoConfig, _ models.SSHConfig, _ secret.Passphrase, _ models.BackupSettings) error {
			return errors.New("disk full")
		},
	}
	hookSvc := &mockHookService{
		runFunc: func(_ context.Context, commands []string) error {
			hookRuns = append(hookRuns, commands)
			return nil
		},
	}

	runner := NewWithServices(
		testLogger(),
		borgSvc,
		&mockRemoteService{},
		&mockWOLService{},
		&mockNotifyService{},
		hookSvc,
		&mockLoader{},
	)

	cfg := minimalConfig()
	cfg.Hooks = &models.HooksConfig{
		Before: []string{"before-cmd"},
		After:  []string{"after-cmd"},
	}

	err := runner.Create(context.Background(), cfg)

	require.Error(t, err)
	// Only the before hooks ran, after hooks are skipped on failure
	require.Len(t, hookRuns, 1)
	assert.Equal(t, []string{"before-cmd"}, hookRuns[0])
}

func TestCreate_WithWOL(t *testing.T) {
	var events []string
	var capturedAddr string
	borgSvc := &mockBorgService{
		createFunc: func(_ context.Context, _ models.RepoConfig, _ models.SSHConfig, _ secret.Passphrase, _ models.BackupSettings) error {
			events = append(events, "create")
			return nil
		},
	}
	wolSvc := &mockWOLService{
		wakeFunc: func(_ context.Context, _ models.WOLConfig, addr string) error {
			events = append(events, "wake")
			capturedAddr = addr
			return nil
		},
	}

	runner := NewWithServices(
		testLogger(),
		borgSvc,
		&mockRemoteService{},
		wolSvc,
		&mockNotifyService{},
		&mockHookService{},
		&mockLoader{},
	)

	cfg := minimalConfig()
	cfg.WOL = &models.WOLConfig{MACAddress: "AA:BB:CC:DD:EE:FF"}

	err := runner.Create(context.Background(), cfg)

	require.NoError(t, err)
	assert.Equal(t, []string{"wake", "create"}, events)
	assert.Equal(t, "backup.example:22", capturedAddr)
}

func TestCreate_WakeProbesConfiguredSSHPort(t *testing.T) {
	var capturedAddr string
	wolSvc := &mockWOLService{
		wakeFunc: func(_ context.Context, _ models.WOLConfig, addr string) error {
			capturedAddr = addr
			return nil
		},
	}

	runner := NewWithServices(
		testLogger(),
		&mockBorgService{},
		&mockRemoteService{},
		wolSvc,
		&mockNotifyService{},
		&mockHookService{},
		&mockLoader{},
	)

	cfg := minimalConfig()
	cfg.SSH.Port = 2222
	cfg.WOL = &models.WOLConfig{MACAddress: "AA:BB:CC:DD:EE:FF"}

	err := runner.Create(context.Background(), cfg)

	require.NoError(t, err)
	assert.Equal(t, "backup.example:2222", capturedAddr)
}

func TestCreate_WOLFailure(t *testing.T) {
	createCalled := false
	borgSvc := &mockBorgService{
		createFunc: func(_ context.Context, _ models.RepoConfig, _ models.SSHConfig, _ secret.Passphrase, _ models.BackupSettings) error {
			createCalled = true
			return nil
		},
	}
	wolSvc := &mockWOLService{
		wakeFunc: func(_ context.Context, _ models.WOLConfig, _ string) error {
			return errors.New("timeout waiting for target")
		},
	}

	runner := NewWithServices(
		testLogger(),
		borgSvc,
		&mockRemoteService{},
		wolSvc,
		&mockNotifyService{},
		&mockHookService{},
		&mockLoader{},
	)

	cfg := minimalConfig()
	cfg.WOL = &models.WOLConfig{MACAddress: "AA:BB:CC:DD:EE:FF"}

	err := runner.Create(context.Background(), cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "waking backup host")
	assert.False(t, createCalled)
}

func TestCreate_SecretFailurePreventsWake(t *testing.T) {
	wakeCalled := false
	wolSvc := &mockWOLService{
		wakeFunc: func(_ context.Context, _ models.WOLConfig, _ string) error {
			wakeCalled = true
			return nil
		},
	}
	secrets := &mockLoader{
		loadFunc: func(_ string) (secret.Passphrase, error) {
			return secret.Passphrase{}, errors.New("no such file")
		},
	}

	runner := NewWithServices(
		testLogger(),
		&mockBorgService{},
		&mockRemoteService{},
		wolSvc,
		&mockNotifyService{},
		&mockHookService{},
		secrets,
	)

	cfg := minimalConfig()
	cfg.WOL = &models.WOLConfig{MACAddress: "AA:BB:CC:DD:EE:FF"}

	err := runner.Create(context.Background(), cfg)

	require.Error(t, err)
	assert.False(t, wakeCalled, "host must not be woken without a readable passphrase")
}

func TestInit_CallsBorg(t *testing.T) {
	var capturedRepo models.RepoConfig
	borgSvc := &mockBorgService{
		initFunc: func(_ context.Context, repo models.RepoConfig, _ models.SSHConfig, _ secret.Passphrase) error {
			capturedRepo = repo
			return nil
		},
	}

	runner := NewWithServices(
		testLogger(),
		borgSvc,
		&mockRemoteService{},
		&mockWOLService{},
		&mockNotifyService{},
		&mockHookService{},
		&mockLoader{},
	)

	err := runner.Init(context.Background(), minimalConfig())

	require.NoError(t, err)
	assert.Equal(t, "backup.example", capturedRepo.Host)
}

func TestPrune_PassesRetention(t *testing.T) {
	var capturedPolicy models.RetentionPolicy
	borgSvc := &mockBorgService{
		pruneFunc: func(_ context.Context, _ models.RepoConfig, _ models.SSHConfig, _ secret.Passphrase, policy models.RetentionPolicy) error {
			capturedPolicy = policy
			return nil
		},
	}

	runner := NewWithServices(
		testLogger(),
		borgSvc,
		&mockRemoteService{},
		&mockWOLService{},
		&mockNotifyService{},
		&mockHookService{},
		&mockLoader{},
	)

	err := runner.Prune(context.Background(), minimalConfig())

	require.NoError(t, err)
	assert.Equal(t, models.RetentionPolicy{KeepDaily: 7, KeepWeekly: 4, KeepMonthly: 6, KeepYearly: 1}, capturedPolicy)
}

func TestQuota_SkipsPassphrase(t *testing.T) {
	loaderCalled := false
	secrets := &mockLoader{
		loadFunc: func(_ string) (secret.Passphrase, error) {
			loaderCalled = true
			return secret.New("test-pass"), nil
		},
	}
	quotaCalled := false
	remoteSvc := &mockRemoteService{
		quotaFunc: func(_ context.Context, _ models.RepoConfig, _ models.SSHConfig) error {
			quotaCalled = true
			return nil
		},
	}

	runner := NewWithServices(
		testLogger(),
		&mockBorgService{},
		remoteSvc,
		&mockWOLService{},
		&mockNotifyService{},
		&mockHookService{},
		secrets,
	)

	err := runner.Quota(context.Background(), minimalConfig())

	require.NoError(t, err)
	assert.True(t, quotaCalled)
	assert.False(t, loaderCalled, "quota talks to the server, not to borg")
}

func TestDelete_SkipsPassphrase(t *testing.T) {
	loaderCalled := false
	secrets := &mockLoader{
		loadFunc: func(_ string) (secret.Passphrase, error) {
			loaderCalled = true
			return secret.New("test-pass"), nil
		},
	}
	var capturedRepo models.RepoConfig
	remoteSvc := &mockRemoteService{
		removeFunc: func(_ context.Context, repo models.RepoConfig, _ models.SSHConfig) error {
			capturedRepo = repo
			return nil
		},
	}

	runner := NewWithServices(
		testLogger(),
		&mockBorgService{},
		remoteSvc,
		&mockWOLService{},
		&mockNotifyService{},
		&mockHookService{},
		secrets,
	)

	err := runner.Delete(context.Background(), minimalConfig())

	require.NoError(t, err)
	assert.Equal(t, "myhost", capturedRepo.Path)
	assert.False(t, loaderCalled)
}

func TestRun_NotificationOnSuccess(t *testing.T) {
	var capturedMsg models.Notification
	notifySvc := &mockNotifyService{
		sendFunc: func(_ models.NotifyConfig, msg models.Notification) error {
			capturedMsg = msg
			return nil
		},
	}

	runner := NewWithServices(
		testLogger(),
		&mockBorgService{},
		&mockRemoteService{},
		&mockWOLService{},
		notifySvc,
		&mockHookService{},
		&mockLoader{},
	)

	cfg := minimalConfig()
	cfg.Notify = &models.NotifyConfig{URLs: []string{"gotify://gotify.example/token"}, Level: "info"}

	err := runner.Create(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, capturedMsg.Success)
	assert.Equal(t, "create", capturedMsg.Operation)
	assert.Equal(t, "alice@backup.example:myhost", capturedMsg.Repository)
	assert.Empty(t, capturedMsg.ErrorMessage)
}

func TestRun_NotificationOnFailure(t *testing.T) {
	var capturedMsg models.Notification
	notifySvc := &mockNotifyService{
		sendFunc: func(_ models.NotifyConfig, msg models.Notification) error {
			capturedMsg = msg
			return nil
		},
	}
	borgSvc := &mockBorgService{
		createFunc: func(_ context.Context, _ models.RepoConfig, _ models.SSHConfig, _ secret.Passphrase, _ models.BackupSettings) error {
			return errors.New("disk full")
		},
	}

	runner := NewWithServices(
		testLogger(),
		borgSvc,
		&mockRemoteService{},
		&mockWOLService{},
		notifySvc,
		&mockHookService{},
		&mockLoader{},
	)

	cfg := minimalConfig()
	cfg.Notify = &models.NotifyConfig{URLs: []string{"gotify://gotify.example/token"}}

	err := runner.Create(context.Background(), cfg)

	require.Error(t, err)
	assert.False(t, capturedMsg.Success)
	assert.Contains(t, capturedMsg.ErrorMessage, "disk full")
}

func TestRun_NotificationFailureNotPropagated(t *testing.T) {
	notifySvc := &mockNotifyService{
		sendFunc: func(_ models.NotifyConfig, _ models.Notification) error {
			return errors.New("gotify unreachable")
		},
	}

	runner := NewWithServices(
		testLogger(),
		&mockBorgService{},
		&mockRemoteService{},
		&mockWOLService{},
		notifySvc,
		&mockHookService{},
		&mockLoader{},
	)

	cfg := minimalConfig()
	cfg.Notify = &models.NotifyConfig{URLs: []string{"gotify://gotify.example/token"}}

	// A broken notification channel must not fail the backup itself
	assert.NoError(t, runner.Create(context.Background(), cfg))
}

func TestRun_NoNotificationWithoutConfig(t *testing.T) {
	sendCalled := false
	notifySvc := &mockNotifyService{
		sendFunc: func(_ models.NotifyConfig, _ models.Notification) error {
			sendCalled = true
			return nil
		},
	}

	runner := NewWithServices(
		testLogger(),
		&mockBorgService{},
		&mockRemoteService{},
		&mockWOLService{},
		notifySvc,
		&mockHookService{},
		&mockLoader{},
	)

	err := runner.Create(context.Background(), minimalConfig())

	require.NoError(t, err)
	assert.False(t, sendCalled)
}

func TestRun_LockHeldByAnotherInstance(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "borgcron.lock")

	other := flock.New(lockPath)
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = other.Unlock() }()

	createCalled := false
	borgSvc := &mockBorgService{
		createFunc: func(_ context.Context, _ models.RepoConfig, _ models.SSHConfig, _ secret.Passphrase, _ models.BackupSettings) error {
			createCalled = true
			return nil
		},
	}

	runner := NewWithServices(
		testLogger(),
		borgSvc,
		&mockRemoteService{},
		&mockWOLService{},
		&mockNotifyService{},
		&mockHookService{},
		&mockLoader{},
	)

	cfg := minimalConfig()
	cfg.LockFile = lockPath

	err = runner.Create(context.Background(), cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "holds the lock")
	assert.False(t, createCalled)
}

func TestRun_LockReleasedAfterRun(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "borgcron.lock")

	runner := NewWithServices(
		testLogger(),
		&mockBorgService{},
		&mockRemoteService{},
		&mockWOLService{},
		&mockNotifyService{},
		&mockHookService{},
		&mockLoader{},
	)

	cfg := minimalConfig()
	cfg.LockFile = lockPath

	require.NoError(t, runner.Create(context.Background(), cfg))
	require.NoError(t, runner.Prune(context.Background(), cfg))
}
