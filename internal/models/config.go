// Package models contains the data structures used throughout borgcron.
package models

import "strconv"

// Config holds the complete configuration for a borgcron run.
type Config struct {
	Repo           RepoConfig
	Backup         BackupSettings
	Retention      RetentionPolicy
	SSH            SSHConfig
	PassphraseFile string
	LockFile       string        // optional, serializes concurrent runs
	WOL            *WOLConfig    // nil if not configured
	Notify         *NotifyConfig // nil if not configured
	Hooks          *HooksConfig  // nil if not configured
}

// RepoConfig identifies the remote borg repository.
type RepoConfig struct {
	User        string
	Host        string
	Path        string // repository directory on the remote, defaults to the local hostname
	RemotePath  string // optional, borg binary name on the remote (e.g. "borg1")
	Encryption  string // repository encryption mode, e.g. "repokey"
	Compression string // e.g. "zlib,6"
}

// Target returns the borg repository address in user@host:path form.
func (r RepoConfig) Target() string {
	return r.User + "@" + r.Host + ":" + r.Path
}

// BackupSettings holds archive creation settings.
type BackupSettings struct {
	Paths    []string
	Excludes []string
}

// RetentionPolicy defines how many archives to keep when pruning.
type RetentionPolicy struct {
	KeepDaily   int
	KeepWeekly  int
	KeepMonthly int
	KeepYearly  int
}

// SSHConfig holds transport settings for reaching the repository host.
type SSHConfig struct {
	Port           int    // defaults to 22
	KeyPath        string // optional, private key for non-interactive auth
	KnownHostsFile string // optional, host key verification for raw SSH commands
}

// RemoteShell returns the BORG_RSH command line for non-default transport
// settings, or "" when the ambient ssh configuration suffices.
func (s SSHConfig) RemoteShell() string {
	if s.KeyPath == "" && (s.Port == 0 || s.Port == 22) {
		return ""
	}
	rsh := "ssh -oBatchMode=yes"
	if s.KeyPath != "" {
		rsh += " -i " + s.KeyPath
	}
	if s.Port != 0 && s.Port != 22 {
		rsh += " -p " + strconv.Itoa(s.Port)
	}
	return rsh
}

// HooksConfig holds commands to run around archive creation.
type HooksConfig struct {
	Before []string
	After  []string
}
