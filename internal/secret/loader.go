// Package secret loads the repository passphrase from its file source.
package secret

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// EnvKey is the variable the passphrase file must define.
const EnvKey = "BORG_PASSPHRASE"

// Passphrase holds the repository passphrase. It redacts itself in
// formatted output so the value cannot leak through logs or error messages.
type Passphrase struct {
	value string
}

// New wraps a raw passphrase value.
func New(value string) Passphrase {
	return Passphrase{value: value}
}

// Value returns the raw passphrase for handing to the backup tool.
func (p Passphrase) Value() string {
	return p.value
}

// IsZero reports whether no passphrase has been loaded.
func (p Passphrase) IsZero() bool {
	return p.value == ""
}

func (p Passphrase) String() string {
	return "[redacted]"
}

// Loader reads the repository passphrase from a configured source.
type Loader interface {
	Load(path string) (Passphrase, error)
}

// FileLoader reads the passphrase from a dotenv style file.
type FileLoader struct {
	logger zerolog.Logger
}

// NewFileLoader creates a passphrase loader.
func NewFileLoader(logger zerolog.Logger) *FileLoader {
	return &FileLoader{logger: logger}
}

// Load reads the file at path and returns the passphrase it defines.
// The file must define BORG_PASSPHRASE and must not be readable by group
// or others.
func (l *FileLoader) Load(path string) (Passphrase, error) {
	if path == "" {
		return Passphrase{}, fmt.Errorf("passphrase file not configured")
	}

	info, err := os.Stat(path)
	if err != nil {
		return Passphrase{}, fmt.Errorf("passphrase file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Passphrase{}, fmt.Errorf("passphrase file %s is not a regular file", path)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return Passphrase{}, fmt.Errorf("passphrase file %s has mode %04o, must not be accessible by group or others", path, perm)
	}

	vars, err := godotenv.Read(path)
	if err != nil {
		return Passphrase{}, fmt.Errorf("parsing passphrase file: %w", err)
	}

	value := vars[EnvKey]
	if value == "" {
		return Passphrase{}, fmt.Errorf("passphrase file %s does not define %s", path, EnvKey)
	}

	l.logger.Debug().Str("path", path).Msg("passphrase loaded")

	return Passphrase{value: value}, nil
}
