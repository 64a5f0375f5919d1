package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"

	apperrors "canvas-aux/internal/errors"
)

// KeyringService is the service name passwords are stored under in the
// system keyring.
const KeyringService = "canvas-aux"

// PasswordResolver acquires the DBMS password. Sources are tried in order:
// explicit value, password file, system keyring, interactive prompt.
type PasswordResolver struct {
	ReadFile     func(path string) ([]byte, error)
	KeyringGet   func(service, user string) (string, error)
	IsTerminal   func(fd int) bool
	ReadPassword func(fd int) ([]byte, error)
	Prompt       io.Writer
}

// NewPasswordResolver returns a resolver backed by the real file system,
// keyring and terminal.
func NewPasswordResolver() *PasswordResolver {
	return &PasswordResolver{
		ReadFile:     os.ReadFile,
		KeyringGet:   keyring.Get,
		IsTerminal:   term.IsTerminal,
		ReadPassword: term.ReadPassword,
		Prompt:       os.Stderr,
	}
}

// Resolve returns the password for user. explicit wins when non-empty.
func (pr *PasswordResolver) Resolve(explicit string, db DatabaseSection, user string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	var fileErr error
	if db.PasswordFile != "" {
		data, err := pr.ReadFile(expandHome(db.PasswordFile))
		if err == nil {
			if pwd := strings.TrimSpace(string(data)); pwd != "" {
				return pwd, nil
			}
			fileErr = fmt.Errorf("password file %s is empty", db.PasswordFile)
		} else {
			fileErr = err
		}
	}

	if pr.KeyringGet != nil && user != "" {
		if pwd, err := pr.KeyringGet(KeyringService, user); err == nil && pwd != "" {
			return pwd, nil
		}
	}

	fd := int(os.Stdin.Fd())
	if pr.IsTerminal != nil && pr.ReadPassword != nil && pr.IsTerminal(fd) {
		if pr.Prompt != nil {
			fmt.Fprintf(pr.Prompt, "Password for %s: ", user)
		}
		pwd, err := pr.ReadPassword(fd)
		if pr.Prompt != nil {
			fmt.Fprintln(pr.Prompt)
		}
		if err != nil {
			return "", apperrors.NewConfigurationError("cannot read password from terminal", err)
		}
		return string(pwd), nil
	}

	if fileErr == nil {
		fileErr = fmt.Errorf("no password file configured")
	}
	return "", apperrors.NewConfigurationError("cannot acquire database password", fileErr)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}
