package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	appName   = "taskctl"
	tokenFile = "token"
)

// sessionStore keeps the bearer token between invocations.
type sessionStore struct {
	dir string
}

// defaultConfigDir follows XDG_CONFIG_HOME, then $HOME/.config.
func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return appName
	}
	return filepath.Join(home, ".config", appName)
}

func (s sessionStore) tokenPath() string {
	return filepath.Join(s.dir, tokenFile)
}

// Load returns the saved token, or "" when none is stored.
func (s sessionStore) Load() (string, error) {
	data, err := os.ReadFile(s.tokenPath())
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s sessionStore) Save(token string) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.tokenPath(), []byte(token+"\n"), 0o600)
}

// Clear removes the saved token. Clearing twice is not an error.
func (s sessionStore) Clear() error {
	err := os.Remove(s.tokenPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
