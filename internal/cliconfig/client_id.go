package cliconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ClientIDFile holds the device identity inside the data directory.
const ClientIDFile = "client_id"

// LoadClientID fills cfg.ClientID from the data directory, creating a new
// identity on first run. An explicit ClientID is kept as is.
func LoadClientID(cfg *Config) error {
	if cfg.ClientID != "" {
		return nil
	}
	id, err := readOrCreateClientID(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("client id: %w", err)
	}
	cfg.ClientID = id
	return nil
}

func readOrCreateClientID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, ClientIDFile)
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		id, perr := uuid.Parse(strings.TrimSpace(string(b)))
		if perr != nil {
			return "", fmt.Errorf("parse %s: %w", path, perr)
		}
		return id.String(), nil
	case !errors.Is(err, fs.ErrNotExist):
		return "", err
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", err
	}
	id := uuid.NewString()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return id, nil
}
