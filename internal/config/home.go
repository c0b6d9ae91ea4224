package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDirName is the per-user state directory created under $HOME.
const DataDirName = ".umd"

// GetDataDir returns the umd data directory, creating it if needed.
// Priority order:
//  1. UMD_HOME environment variable (if set)
//  2. ~/.umd
func GetDataDir() (string, error) {
	if home := os.Getenv("UMD_HOME"); home != "" {
		if err := os.MkdirAll(home, 0o755); err != nil {
			return "", fmt.Errorf("create data directory: %w", err)
		}
		return home, nil
	}

	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	dataDir := filepath.Join(userHome, DataDirName)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}

	return dataDir, nil
}
