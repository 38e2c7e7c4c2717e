//go:build prod

package database

import (
	"fmt"
	"os"
	"path/filepath"
)

const fallbackDBName = "narraweave.db"

// GetDefaultDBPath returns the database path for production mode.
// In production, iteration history is stored in the user's config directory.
func GetDefaultDBPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: user config dir unavailable (%v), using %s\n", err, fallbackDBName)
		return fallbackDBName
	}

	appDir := filepath.Join(configDir, "narraweave")

	err = os.MkdirAll(appDir, 0755)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot create %s (%v), using %s\n", appDir, err, fallbackDBName)
		return fallbackDBName
	}

	dbPath := filepath.Join(appDir, fallbackDBName)

	return dbPath
}
