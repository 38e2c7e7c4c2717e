package utils

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// projectMarkers identify a project root when walking up from a directory.
var projectMarkers = []string{
	".narraweave",
	"premise",
	"premise.md",
	"chapter-outlines",
	"chapters.yaml",
}

// FindProjectRoot walks up from start until it finds a directory holding a
// narraweave settings directory or a premise/outline artifact.
func FindProjectRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		for _, marker := range projectMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

// LoadEnv loads <root>/.env when present. A missing file is not an error.
func LoadEnv(root string) error {
	envPath := filepath.Join(root, ".env")
	if !FileExists(envPath) {
		return nil
	}
	return godotenv.Load(envPath)
}
