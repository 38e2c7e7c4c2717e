//go:build !prod

package database

// GetDefaultDBPath returns the database path for development mode.
// In dev mode, history is kept in the working directory for easy inspection.
func GetDefaultDBPath() string {
	return "narraweave.db"
}
