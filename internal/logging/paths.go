package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the log directory under the global storage root
// (~/.mcp/search/logs). Falls back to the temp directory if the home
// directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".mcp", "search", "logs")
	}
	return filepath.Join(home, ".mcp", "search", "logs")
}

// DefaultLogPath returns the default server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}
