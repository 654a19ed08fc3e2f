package cli

import (
	"os"
	"strings"

	"github.com/calgate/calgate/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from the --data-dir flag,
// CALGATE_DATA_DIR env var, or ~/.calgate as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("CALGATE_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.calgate"
}

// openStore opens the SQLite store in the resolved data directory.
func openStore() (*store.Store, error) {
	return store.New(resolveDataDir())
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
