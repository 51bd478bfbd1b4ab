package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// LoadDotenvOnce loads environment variables from a .env file. The first call
// wins; later calls are no-ops. Existing environment variables are never
// overwritten. Set NO_DOTENV=1 to skip, or ENV_FILE to point at a specific
// file.
func LoadDotenvOnce() {
	dotenvOnce.Do(loadDotenv)
}

func loadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		_ = godotenv.Load(envFile)
		return
	}

	// Walk up from the working directory so the daemon finds the project .env
	// no matter which subdirectory it is launched from.
	dir, err := os.Getwd()
	if err != nil {
		_ = godotenv.Load(".env")
		return
	}
	for i := 0; i < 8; i++ {
		_ = godotenv.Load(filepath.Join(dir, ".env"))
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
