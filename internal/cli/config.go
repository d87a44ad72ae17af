package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// Config holds kvdrive's CLI-level settings. The engine itself
// (pkg/kvstore) takes no config file; everything here only affects how
// the CLI opens a store.
type Config struct {
	// Alignment overrides pkg/kvstore.DefaultAlignment for every store
	// this CLI opens, new or existing; an existing file is scanned and
	// appended to with this value. Zero means use the engine default.
	Alignment uint32 `json:"alignment,omitempty"`

	// Lock enables a CLI-level flock guard (pkg/fs.Locker) around
	// every subcommand that opens a store, so two kvdrive invocations against the same
	// path don't race. The engine itself treats cross-process
	// coordination as out of scope; this is purely a CLI safety net.
	Lock bool `json:"lock"`
}

// DefaultConfig returns the CLI's baseline configuration.
func DefaultConfig() Config {
	return Config{Lock: true}
}

// ConfigFileName is the default project-local config file name.
const ConfigFileName = ".kvdrive.json"

var errConfigFileRead = errors.New("cli: cannot read config file")

// LoadConfig loads the CLI config, preferring an explicit path over the
// project-local default (.kvdrive.json in workDir). A missing file at
// the default location is not an error; a missing file at an explicit
// path is.
func LoadConfig(workDir, configPath string) (Config, error) {
	cfg := DefaultConfig()

	mustExist := configPath != ""

	cfgFile := configPath
	if cfgFile == "" {
		cfgFile = filepath.Join(workDir, ConfigFileName)
	} else if !filepath.IsAbs(cfgFile) {
		cfgFile = filepath.Join(workDir, cfgFile)
	}

	data, err := os.ReadFile(cfgFile) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return cfg, nil
		}

		return Config{}, fmt.Errorf("%w: %s", errConfigFileRead, cfgFile)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("cli: invalid JSONC in %s: %w", cfgFile, err)
	}

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("cli: invalid config %s: %w", cfgFile, err)
	}

	return cfg, nil
}
