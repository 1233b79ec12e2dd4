package autohands

import (
	"os"

	"github.com/BurntSushi/toml"
)

// LoadRunLoopConfig reads config: defaults, then a TOML file if one
// exists at path. A missing file is not an error — the defaults serve a
// zero-config deployment.
func LoadRunLoopConfig(path string) (RunLoopConfig, error) {
	cfg := DefaultRunLoopConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
