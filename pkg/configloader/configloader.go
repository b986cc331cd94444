// pkg/configloader/configloader.go
package configloader

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load fills cfgPtr from defaults, an optional YAML file and environment
// variables, in that order of precedence (ENV wins).
// envPrefix is the ENV prefix, e.g. "MARKETFEED" gives MARKETFEED_AUTH_TOKEN.
func Load(path, envPrefix string, cfgPtr interface{}) error {
	v := viper.New()

	// Step 1: registered defaults
	for key, val := range getDefaults() {
		v.SetDefault(key, val)
	}

	// Step 2: environment override
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Step 3: read file (if provided)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("configloader: read config %q: %w", path, err)
		}
	}

	// Step 4: decode. AllSettings only reads keys viper knows about, so
	// every env-only key must have a registered default.
	if err := decode(v.AllSettings(), cfgPtr); err != nil {
		return fmt.Errorf("configloader: decode failed: %w", err)
	}

	// Step 5: validate if possible
	if vv, ok := cfgPtr.(interface{ Validate() error }); ok {
		if err := vv.Validate(); err != nil {
			return fmt.Errorf("configloader: validation failed: %w", err)
		}
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set.
// Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("configloader: load %q: %w", f, err)
		}
	}
	return nil
}
