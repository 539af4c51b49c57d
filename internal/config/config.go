// Package config loads the relay daemon's global configuration via viper,
// following the teacher's internal/config pattern: defaults first, then a
// config file (TOML/JSON/YAML, picked up by extension), then environment
// overrides, with fsnotify-driven hot reload debounced the same way.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	// DefaultFileWriteDelay absorbs editors that emit a change event before
	// the file is fully flushed to disk.
	DefaultFileWriteDelay = 150 * time.Millisecond
	envPrefix             = "RELAY"
	envConfigFileVar       = "RELAY_CONFIG_FILE"
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// Load reads the global configuration from relay.{toml,json,yaml} in ./ or
// ./config (falling back to the path RELAY_CONFIG_FILE names only when
// neither holds one), applies RELAY_-prefixed env overrides, and invokes
// onConfigChange on every debounced hot reload.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("relay")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv(envConfigFileVar); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now

			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}
