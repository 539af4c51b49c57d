// Package persist saves the instance manager's live instance set back to
// disk, in either of two modes grounded on realm's PersistenceManager
// (src/api.rs): Hybrid, which preserves the rest of an existing config file
// and only replaces the instances section, and SelfManaged, which owns a
// dedicated file containing only the minimal sections needed to restore
// instances on restart.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/sync/singleflight"

	"github.com/relaymesh/grelay/internal/config"
)

type Format int

const (
	FormatJSON Format = iota
	FormatTOML
)

// FormatFromPath infers the persisted format from a file extension, falling
// back to JSON when the extension doesn't name a recognised format.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatJSON
}

type Mode int

const (
	ModeHybrid Mode = iota
	ModeSelfManaged
)

// Manager persists the instance list to disk. Concurrent saves triggered by
// rapid-fire lifecycle operations (create/start/stop in quick succession)
// are collapsed into a single write via singleflight, matching the effect of
// the original's write_lock without serialising callers behind a mutex.
type Manager struct {
	mode         Mode
	configFile   string
	storagePath  string
	format       Format
	globalConfig *config.Config
	group        singleflight.Group
}

func NewHybrid(configFile string, format Format, globalConfig *config.Config) *Manager {
	return &Manager{mode: ModeHybrid, configFile: configFile, format: format, globalConfig: globalConfig}
}

func NewSelfManaged(storagePath string, format Format, globalConfig *config.Config) *Manager {
	return &Manager{mode: ModeSelfManaged, storagePath: storagePath, format: format, globalConfig: globalConfig}
}

// Save writes instances to disk, deduplicating concurrent calls.
func (m *Manager) Save(instances []config.InstanceConf) error {
	_, err, _ := m.group.Do("save", func() (interface{}, error) {
		switch m.mode {
		case ModeHybrid:
			return nil, m.saveHybrid(instances)
		default:
			return nil, m.saveSelfManaged(instances)
		}
	})
	return err
}

func (m *Manager) saveHybrid(instances []config.InstanceConf) error {
	cfg := m.globalConfig
	if existing, err := loadConfigFile(m.configFile, m.format); err == nil {
		cfg = existing
	}
	cfg.Instances = instances
	return writeConfigFile(m.configFile, m.format, cfg)
}

func (m *Manager) saveSelfManaged(instances []config.InstanceConf) error {
	cfg := &config.Config{Instances: instances}
	return writeConfigFile(m.storagePath, m.format, cfg)
}

// Load returns the persisted instance set, or an empty slice if the backing
// file doesn't exist yet (a brand new deployment).
func (m *Manager) Load() ([]config.InstanceConf, error) {
	path := m.configFile
	if m.mode == ModeSelfManaged {
		path = m.storagePath
	}
	cfg, err := loadConfigFile(path, m.format)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return cfg.Instances, nil
}

func loadConfigFile(path string, format Format) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &config.Config{}
	switch format {
	case FormatTOML:
		err = toml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func writeConfigFile(path string, format Format, cfg *config.Config) error {
	var data []byte
	var err error
	switch format {
	case FormatTOML:
		data, err = toml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	return atomicWrite(path, data)
}

// atomicWrite writes to path.tmp, fsyncs, then renames into place. If the
// rename fails because the target already exists on a platform that doesn't
// allow atomic replace, it removes the target and retries once.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if rmErr := os.Remove(path); rmErr == nil {
				return os.Rename(tmp, path)
			}
		}
		return err
	}
	return nil
}
