package models

import (
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// LoadConfig reads, defaults and validates the YAML file at path.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer func() { _ = f.Close() }()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// SafeConfig guards the running configuration so SIGHUP and file-watch
// reloads can swap it while scrapes read it.
type SafeConfig struct {
	mu sync.RWMutex
	C  *Config
}

// NewSafeConfig wraps cfg. The caller must not modify cfg afterwards.
func NewSafeConfig(cfg *Config) *SafeConfig {
	return &SafeConfig{C: cfg}
}

// Get returns the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.C
}

// ReloadConfig loads configPath and swaps it in. An invalid file leaves the
// running configuration untouched.
//
// commcellChanged is true when the web-service URL or auth token changed, in
// which case callers rebuild the transport and drop every cached name map.
func (sc *SafeConfig) ReloadConfig(configPath string) (commcellChanged bool, err error) {
	newCfg, err := LoadConfig(configPath)
	if err != nil {
		return false, err
	}

	sc.mu.Lock()
	old := sc.C
	sc.C = newCfg
	sc.mu.Unlock()

	commcellChanged = old == nil ||
		old.Commcell.WebServiceURL != newCfg.Commcell.WebServiceURL ||
		old.Commcell.AuthToken != newCfg.Commcell.AuthToken

	log.Info("Configuration reloaded successfully")
	if commcellChanged {
		log.Info("Commcell connection changed, cached name maps will be dropped")
	}
	return commcellChanged, nil
}
