package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// Store holds the live BotConfig. Load returns a private copy; Save
// validates, persists and swaps the config for the next tick.
type Store struct {
	mu      sync.RWMutex
	path    string
	current BotConfig
}

// NewStore creates a store seeded with initial. If path names an existing
// YAML file, its bot section overrides initial.
func NewStore(path string, initial BotConfig) (*Store, error) {
	s := &Store{path: path, current: initial.Clone()}
	if path == "" {
		return s, nil
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to stat bot config: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read bot config: %w", err)
	}

	loaded := initial.Clone()
	if err := v.UnmarshalKey("bot", &loaded); err != nil {
		return nil, fmt.Errorf("failed to decode bot config: %w", err)
	}
	loaded = loaded.withDefaults()
	if err := loaded.Validate(); err != nil {
		return nil, err
	}
	s.current = loaded
	return s, nil
}

// Load returns a copy of the current configuration.
func (s *Store) Load() BotConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Save validates cfg, writes it to disk when a path is set and makes it current.
func (s *Store) Save(cfg BotConfig) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		v := viper.New()
		v.SetConfigType("yaml")
		v.Set("bot", cfg)
		if err := v.WriteConfigAs(s.path); err != nil {
			return fmt.Errorf("failed to write bot config: %w", err)
		}
	}

	s.current = cfg.Clone()
	return nil
}

// SetSimulationMode flips the simulation flag and persists the change.
func (s *Store) SetSimulationMode(enabled bool) error {
	cfg := s.Load()
	cfg.SimulationMode = enabled
	return s.Save(cfg)
}
