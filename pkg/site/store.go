// Package site loads the per-site configuration store.
//
// Each site is described by one YAML document under the sites directory
// (sites/<id>.yml). The store is loaded once per run and is read-only for
// the run's duration; pipelines receive their own Config entry and nothing
// else.
package site

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/siteflow/siteflow/pkg/logger"
)

var storeLog = logger.New("site:store")

// Config describes one site: identity, schedule, declared environment
// bindings (name → secret reference), and data paths.
type Config struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Schedule     string            `yaml:"schedule"`
	Env          map[string]string `yaml:"env"`
	Dependencies []string          `yaml:"dependencies"`
	Outputs      []string          `yaml:"outputs"`
	Kinds        []string          `yaml:"kinds"`
}

// Store holds all site configs loaded for a run, keyed by site id.
type Store struct {
	configs map[string]*Config
}

// LoadStore reads every *.yml / *.yaml descriptor in dir. Duplicate site ids
// and descriptors without an id are load errors; the store is all-or-nothing.
func LoadStore(dir string) (*Store, error) {
	storeLog.Printf("Loading site store from %s", dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sites directory: %w", err)
	}

	store := &Store{configs: make(map[string]*Config)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		cfg, err := loadConfig(path)
		if err != nil {
			return nil, err
		}
		if _, exists := store.configs[cfg.ID]; exists {
			return nil, fmt.Errorf("duplicate site id %q in %s", cfg.ID, entry.Name())
		}
		store.configs[cfg.ID] = cfg
	}

	storeLog.Printf("Loaded %d site config(s)", len(store.configs))
	return store, nil
}

func loadConfig(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse site config %s: %w", path, err)
	}

	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("site config %s has no id", path)
	}
	if cfg.Schedule == "" {
		storeLog.Printf("Site %s has no schedule; the default cron applies", cfg.ID)
	}

	return &cfg, nil
}

// Get returns the config for a site id, or an error naming the unknown site.
func (s *Store) Get(id string) (*Config, error) {
	cfg, ok := s.configs[id]
	if !ok {
		return nil, fmt.Errorf("unknown site %q", id)
	}
	return cfg, nil
}

// All returns every site config in deterministic (id-sorted) order.
func (s *Store) All() []*Config {
	ids := make([]string, 0, len(s.configs))
	for id := range s.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	configs := make([]*Config, 0, len(ids))
	for _, id := range ids {
		configs = append(configs, s.configs[id])
	}
	return configs
}

// Len returns the number of loaded sites.
func (s *Store) Len() int {
	return len(s.configs)
}
