package router

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the persisted JSON document a named router config round-trips
// (§4.8): the full enabled/disabled route set, independent of whatever is
// currently installed in a live Router.
type Config struct {
	Name   string  `json:"name"`
	Routes []Route `json:"routes"`
}

// ConfigStore loads/saves named route configs as JSON files in a directory,
// the way the rest of the ecosystem persists small config documents
// (gopkg.in/yaml.v3 covers BLEEP's static config; named route sets are
// saved/loaded/renamed/deleted at runtime, so plain encoding/json round-trips
// against individual files instead).
type ConfigStore struct {
	dir string
}

// NewConfigStore returns a ConfigStore rooted at dir, creating it if absent.
func NewConfigStore(dir string) (*ConfigStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &ConfigStore{dir: dir}, nil
}

func (c *ConfigStore) pathFor(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("router: invalid config name %q", name)
	}
	return filepath.Join(c.dir, name+".json"), nil
}

// Save persists cfg under cfg.Name, overwriting any existing config of the
// same name.
func (c *ConfigStore) Save(cfg Config) error {
	p, err := c.pathFor(cfg.Name)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// Load reads a named config back.
func (c *ConfigStore) Load(name string) (Config, error) {
	p, err := c.pathFor(name)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Rename moves a config from oldName to newName.
func (c *ConfigStore) Rename(oldName, newName string) error {
	oldPath, err := c.pathFor(oldName)
	if err != nil {
		return err
	}
	newPath, err := c.pathFor(newName)
	if err != nil {
		return err
	}
	return os.Rename(oldPath, newPath)
}

// Delete removes a named config.
func (c *ConfigStore) Delete(name string) error {
	p, err := c.pathFor(name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// List returns every saved config name, without extension.
func (c *ConfigStore) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	return names, nil
}

// LoadInto installs every route from a named config into r, replacing any
// existing route of the same name.
func (r *Router) LoadInto(cfg Config) error {
	for _, rt := range cfg.Routes {
		if err := r.InstallRoute(rt); err != nil {
			return fmt.Errorf("router: install route %q: %w", rt.Name, err)
		}
	}
	return nil
}

// Snapshot captures the Router's current routes as a named Config, ready to
// hand to ConfigStore.Save.
func (r *Router) Snapshot(name string) Config {
	return Config{Name: name, Routes: r.Routes()}
}
