// Package config loads the revimg configuration file.
//
// The file is JSON by default; a .yaml/.yml extension switches the codec.
// A missing file is populated with working-directory-derived defaults, so a
// bare first run in a directory of images does something sensible.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"revimg"
)

// Operations the CLI understands.
const (
	OpBuild  = "build"
	OpUpdate = "update"
	OpSearch = "search"
)

// DefaultFile is the config file name used when none is given.
const DefaultFile = "params.json"

// Config holds every recognized option. It is constructed once at startup
// and passed by reference; nothing here is process-global.
type Config struct {
	MetadataDir       string   `json:"metadata_dir" yaml:"metadata_dir"`
	IndexDir          string   `json:"index_dir" yaml:"index_dir"`
	SourceDirectories []string `json:"source_directories" yaml:"source_directories"`
	InputDirectory    string   `json:"input_directory" yaml:"input_directory"`
	Operation         string   `json:"operation" yaml:"operation"`
	HashMethod        string   `json:"hash_method" yaml:"hash_method"`
	HashSize          int      `json:"hash_size" yaml:"hash_size"`
	DistanceMethod    string   `json:"distance_method" yaml:"distance_method"`
	DistanceThreshold int      `json:"distance_threshold" yaml:"distance_threshold"`

	// Pointer so an omitted key defaults to true.
	DeleteAbsentOnSync *bool `json:"delete_absent_on_sync" yaml:"delete_absent_on_sync"`
}

// DeleteAbsent reports whether sync purges records for vanished files.
// Defaults to true when not set.
func (c *Config) DeleteAbsent() bool {
	if c.DeleteAbsentOnSync == nil {
		return true
	}
	return *c.DeleteAbsentOnSync
}

// Default returns the working-directory-derived defaults.
func Default() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", revimg.ErrConfig, err)
	}
	return &Config{
		MetadataDir:       cwd,
		IndexDir:          cwd,
		SourceDirectories: []string{cwd},
		InputDirectory:    filepath.Join(cwd, "input"),
		Operation:         OpUpdate,
		HashMethod:        "dhash",
		HashSize:          8,
		DistanceMethod:    "hamming",
		DistanceThreshold: 1,
	}, nil
}

// Load reads the config at path. When the file does not exist, defaults are
// written there and returned, so the first run leaves an editable file
// behind. The result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg, derr := Default()
		if derr != nil {
			return nil, derr
		}
		if werr := write(path, cfg); werr != nil {
			return nil, fmt.Errorf("%w: write default config: %v", revimg.ErrConfig, werr)
		}
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", revimg.ErrConfig, path, err)
	}

	cfg := &Config{}
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", revimg.ErrConfig, path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks required fields. Failures are fatal before any store is
// touched.
func (c *Config) Validate() error {
	switch c.Operation {
	case OpBuild, OpUpdate, OpSearch:
	default:
		return fmt.Errorf("%w: operation must be %s, %s or %s, got %q",
			revimg.ErrConfig, OpBuild, OpUpdate, OpSearch, c.Operation)
	}
	if c.HashSize <= 0 {
		return fmt.Errorf("%w: hash_size must be positive, got %d", revimg.ErrConfig, c.HashSize)
	}
	if c.DistanceThreshold < 0 {
		return fmt.Errorf("%w: distance_threshold must not be negative, got %d",
			revimg.ErrConfig, c.DistanceThreshold)
	}
	if c.MetadataDir == "" {
		return fmt.Errorf("%w: metadata_dir is required", revimg.ErrConfig)
	}
	if c.IndexDir == "" {
		return fmt.Errorf("%w: index_dir is required", revimg.ErrConfig)
	}
	if c.Operation != OpSearch && len(c.SourceDirectories) == 0 {
		return fmt.Errorf("%w: source_directories is required for %s", revimg.ErrConfig, c.Operation)
	}
	if c.Operation == OpSearch && c.InputDirectory == "" {
		return fmt.Errorf("%w: input_directory is required for search", revimg.ErrConfig)
	}
	return nil
}

func write(path string, cfg *Config) error {
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
