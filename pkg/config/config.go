// Package config defines the tool's declarative configuration: global
// Glacier settings, the ledger location, and the ordered list of root paths
// with their per-root upload policies.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"

	"github.com/tkrennwa/glacier-backup/pkg/buildinfo"
	"github.com/tkrennwa/glacier-backup/pkg/plog"
	"github.com/tkrennwa/glacier-backup/pkg/util"
)

// ConfigFileName is the default name of the configuration file.
const ConfigFileName = "config.json"

// configDirName is the per-user directory under ~/.config holding the config
// file and, by default, the ledger database.
const configDirName = "glacier-backup"

// ErrInvalid is wrapped by every validation failure. Configuration errors
// are the only process-fatal error class; they abort before any resolution.
var ErrInvalid = errors.New("invalid configuration")

// RootPolicyConfig is the on-disk form of one root path's upload policy.
type RootPolicyConfig struct {
	Path string `json:"path"`
	// UploadSingleDir uploads the root itself if it is a directory, instead
	// of any of its children.
	UploadSingleDir bool `json:"uploadSingleDir"`
	// UploadDirs uploads each direct child directory of the root. Not recursive.
	UploadDirs bool `json:"uploadDirs"`
	// UploadFiles uploads each direct child file of the root.
	UploadFiles bool `json:"uploadFiles"`
	// UploadIfChanged re-uploads a path when it was modified since its last
	// upload. The default behavior is to upload each path exactly once.
	UploadIfChanged bool `json:"uploadIfChanged"`
	// ExcludePrefix drops candidates whose base name starts with this prefix.
	ExcludePrefix string `json:"excludePrefix"`
}

// GlacierConfig holds the settings for the remote vault.
type GlacierConfig struct {
	// Vault is the Glacier vault name. Required.
	Vault string `json:"vault"`
	// AccountID is the vault owner's account. "-" means the caller's own
	// account. Required (the default config presets "-").
	AccountID string `json:"accountId"`
	// Region overrides the SDK's resolved region when set.
	Region string `json:"region,omitempty"`
}

// UploadPerformanceConfig tunes the multipart uploader.
type UploadPerformanceConfig struct {
	// PartSizeMB is the multipart part size in MiB. Glacier requires a
	// power of two between 1 and 4096.
	PartSizeMB int `json:"partSizeMB"`
	// ConcurrentParts is the number of part upload workers.
	ConcurrentParts int `json:"concurrentParts"`
}

// RuntimeConfig holds per-invocation settings that never come from the file.
type RuntimeConfig struct {
	DryRun bool
	Quiet  bool
}

type Config struct {
	Version    string                  `json:"version"`
	LogLevel   string                  `json:"logLevel"`
	Glacier    GlacierConfig           `json:"glacier"`
	LedgerPath string                  `json:"ledgerPath"`
	PackFormat string                  `json:"packFormat"`
	Upload     UploadPerformanceConfig `json:"upload"`
	Roots      []RootPolicyConfig      `json:"roots"`
	Runtime    RuntimeConfig           `json:"-"` // Never added to config file
}

// NewDefault creates and returns a Config with sensible default values.
// Vault is intentionally empty to force user configuration.
func NewDefault() Config {
	return Config{
		Version:  buildinfo.Version,
		LogLevel: "info",
		Glacier: GlacierConfig{
			Vault:     "", // Intentionally empty to force user configuration.
			AccountID: "-",
		},
		LedgerPath: "", // Derived from the vault name on first validation.
		PackFormat: "tar",
		Upload: UploadPerformanceConfig{
			PartSizeMB:      4,
			ConcurrentParts: 5,
		},
		Roots: []RootPolicyConfig{},
	}
}

// DefaultPath returns the default configuration file location,
// ~/.config/glacier-backup/config.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}
	return filepath.Join(home, ".config", configDirName, ConfigFileName), nil
}

// Load reads the configuration file at path. A missing file yields the
// default configuration; a malformed file is a configuration error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			plog.Debug("No config file found, using defaults", "path", path)
			return NewDefault(), nil
		}
		return Config{}, fmt.Errorf("%w: could not read %s: %v", ErrInvalid, path, err)
	}

	cfg := NewDefault()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: could not parse %s: %v", ErrInvalid, path, err)
	}
	return cfg, nil
}

// Save writes the configuration as indented JSON to path, creating parent
// directories as needed.
func (c Config) Save(path string) error {
	if err := util.EnsureParent(path); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("could not write config file %s: %w", path, err)
	}
	return nil
}

// MergeWithFlags overrides cfg with the values of explicitly set flags and
// returns the final run config.
func MergeWithFlags(cfg Config, flagMap map[string]interface{}) Config {
	if v, ok := flagMap["vault"].(string); ok {
		cfg.Glacier.Vault = v
	}
	if v, ok := flagMap["account"].(string); ok {
		cfg.Glacier.AccountID = v
	}
	if v, ok := flagMap["region"].(string); ok {
		cfg.Glacier.Region = v
	}
	if v, ok := flagMap["ledger"].(string); ok {
		cfg.LedgerPath = v
	}
	if v, ok := flagMap["log-level"].(string); ok {
		cfg.LogLevel = v
	}
	if v, ok := flagMap["pack-format"].(string); ok {
		cfg.PackFormat = v
	}
	if v, ok := flagMap["dry-run"].(bool); ok {
		cfg.Runtime.DryRun = v
	}
	if v, ok := flagMap["quiet"].(bool); ok {
		cfg.Runtime.Quiet = v
	}
	if v, ok := flagMap["paths"].([]string); ok && len(v) > 0 {
		// Paths given on the command line replace the configured roots; each
		// is treated as the object to be uploaded, whether file or dir.
		roots := make([]RootPolicyConfig, 0, len(v))
		for _, p := range v {
			roots = append(roots, RootPolicyConfig{Path: p, UploadSingleDir: true})
		}
		cfg.Roots = roots
	}
	return cfg
}

// Validate checks the configuration and fills derived defaults. Any error it
// returns wraps ErrInvalid and must abort the run before resolution starts.
func (c *Config) Validate() error {
	if c.Glacier.Vault == "" {
		return fmt.Errorf("%w: glacier vault name is required", ErrInvalid)
	}
	if c.Glacier.AccountID == "" {
		return fmt.Errorf("%w: glacier account id is required (use '-' for the caller's account)", ErrInvalid)
	}

	if c.LedgerPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("%w: cannot derive default ledger path: %v", ErrInvalid, err)
		}
		c.LedgerPath = filepath.Join(home, ".config", configDirName,
			fmt.Sprintf("glacier.%s.sqlite3", c.Glacier.Vault))
	}
	expanded, err := util.ExpandPath(c.LedgerPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	c.LedgerPath = expanded

	p := c.Upload.PartSizeMB
	if p < 1 || p > 4096 || bits.OnesCount(uint(p)) != 1 {
		return fmt.Errorf("%w: upload part size must be a power of two between 1 and 4096 MiB, got %d", ErrInvalid, p)
	}
	if c.Upload.ConcurrentParts < 1 {
		return fmt.Errorf("%w: concurrentParts must be at least 1, got %d", ErrInvalid, c.Upload.ConcurrentParts)
	}

	for i, root := range c.Roots {
		if root.Path == "" {
			return fmt.Errorf("%w: root #%d has an empty path", ErrInvalid, i+1)
		}
	}

	return nil
}

// LogSummary logs the effective configuration of this run.
func (c Config) LogSummary() {
	plog.Info("Configuration",
		"vault", c.Glacier.Vault,
		"account", c.Glacier.AccountID,
		"ledger", c.LedgerPath,
		"packFormat", c.PackFormat,
		"roots", len(c.Roots),
		"dryRun", c.Runtime.DryRun,
	)
}
