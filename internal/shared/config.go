package shared

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Databases DatabasesConfig `toml:"databases"`
	Migration MigrationConfig `toml:"migration"`
	Assets    AssetsConfig    `toml:"assets"`
}

// DatabasesConfig holds the connection URLs for every database a migration
// variant may touch. The two-database variant uses Source and Leporid; the
// three-database variant additionally uses Usagipass.
type DatabasesConfig struct {
	Source    string `toml:"source"`
	Leporid   string `toml:"leporid"`
	Usagipass string `toml:"usagipass"`
}

// MigrationConfig contains knobs shared by the merge variants.
type MigrationConfig struct {
	BatchSize   int    `toml:"batch_size"`
	DryRun      bool   `toml:"dry_run"`
	AdminUserID string `toml:"admin_user_id"`
	MappingPath string `toml:"mapping_path"`
}

// AssetsConfig contains settings for the copy-img command.
type AssetsConfig struct {
	SourceDir string `toml:"source_dir"`
	TargetDir string `toml:"target_dir"`
	Overwrite bool   `toml:"overwrite"`
}

// DefaultBatchSize is used when the config and flags leave batch_size unset.
const DefaultBatchSize = 500

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Migration.BatchSize <= 0 {
		config.Migration.BatchSize = DefaultBatchSize
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	if config.Migration.BatchSize <= 0 {
		config.Migration.BatchSize = DefaultBatchSize
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
