package config

// Package config provides a reusable loader for covm configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/covm/covm/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a covm host: the VM's own
// tunables, its storage backend, identity defaults, and logging.
type Config struct {
	VM struct {
		MaxRecursionDepth int  `mapstructure:"max_recursion_depth" json:"max_recursion_depth"`
		OpcodeDebug       bool `mapstructure:"opcode_debug" json:"opcode_debug"`
		EventBufferSize   int  `mapstructure:"event_buffer_size" json:"event_buffer_size"`
	} `mapstructure:"vm" json:"vm"`

	Storage struct {
		Backend           string `mapstructure:"backend" json:"backend"` // "memory" or "file"
		DataDir           string `mapstructure:"data_dir" json:"data_dir"`
		DefaultQuotaBytes uint64 `mapstructure:"default_quota_bytes" json:"default_quota_bytes"`
	} `mapstructure:"storage" json:"storage"`

	Identity struct {
		DefaultScheme string `mapstructure:"default_scheme" json:"default_scheme"` // "ed25519" or "secp256k1"
		BootstrapRole string `mapstructure:"bootstrap_role" json:"bootstrap_role"`
	} `mapstructure:"identity" json:"identity"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // consult process environment variables on key lookup

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the COVM_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("COVM_ENV", ""))
}
