package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the ledger
type Config struct {
	DBPath             string
	BusyTimeout        time.Duration
	LockTimeout        time.Duration
	EvaluationInterval time.Duration
	ProgramsDir        string
	FleetCSV           []string
	Airworthiness      AirworthinessConfig
	RII                RIIConfig
	Log                LogConfig
}

// AirworthinessConfig sizes the airworthiness report cache
type AirworthinessConfig struct {
	CacheTTL  time.Duration
	CacheSize int
}

// RIIConfig controls who may sign as inspector on required inspection items
type RIIConfig struct {
	RequireInspectorRole bool
	InspectorRole        string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from config file and environment variables.
// configPath, when set, takes precedence over FLEET_LEDGER_CONFIG_PATH and
// the default search paths.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("db_path", "fleet_ledger.db")
	v.SetDefault("busy_timeout_ms", 5000)
	v.SetDefault("lock_timeout_ms", 2000)
	v.SetDefault("evaluation_interval", 300)
	v.SetDefault("programs_dir", "programs")
	v.SetDefault("fleet_csv", []string{})
	v.SetDefault("airworthiness.cache_ttl", 60)
	v.SetDefault("airworthiness.cache_size", 256)
	v.SetDefault("rii.require_inspector_role", true)
	v.SetDefault("rii.inspector_role", "inspector")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Set config file name and type
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Set config file search paths
	v.AddConfigPath("/etc/fleet_ledger")
	v.AddConfigPath(".")

	if configPath == "" {
		configPath = os.Getenv("FLEET_LEDGER_CONFIG_PATH")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Read config file (if it exists)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error occurred
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults + env vars
	}

	// Set environment variable prefix
	v.SetEnvPrefix("FLEET_LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Build config struct
	cfg := &Config{
		DBPath:             v.GetString("db_path"),
		BusyTimeout:        time.Duration(v.GetInt("busy_timeout_ms")) * time.Millisecond,
		LockTimeout:        time.Duration(v.GetInt("lock_timeout_ms")) * time.Millisecond,
		EvaluationInterval: time.Duration(v.GetInt("evaluation_interval")) * time.Second,
		ProgramsDir:        v.GetString("programs_dir"),
		FleetCSV:           v.GetStringSlice("fleet_csv"),
		Airworthiness: AirworthinessConfig{
			CacheTTL:  time.Duration(v.GetInt("airworthiness.cache_ttl")) * time.Second,
			CacheSize: v.GetInt("airworthiness.cache_size"),
		},
		RII: RIIConfig{
			RequireInspectorRole: v.GetBool("rii.require_inspector_role"),
			InspectorRole:        v.GetString("rii.inspector_role"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	// Validate configuration
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validate validates the configuration values
func validate(cfg *Config) error {
	if cfg.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}

	if cfg.BusyTimeout <= 0 {
		return fmt.Errorf("busy_timeout_ms must be greater than 0")
	}

	if cfg.LockTimeout <= 0 {
		return fmt.Errorf("lock_timeout_ms must be greater than 0")
	}

	if cfg.EvaluationInterval <= 0 {
		return fmt.Errorf("evaluation_interval must be greater than 0")
	}

	if cfg.Airworthiness.CacheTTL <= 0 {
		return fmt.Errorf("airworthiness.cache_ttl must be greater than 0")
	}

	if cfg.Airworthiness.CacheSize <= 0 {
		return fmt.Errorf("airworthiness.cache_size must be greater than 0")
	}

	if cfg.RII.RequireInspectorRole && strings.TrimSpace(cfg.RII.InspectorRole) == "" {
		return fmt.Errorf("rii.inspector_role is required when rii.require_inspector_role is set")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", cfg.Log.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[strings.ToLower(cfg.Log.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", cfg.Log.Format)
	}

	return nil
}
