package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendDuckDB = "duckdb"
	BackendDynamo = "dynamo"
)

type Settings struct {
	Host        string `mapstructure:"host"`
	Port        string `mapstructure:"port"`
	Backend     string `mapstructure:"backend"`
	DBPath      string `mapstructure:"db_path"`
	DynamoTable string `mapstructure:"dynamo_table"`

	AWSProfile string `mapstructure:"aws_profile"`
	RoleName   string `mapstructure:"role_name"`

	SoftTimeout time.Duration `mapstructure:"soft_timeout"`

	// ReconcileInterval enables the background validation pass when set.
	// Zero disables it.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ReconcileAccounts []string      `mapstructure:"reconcile_accounts"`
}

// Load reads settings from an optional config file plus SENTRY_* environment
// variables, env taking precedence.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("SENTRY")
	v.AutomaticEnv()

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", "8080")
	v.SetDefault("backend", BackendDuckDB)
	v.SetDefault("db_path", "cloud-sentry.db")
	v.SetDefault("dynamo_table", "cloud-sentry-results")
	v.SetDefault("aws_profile", "default")
	v.SetDefault("role_name", "")
	v.SetDefault("soft_timeout", 5*time.Minute)
	v.SetDefault("reconcile_interval", time.Duration(0))
	v.SetDefault("reconcile_accounts", []string{})

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	if settings.Backend != BackendDuckDB && settings.Backend != BackendDynamo {
		return nil, fmt.Errorf("unknown backend %q, expected %q or %q",
			settings.Backend, BackendDuckDB, BackendDynamo)
	}
	if settings.ReconcileInterval > 0 && len(settings.ReconcileAccounts) == 0 {
		return nil, fmt.Errorf("reconcile_interval is set but reconcile_accounts is empty")
	}
	return &settings, nil
}
