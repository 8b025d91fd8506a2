package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/openshelf/catalogd/internal/db"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// ReconcileConfig controls the background history-repair scan.
type ReconcileConfig struct {
	Interval time.Duration
}

// ExportConfig controls history exports.
type ExportConfig struct {
	Directory string
}

// Config is the full catalogd configuration.
type Config struct {
	Database  db.Config
	Server    ServerConfig
	Reconcile ReconcileConfig
	Export    ExportConfig
}

// Load reads config.yaml from configPath, with environment overrides mapped
// like CATALOGD_DATABASE_HOST.
func Load(configPath string) (Config, error) {
	cfg := Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Reconcile: ReconcileConfig{Interval: 5 * time.Minute},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("CATALOGD")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("reconcile.interval")
	v.BindEnv("export.directory")

	// Config file is optional; defaults plus env vars are enough to run.
	_ = v.ReadInConfig()

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("reconcile.interval") {
		cfg.Reconcile.Interval = v.GetDuration("reconcile.interval")
	}
	if v.IsSet("export.directory") {
		cfg.Export.Directory = v.GetString("export.directory")
	}

	return cfg, nil
}
