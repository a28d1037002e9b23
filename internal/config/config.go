// Package config loads service configuration from defaults, an optional config
// file and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. CC_DATABASE_DRIVER.
const EnvPrefix = "CC"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config holds all configuration options.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Datastore DatastoreConfig `mapstructure:"datastore"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the storage backend and holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // "memory" (default) or "postgres"
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// DSN builds a libpq-compatible connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// MigrateURL builds the URL golang-migrate's pgx/v5 driver expects.
func (c DatabaseConfig) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// DatastoreConfig tunes the transaction manager.
type DatastoreConfig struct {
	BeginAttempts int `mapstructure:"begin_attempts"`
	TxRetries     int `mapstructure:"tx_retries"`
}

// CacheConfig tunes the in-process caches.
type CacheConfig struct {
	AnnouncementTTL time.Duration `mapstructure:"announcement_ttl"`
	ProfileTTL      time.Duration `mapstructure:"profile_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// NotifyConfig tunes the notification dispatcher.
type NotifyConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	From           string        `mapstructure:"from"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          DriverMemory,
			Host:            "localhost",
			Port:            "5432",
			User:            "postgres",
			Password:        "postgres",
			Name:            "conferences",
			SSLMode:         "disable",
			MaxConns:        20,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			ConnectAttempts: 5,
		},
		Datastore: DatastoreConfig{
			BeginAttempts: 3,
			TxRetries:     3,
		},
		Cache: CacheConfig{
			AnnouncementTTL: 0,
			ProfileTTL:      5 * time.Minute,
			CleanupInterval: 10 * time.Minute,
		},
		Notify: NotifyConfig{
			Workers:        2,
			QueueSize:      256,
			MaxAttempts:    5,
			InitialBackoff: 200 * time.Millisecond,
			From:           "noreply@conference-central.local",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// legacyEnv maps config keys to the plain variable names older deployments use.
var legacyEnv = map[string]string{
	"server.port":       "PORT",
	"database.host":     "DB_HOST",
	"database.port":     "DB_PORT",
	"database.user":     "DB_USER",
	"database.password": "DB_PASSWORD",
	"database.name":     "DB_NAME",
	"database.sslmode":  "DB_SSLMODE",
}

// Load reads configuration into v. file may be empty, in which case
// ./config.yaml is used when present.
func Load(v *viper.Viper, file string) (Config, error) {
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.name", d.Database.Name)
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("database.max_conns", d.Database.MaxConns)
	v.SetDefault("database.min_conns", d.Database.MinConns)
	v.SetDefault("database.max_conn_lifetime", d.Database.MaxConnLifetime)
	v.SetDefault("database.max_conn_idle_time", d.Database.MaxConnIdleTime)
	v.SetDefault("database.connect_attempts", d.Database.ConnectAttempts)
	v.SetDefault("database.migrate_on_start", d.Database.MigrateOnStart)

	v.SetDefault("datastore.begin_attempts", d.Datastore.BeginAttempts)
	v.SetDefault("datastore.tx_retries", d.Datastore.TxRetries)

	v.SetDefault("cache.announcement_ttl", d.Cache.AnnouncementTTL)
	v.SetDefault("cache.profile_ttl", d.Cache.ProfileTTL)
	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval)

	v.SetDefault("notify.workers", d.Notify.Workers)
	v.SetDefault("notify.queue_size", d.Notify.QueueSize)
	v.SetDefault("notify.max_attempts", d.Notify.MaxAttempts)
	v.SetDefault("notify.initial_backoff", d.Notify.InitialBackoff)
	v.SetDefault("notify.from", d.Notify.From)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

// Validate checks the configuration for values the service cannot run with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory, DriverPostgres:
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Datastore.BeginAttempts < 1 {
		return fmt.Errorf("datastore.begin_attempts must be at least 1")
	}
	if c.Datastore.TxRetries < 1 {
		return fmt.Errorf("datastore.tx_retries must be at least 1")
	}
	if c.Notify.Workers < 1 {
		return fmt.Errorf("notify.workers must be at least 1")
	}
	if c.Notify.MaxAttempts < 1 {
		return fmt.Errorf("notify.max_attempts must be at least 1")
	}
	if c.Notify.QueueSize < 0 {
		return fmt.Errorf("notify.queue_size cannot be negative")
	}
	return nil
}
