package buildCFG

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"
)

// Source is the subset of the wbf config the builders read.
type Source interface {
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	GetStringSlice(key string) []string
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type ServerConfig struct {
	Port string
	Mode string
}

type StorageConfig struct {
	Driver             string
	MigrationsDir      string
	DropOnShutdown     bool
	StatsRefreshPeriod time.Duration
}

type RabbitConfig struct {
	Enabled  bool
	Url      string
	Exchange string
	Queue    string
}

type AuthConfig struct {
	JWTSecret string
}

func BuildServerConfig(cfg Source, log *zerolog.Logger) ServerConfig {
	sc := ServerConfig{
		Port: cfg.GetString("server.port"),
		Mode: cfg.GetString("server.mode"),
	}
	if sc.Port == "" {
		sc.Port = "8080"
		log.Warn().Msg("server.port not set, using 8080")
	}
	if sc.Mode == "" {
		sc.Mode = "release"
	}
	return sc
}

func BuildStorageConfig(cfg Source, log *zerolog.Logger) (StorageConfig, error) {
	sc := StorageConfig{
		Driver:             cfg.GetString("storage.driver"),
		MigrationsDir:      cfg.GetString("database.migrations_dir"),
		DropOnShutdown:     cfg.GetBool("database.drop_on_shutdown"),
		StatsRefreshPeriod: cfg.GetDuration("database.stats_refresh_period"),
	}
	if sc.Driver == "" {
		sc.Driver = DriverPostgres
	}
	if sc.Driver != DriverPostgres && sc.Driver != DriverMemory {
		return sc, fmt.Errorf("unknown storage.driver %q", sc.Driver)
	}
	if sc.MigrationsDir == "" {
		sc.MigrationsDir = "migrations/postgres"
	}
	if sc.StatsRefreshPeriod <= 0 {
		sc.StatsRefreshPeriod = 15 * time.Second
	}
	log.Info().Str("driver", sc.Driver).Msg("storage configured")
	return sc, nil
}

func BuildDBConfig(cfg Source, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	masterDSN := cfg.GetString("database.master_dsn")
	if masterDSN == "" {
		return "", nil, nil, errors.New("database.master_dsn is required")
	}
	slaveDSNs := cfg.GetStringSlice("database.slave_dsns")

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.GetInt("database.max_open_conns"),
		MaxIdleConns:    cfg.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: cfg.GetDuration("database.conn_max_lifetime"),
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 25
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = opts.MaxOpenConns
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}

	log.Info().Int("slaves", len(slaveDSNs)).Int("max_open_conns", opts.MaxOpenConns).Msg("database configured")
	return masterDSN, slaveDSNs, opts, nil
}

func BuildRabbitConfig(cfg Source, log *zerolog.Logger) (RabbitConfig, error) {
	rc := RabbitConfig{
		Enabled:  cfg.GetBool("rabbit.enabled"),
		Url:      cfg.GetString("rabbit.url"),
		Exchange: cfg.GetString("rabbit.exchange"),
		Queue:    cfg.GetString("rabbit.queue"),
	}
	if !rc.Enabled {
		log.Info().Msg("RabbitMQ disabled, roster changes stay local")
		return rc, nil
	}
	if rc.Url == "" {
		return rc, errors.New("rabbit.url is required when rabbit.enabled is true")
	}
	if rc.Exchange == "" {
		rc.Exchange = "roster.changes"
	}
	if rc.Queue == "" {
		rc.Queue = "roster.observers"
	}
	return rc, nil
}

func BuildAuthConfig(cfg Source, log *zerolog.Logger) (AuthConfig, error) {
	secret := cfg.GetString("auth.jwt_secret")
	if secret == "" {
		return AuthConfig{}, errors.New("auth.jwt_secret is required")
	}
	if len(secret) < 32 {
		log.Warn().Msg("auth.jwt_secret is shorter than 32 bytes")
	}
	return AuthConfig{JWTSecret: secret}, nil
}
