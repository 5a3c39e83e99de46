// Package database opens the PostgreSQL pool backing the stop registry and
// the optimization history.
package database

import (
	"context"
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config is the DB_* environment.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int
	MinConns    int
	MaxLifetime time.Duration
}

// ConfigFromEnv reads DB_* variables. Unparseable numbers fall back to
// their defaults.
func ConfigFromEnv() Config {
	return Config{
		Host:        os.Getenv("DB_HOST"),
		Port:        envInt("DB_PORT", 5432),
		User:        envString("DB_USER", "wayforge"),
		Password:    envString("DB_PASSWORD", "localdev"),
		Database:    envString("DB_NAME", "wayforge"),
		SSLMode:     envString("DB_SSL_MODE", "disable"),
		MaxConns:    envInt("DB_MAX_OPEN_CONNS", 10),
		MinConns:    envInt("DB_MAX_IDLE_CONNS", 2),
		MaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Enabled reports whether DB_HOST is set. Without it the API keeps stops
// and history in memory.
func (c Config) Enabled() bool {
	return c.Host != ""
}

// ConnectionString renders c as a postgres:// URL.
func (c Config) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Connect opens a pool and pings it.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	//nolint:gosec // pool sizes are small config values
	poolConfig.MaxConns, poolConfig.MinConns = int32(max(cfg.MaxConns, 1)), int32(max(min(cfg.MinConns, cfg.MaxConns), 0))
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Host, err)
	}
	return pool, nil
}

//go:embed schema.sql
var schema string

// Migrate applies schema.sql. Every statement is IF NOT EXISTS.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}
