// Package app assembles the booking service from configuration and runs it.
package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/Crotoconlaptop/bqt-booking/internal/httpapi"
)

// Store backends.
const (
	BackendGorm   = "gorm"
	BackendPgx    = "pgx"
	BackendMemory = "memory"
	BackendAPI    = "api"
)

const (
	defaultDatabaseURL    = "sqlite:///tmp/bqt-booking.db"
	defaultGRPCListenAddr = ":7000"
	defaultTimeZone       = "Asia/Dubai"
	defaultAMQPQueue      = "bqt.reservation.admitted"
	defaultKafkaTopic     = "bqt.reservation.admitted"
)

// Config aggregates runtime settings.
type Config struct {
	StoreBackend   string
	DatabaseURL    string
	RemoteAPIURL   string
	GRPCListenAddr string
	TimeZone       string
	AdmitTimeout   time.Duration
	RedisURL       string
	AMQPURL        string
	AMQPQueue      string
	KafkaBrokers   []string
	KafkaTopic     string
	HTTP           httpapi.Config
}

// Validate fills defaults and rejects unusable values.
func (cfg *Config) Validate() error {
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = BackendGorm
	}
	switch cfg.StoreBackend {
	case BackendGorm:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			cfg.DatabaseURL = defaultDatabaseURL
		}
	case BackendPgx:
		if !isPostgresURL(cfg.DatabaseURL) {
			return fmt.Errorf("store backend %q requires a postgres database url", BackendPgx)
		}
	case BackendAPI:
		if strings.TrimSpace(cfg.RemoteAPIURL) == "" {
			return fmt.Errorf("store backend %q requires a remote api url", BackendAPI)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
	if strings.TrimSpace(cfg.GRPCListenAddr) == "" {
		cfg.GRPCListenAddr = defaultGRPCListenAddr
	}
	if strings.TrimSpace(cfg.TimeZone) == "" {
		cfg.TimeZone = defaultTimeZone
	}
	if _, err := time.LoadLocation(cfg.TimeZone); err != nil {
		return fmt.Errorf("time zone %q: %w", cfg.TimeZone, err)
	}
	if cfg.AdmitTimeout < 0 {
		return errors.New("admit timeout must not be negative")
	}
	if cfg.AMQPURL != "" && cfg.AMQPQueue == "" {
		cfg.AMQPQueue = defaultAMQPQueue
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		cfg.KafkaTopic = defaultKafkaTopic
	}
	return cfg.HTTP.Validate()
}

// Location returns the event time zone. Call after Validate.
func (cfg Config) Location() *time.Location {
	location, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return time.UTC
	}
	return location
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
