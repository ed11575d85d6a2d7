// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/Shivanand-hulikatti/ticket-checkin/internal/database"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/logging"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/ticket"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// EventConfig is the descriptive event metadata embedded in payloads.
type EventConfig struct {
	Name  string `env:"NAME"  envDefault:"Event"`
	Date  string `env:"DATE"`
	Venue string `env:"VENUE"`
}

// Config is the complete service configuration.
type Config struct {
	Port            string        `env:"PORT"             envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Store        string `env:"TICKETING_STORE"         envDefault:"postgres"`
	Capacity     int    `env:"TICKETING_CAPACITY"      envDefault:"500"`
	IDPrefix     string `env:"TICKETING_ID_PREFIX"     envDefault:"AIK"`
	IDLength     int    `env:"TICKETING_ID_LENGTH"     envDefault:"6"`
	Pregenerate  int    `env:"TICKETING_PREGENERATE"   envDefault:"0"`
	AllowMint    bool   `env:"TICKETING_ALLOW_MINT"    envDefault:"true"`
	MintAttempts int    `env:"TICKETING_MINT_ATTEMPTS" envDefault:"32"`

	Event    EventConfig           `envPrefix:"EVENT_"`
	Log      logging.Config
	Database database.Config       `envPrefix:"DB_"`
	SQLite   database.SQLiteConfig `envPrefix:"TICKETING_SQLITE_"`
}

// Load reads the given .env files (default ".env"; missing files are
// ignored), then parses and validates the environment. Variables already
// set in the environment win over .env values.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("TICKETING_STORE must be one of postgres, sqlite, memory; got %q", c.Store)
	}
	if c.Capacity < 0 {
		return fmt.Errorf("TICKETING_CAPACITY must not be negative, got %d", c.Capacity)
	}
	if c.Pregenerate < 0 {
		return fmt.Errorf("TICKETING_PREGENERATE must not be negative, got %d", c.Pregenerate)
	}
	if _, err := c.Format(); err != nil {
		return err
	}
	return nil
}

// Format returns the configured identifier format.
func (c Config) Format() (ticket.Format, error) {
	f, err := ticket.NewFormat(c.IDPrefix, c.IDLength)
	if err != nil {
		return ticket.Format{}, fmt.Errorf("identifier format: %w", err)
	}
	return f, nil
}

// EventInfo returns the payload event metadata.
func (c Config) EventInfo() ticket.Event {
	return ticket.Event{Name: c.Event.Name, Date: c.Event.Date, Venue: c.Event.Venue}
}
