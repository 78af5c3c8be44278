package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// DefaultDatabasePath is used when database.path is unset.
const DefaultDatabasePath = "$HOME/.local/share/tally/tally.db"

// Config is the full application configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Lock      LockConfig      `mapstructure:"lock"`
}

// DatabaseConfig locates the ledger database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// ReconcileConfig tunes candidate generation and auto-accept.
type ReconcileConfig struct {
	Tolerance           string  `mapstructure:"tolerance" validate:"omitempty,numeric"`
	WindowDays          int     `mapstructure:"window_days" validate:"gte=0,lte=365"`
	MaxAggregateSize    int     `mapstructure:"max_aggregate_size" validate:"gte=0,lte=10"`
	MaxPool             int     `mapstructure:"max_pool" validate:"gte=0"`
	AutoAcceptThreshold float64 `mapstructure:"auto_accept_threshold" validate:"gte=0,lte=1"`
	AutoAccept          bool    `mapstructure:"auto_accept"`
}

// LockConfig enables cross-process locking through redis when an address is set.
type LockConfig struct {
	RedisAddress string        `mapstructure:"redis_address" validate:"omitempty,hostname_port"`
	TTL          time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

var validate = validator.New()

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	defaults := engine.DefaultConfig()
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("reconcile.tolerance", defaults.Tolerance.String())
	v.SetDefault("reconcile.window_days", defaults.WindowDays)
	v.SetDefault("reconcile.max_aggregate_size", defaults.MaxAggregateSize)
	v.SetDefault("reconcile.max_pool", defaults.MaxPool)
	v.SetDefault("reconcile.auto_accept", defaults.AutoAccept)
	v.SetDefault("reconcile.auto_accept_threshold", defaults.AutoAcceptThreshold)
	v.SetDefault("lock.ttl", 30*time.Second)
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	cfg.Database.Path = ExpandPath(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s fails %q", common.ErrInvalidConfig, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	if _, err := c.Reconcile.tolerance(); err != nil {
		return err
	}
	return nil
}

func (r ReconcileConfig) tolerance() (decimal.Decimal, error) {
	if r.Tolerance == "" {
		return decimal.Zero, nil
	}
	tol, err := decimal.NewFromString(r.Tolerance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: reconcile.tolerance %q", common.ErrInvalidConfig, r.Tolerance)
	}
	if tol.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: reconcile.tolerance must not be negative", common.ErrInvalidConfig)
	}
	return tol, nil
}

// Engine converts the reconcile section into coordinator settings.
func (c *Config) Engine() engine.Config {
	tol, _ := c.Reconcile.tolerance()
	return engine.Config{
		Tolerance:           tol,
		WindowDays:          c.Reconcile.WindowDays,
		MaxAggregateSize:    c.Reconcile.MaxAggregateSize,
		MaxPool:             c.Reconcile.MaxPool,
		AutoAcceptThreshold: c.Reconcile.AutoAcceptThreshold,
		AutoAccept:          c.Reconcile.AutoAccept,
	}
}
