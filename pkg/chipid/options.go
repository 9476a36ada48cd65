package chipid

import (
	"time"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/chipdb"
)

// Config holds the identifier configuration.
type Config struct {
	// Logger is used for logging identification steps (optional)
	Logger cart.Logger

	// DB supplies flash ids and EEPROM/FRAM tiers
	DB *chipdb.DB

	// ExchangeTimeout bounds every identification exchange and ready poll
	ExchangeTimeout time.Duration

	// HeaderTimeout bounds the card header read
	HeaderTimeout time.Duration

	// AuxQueries are tried when no save memory answers
	AuxQueries []AuxQuery
}

func defaultConfig() Config {
	return Config{
		DB:              chipdb.Default(),
		ExchangeTimeout: 50 * time.Millisecond,
		HeaderTimeout:   500 * time.Millisecond,
		AuxQueries:      DefaultAuxQueries,
	}
}

// Option is a functional option for configuring the Identifier.
type Option func(*Config)

// WithLogger sets a logger for identification steps.
func WithLogger(logger cart.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithChipDB replaces the built-in tables.
func WithChipDB(db *chipdb.DB) Option {
	return func(c *Config) {
		if db != nil {
			c.DB = db
		}
	}
}

// WithExchangeTimeout sets the per-exchange timeout.
func WithExchangeTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ExchangeTimeout = timeout
		}
	}
}

// WithHeaderTimeout sets the card header read timeout.
func WithHeaderTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.HeaderTimeout = timeout
		}
	}
}

// WithAuxQueries replaces the auxiliary peripheral query table.
func WithAuxQueries(queries []AuxQuery) Option {
	return func(c *Config) {
		c.AuxQueries = queries
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
