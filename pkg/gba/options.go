package gba

import (
	"time"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/chipdb"
)

// MaxROMSize is the largest program image the slot maps.
const MaxROMSize = 32 * 1024 * 1024

// Config controls secondary-slot detection.
type Config struct {
	Logger     cart.Logger
	DB         *chipdb.DB
	Signatures []Signature
	ScanLimit  int // bytes of program image searched for markers
	ScanChunk  int // bytes per ROM read
	ROMTimeout time.Duration
}

func defaultConfig() Config {
	return Config{
		DB:         chipdb.Default(),
		Signatures: DefaultSignatures,
		ScanLimit:  MaxROMSize,
		ScanChunk:  64 * 1024,
		ROMTimeout: ROMTimeout,
	}
}

// Option configures an Adapter.
type Option func(*Config)

// WithLogger sets the logger.
func WithLogger(logger cart.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithChipDB replaces the built-in game overrides.
func WithChipDB(db *chipdb.DB) Option {
	return func(c *Config) {
		if db != nil {
			c.DB = db
		}
	}
}

// WithScanLimit bounds the marker search.
func WithScanLimit(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.ScanLimit = n
		}
	}
}

// WithScanChunk sets the ROM read size used while scanning. It must be
// longer than every marker.
func WithScanChunk(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.ScanChunk = n
		}
	}
}

// WithROMTimeout bounds each program image read.
func WithROMTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ROMTimeout = d
		}
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
