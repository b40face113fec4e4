package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Config controls the delay applied after consecutive failures
type Config struct {
	// Initial is the delay after the first failure. Default: 2s.
	Initial time.Duration

	// Max caps the delay. Default: 60s.
	Max time.Duration

	// Multiplier scales the delay after each further failure. Default: 2.0.
	Multiplier float64

	// JitterFraction adds up to this fraction of the delay on top of it
	// (0.0 = no jitter). Jitter never shortens a delay.
	JitterFraction float64
}

// DefaultConfig returns the standard backoff policy
func DefaultConfig() Config {
	return Config{
		Initial:    2 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2.0,
	}
}

// Calculator turns a consecutive failure count into a delay
type Calculator struct {
	cfg Config
}

// New creates a calculator, filling unset fields from DefaultConfig
func New(cfg Config) *Calculator {
	def := DefaultConfig()
	if cfg.Initial <= 0 {
		cfg.Initial = def.Initial
	}
	if cfg.Max <= 0 {
		cfg.Max = def.Max
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return &Calculator{cfg: cfg}
}

// Delay returns the backoff for n consecutive failures.
// Zero failures means no backoff. The result is non-decreasing in n and never exceeds Max.
func (c *Calculator) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := float64(c.cfg.Initial) * math.Pow(c.cfg.Multiplier, float64(failures-1))
	if d >= float64(c.cfg.Max) || math.IsInf(d, 0) || math.IsNaN(d) {
		return c.cfg.Max
	}
	return time.Duration(d)
}

// Jittered returns Delay(failures) plus up to JitterFraction of it
func (c *Calculator) Jittered(failures int) time.Duration {
	d := c.Delay(failures)
	if d <= 0 || c.cfg.JitterFraction == 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*c.cfg.JitterFraction*float64(d))
}

// Max returns the ceiling
func (c *Calculator) Max() time.Duration {
	return c.cfg.Max
}
