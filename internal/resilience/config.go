package resilience

import "time"

// Circuit breaker configuration constants
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// Provider calls fan out per language, so a dead provider should trip
	// before a whole pool of queued tasks hits it.
	ProviderThreshold         = 3
	ProviderResetTimeout      = 10 * time.Second
	ProviderHalfOpenSuccesses = 1
)

// Config holds circuit breaker settings.
type Config struct {
	Name              string        // provider name used in logs
	Threshold         int           // consecutive failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close
}

// DefaultConfig returns general-purpose defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

// ProviderConfig returns settings for an external speech or translation provider.
func ProviderConfig(name string) Config {
	return Config{
		Name:              name,
		Threshold:         ProviderThreshold,
		ResetTimeout:      ProviderResetTimeout,
		HalfOpenSuccesses: ProviderHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	if c.Name == "" {
		c.Name = "default"
	}
	return c
}
