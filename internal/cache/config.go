package cache

import "time"

// Config represents cache configuration
type Config struct {
	MaxEntries int `json:"maxEntries"`
	MaxSizeMB  int `json:"maxSizeMB"`
	TTLMinutes int `json:"ttlMinutes"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		MaxEntries: 4096,
		MaxSizeMB:  128,
		TTLMinutes: 60,
	}
}

// withDefaults replaces non-positive limits with the defaults
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = d.MaxSizeMB
	}
	if c.TTLMinutes <= 0 {
		c.TTLMinutes = d.TTLMinutes
	}
	return c
}

func (c Config) ttl() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}
