package esp

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Config holds the protocol client configuration.
type Config struct {
	// SyncAttempts is the retry ceiling for Sync. The boot strap sequence is
	// re-armed before every attempt.
	SyncAttempts int

	// SyncTimeout bounds the wait for the echo of a single sync probe.
	SyncTimeout time.Duration

	// CommandTimeout bounds ordinary request/response exchanges.
	CommandTimeout time.Duration

	// BeginTimeout bounds FLASH_BEGIN, which erases the sectors of a chunk.
	BeginTimeout time.Duration

	// EraseTimeout bounds the whole chip erase, which takes tens of seconds
	// on large flashes.
	EraseTimeout time.Duration

	// MD5TimeoutPerMB scales the device side digest timeout with the region size.
	MD5TimeoutPerMB time.Duration

	// FlashSize is used by the ROM erase fallback.
	FlashSize int

	// Compress selects the FLASH_DEFL_* write path.
	Compress bool

	// ResetHold and BootHold are the two hold times of the signal pulses.
	ResetHold time.Duration
	BootHold  time.Duration

	Logger *log.Entry

	// Sleep is used for every signal hold time.
	Sleep func(time.Duration)
}

func defaultConfig() Config {
	return Config{
		SyncAttempts:    3,
		SyncTimeout:     500 * time.Millisecond,
		CommandTimeout:  3 * time.Second,
		BeginTimeout:    10 * time.Second,
		EraseTimeout:    120 * time.Second,
		MD5TimeoutPerMB: 8 * time.Second,
		FlashSize:       4 * 1024 * 1024,
		ResetHold:       100 * time.Millisecond,
		BootHold:        50 * time.Millisecond,
		Logger:          log.NewEntry(log.StandardLogger()),
		Sleep:           time.Sleep,
	}
}

// Option is a functional option for configuring the Client.
type Option func(*Config)

func WithLogger(l *log.Entry) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithSyncAttempts sets the sync retry ceiling. Values below 1 are ignored.
func WithSyncAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SyncAttempts = n
		}
	}
}

func WithSyncTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.SyncTimeout = d
		}
	}
}

func WithCommandTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.CommandTimeout = d
		}
	}
}

func WithBeginTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.BeginTimeout = d
		}
	}
}

func WithEraseTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.EraseTimeout = d
		}
	}
}

func WithFlashSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.FlashSize = size
		}
	}
}

func WithCompression(enabled bool) Option {
	return func(c *Config) {
		c.Compress = enabled
	}
}

// WithSleep replaces time.Sleep for signal hold times. Tests use a no-op.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Config) {
		if sleep != nil {
			c.Sleep = sleep
		}
	}
}
