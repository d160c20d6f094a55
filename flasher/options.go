package flasher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mame82/espflash/auth"
	"github.com/mame82/espflash/esp"
)

// Authorizer validates a credential for a device id before flashing is
// allowed. *auth.Client implements it.
type Authorizer interface {
	Authorize(ctx context.Context, credential, deviceID string) (auth.Result, error)
}

// BridgeResetFunc resets USB bridges during ForceReleaseAll.
type BridgeResetFunc func(l *log.Entry) (int, error)

// Config holds the orchestrator configuration.
type Config struct {
	// ChunkSize is the image slice written per WriteChunk, rounded down to
	// whole flash blocks.
	ChunkSize int

	// ChunkDelay is the pause between two chunk writes.
	ChunkDelay time.Duration

	// Verify compares the device side MD5 of the region with the image.
	Verify bool

	// AllowGenericChip lets Connect succeed when the chip is not recognized.
	AllowGenericChip bool

	// Cancellation lets ctx cancellation stop a running flash between
	// chunks. A running flash ignores ctx otherwise.
	Cancellation bool

	Owner         string
	ClientOptions []esp.Option
	NewBootloader BootloaderFactory
	Authorizer    Authorizer
	DeviceID      string
	BridgeReset   BridgeResetFunc
	Logger        *log.Entry
	Sleep         func(time.Duration)
}

var ownerSeq atomic.Int64

func defaultConfig() Config {
	return Config{
		ChunkSize:        16 * 1024,
		ChunkDelay:       5 * time.Millisecond,
		AllowGenericChip: true,
		Owner:            fmt.Sprintf("flasher-%d", ownerSeq.Add(1)),
		NewBootloader:    newClient,
		Logger:           log.NewEntry(log.StandardLogger()),
		Sleep:            time.Sleep,
	}
}

// Option is a functional option for configuring the Flasher.
type Option func(*Config)

func WithChunkSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.ChunkSize = size
		}
	}
}

func WithChunkDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.ChunkDelay = d
		}
	}
}

func WithVerify(enabled bool) Option {
	return func(c *Config) { c.Verify = enabled }
}

func WithAllowGenericChip(allowed bool) Option {
	return func(c *Config) { c.AllowGenericChip = allowed }
}

// WithCancellation enables cooperative cancellation of a running flash.
// Disabled by default.
func WithCancellation(enabled bool) Option {
	return func(c *Config) { c.Cancellation = enabled }
}

// WithOwner sets the tag the transport uses to track this flasher's handles.
func WithOwner(owner string) Option {
	return func(c *Config) {
		if owner != "" {
			c.Owner = owner
		}
	}
}

// WithClientOptions are passed to the protocol client of every session.
func WithClientOptions(opts ...esp.Option) Option {
	return func(c *Config) { c.ClientOptions = append(c.ClientOptions, opts...) }
}

func WithBootloaderFactory(f BootloaderFactory) Option {
	return func(c *Config) {
		if f != nil {
			c.NewBootloader = f
		}
	}
}

// WithAuthorizer gates Flash behind a successful Authorize call.
func WithAuthorizer(a Authorizer, deviceID string) Option {
	return func(c *Config) {
		c.Authorizer = a
		c.DeviceID = deviceID
	}
}

func WithBridgeReset(f BridgeResetFunc) Option {
	return func(c *Config) { c.BridgeReset = f }
}

func WithLogger(l *log.Entry) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithSleep replaces time.Sleep for the inter chunk delay and the protocol
// client's signal hold times.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Config) {
		if sleep != nil {
			c.Sleep = sleep
		}
	}
}
