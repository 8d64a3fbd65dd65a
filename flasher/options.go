package flasher

import "time"

// Config holds the Flasher configuration.
type Config struct {
	// AckTimeout bounds the wait for each acknowledgment byte
	AckTimeout time.Duration

	// ChunkSize is the payload size of every data frame but the last
	ChunkSize int

	// Logger is used for logging operations (optional)
	Logger Logger
}

func defaultConfig() Config {
	return Config{
		AckTimeout: time.Second,
		ChunkSize:  MaxDataLen,
	}
}

// Option is a functional option for configuring the Flasher.
type Option func(*Config)

// WithAckTimeout sets the acknowledgment wait. It is applied to transports that
// support SetReadTimeout at the start of every transfer.
func WithAckTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.AckTimeout = timeout
		}
	}
}

// WithChunkSize sets the data frame payload size, between 1 and MaxDataLen.
func WithChunkSize(size int) Option {
	return func(c *Config) {
		if size > 0 && size <= MaxDataLen {
			c.ChunkSize = size
		}
	}
}

// WithLogger sets a logger for transfer operations.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
