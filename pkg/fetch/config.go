package fetch

import (
	"fmt"
	"time"

	"github.com/openfroyo/froyo-agent/pkg/transports/ssh"
)

// Config configures the coordinator and its backends.
type Config struct {
	// Parallelism bounds concurrent fetches. Default 8.
	Parallelism int

	// MaxRetries is the number of retries after a transient failure. Default 2.
	MaxRetries int

	// BaseDelay is the first retry delay. It doubles on each attempt.
	BaseDelay time.Duration

	// MaxDelay caps a single retry delay.
	MaxDelay time.Duration

	// HTTPTimeout bounds a single http(s) request.
	HTTPTimeout time.Duration

	// SFTP is the template for sftp connections. Host, port and user come
	// from each location.
	SFTP *ssh.Config
}

// DefaultConfig returns the default fetch settings.
func DefaultConfig() Config {
	return Config{
		Parallelism: 8,
		MaxRetries:  2,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		HTTPTimeout: 60 * time.Second,
		SFTP:        ssh.DefaultConfig("", "froyo"),
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive, got %d", c.Parallelism)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.BaseDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}
	return nil
}
