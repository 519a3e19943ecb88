package config

import (
	"fmt"
	"time"

	"github.com/capstream/capstream/pkg/logging"
)

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range (1-65535)", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("maxConnections %d must not be negative", c.MaxConnections)
	}
	if c.Input == "" {
		return fmt.Errorf("input must not be empty")
	}
	switch c.Framing {
	case FramingAuto, FramingPcap, FramingRaw:
	default:
		return fmt.Errorf("framing %q is not one of auto, pcap, raw", c.Framing)
	}
	if c.BufferSize < MinBufferSize || c.BufferSize > MaxBufferSize {
		return fmt.Errorf("bufferSize %d is out of range (%d-%d)", c.BufferSize, MinBufferSize, MaxBufferSize)
	}
	if c.ChunkSize < 1 || c.ChunkSize > c.BufferSize/2 {
		return fmt.Errorf("chunkSize %d is out of range (1-%d)", c.ChunkSize, c.BufferSize/2)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("maxSessions %d must be at least 1", c.MaxSessions)
	}
	if c.MaxSubscribers < c.MaxSessions {
		return fmt.Errorf("maxSubscribers %d must be at least maxSessions (%d)", c.MaxSubscribers, c.MaxSessions)
	}
	if c.MaxDuration < 0 {
		return fmt.Errorf("maxDuration %d must not be negative", c.MaxDuration)
	}
	if c.MaxFilterLength < 1 {
		return fmt.Errorf("maxFilterLength %d must be at least 1", c.MaxFilterLength)
	}
	if c.GracePeriodMs < 1 {
		return fmt.Errorf("gracePeriodMs %d must be at least 1", c.GracePeriodMs)
	}
	if c.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdownTimeout %d must be at least 1", c.ShutdownTimeout)
	}
	if c.Filter.Command == "" {
		return fmt.Errorf("filter.command must not be empty")
	}
	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("logLevel %q is not one of debug, info, warn, error", c.LogLevel)
	}
	if !logging.ValidFormat(c.LogFormat) {
		return fmt.Errorf("logFormat %q is not one of text, json", c.LogFormat)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GracePeriod returns the subprocess grace period.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMs) * time.Millisecond
}

// ShutdownDuration returns the graceful shutdown bound.
func (c *Config) ShutdownDuration() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}

// MaxDurationLimit returns the session duration cap, or 0 when unbounded.
func (c *Config) MaxDurationLimit() time.Duration {
	return time.Duration(c.MaxDuration) * time.Second
}
