package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variable names
const (
	EnvConfig                = "CAPSTREAM_CONFIG"
	EnvHost                  = "CAPSTREAM_HOST"
	EnvPort                  = "CAPSTREAM_PORT"
	EnvMaxConnections        = "CAPSTREAM_MAX_CONNECTIONS"
	EnvInput                 = "CAPSTREAM_INPUT"
	EnvFraming               = "CAPSTREAM_FRAMING"
	EnvBufferSize            = "CAPSTREAM_BUFFER_SIZE"
	EnvChunkSize             = "CAPSTREAM_CHUNK_SIZE"
	EnvMaxSubscribers        = "CAPSTREAM_MAX_SUBSCRIBERS"
	EnvMaxSessions           = "CAPSTREAM_MAX_SESSIONS"
	EnvMaxDuration           = "CAPSTREAM_MAX_DURATION"
	EnvMaxFilterLength       = "CAPSTREAM_MAX_FILTER_LENGTH"
	EnvGracePeriodMs         = "CAPSTREAM_GRACE_PERIOD_MS"
	EnvShutdownTimeout       = "CAPSTREAM_SHUTDOWN_TIMEOUT"
	EnvFilterCommand         = "CAPSTREAM_FILTER_COMMAND"
	EnvFilterArgs            = "CAPSTREAM_FILTER_ARGS"
	EnvFilterFlag            = "CAPSTREAM_FILTER_FLAG"
	EnvPassthroughUnfiltered = "CAPSTREAM_PASSTHROUGH_UNFILTERED"
	EnvLogLevel              = "CAPSTREAM_LOG_LEVEL"
	EnvLogFormat             = "CAPSTREAM_LOG_FORMAT"
)

// LoadEnv applies environment variables to cfg. Only variables that are set
// are applied. A malformed integer is reported rather than ignored.
func LoadEnv(cfg *Config) error {
	if cfg.Sources == nil {
		cfg.Sources = make(map[string]string)
	}

	strs := []struct {
		env, key string
		dst      *string
	}{
		{EnvHost, "host", &cfg.Host},
		{EnvInput, "input", &cfg.Input},
		{EnvFraming, "framing", &cfg.Framing},
		{EnvFilterCommand, "filter.command", &cfg.Filter.Command},
		{EnvFilterFlag, "filter.flag", &cfg.Filter.Flag},
		{EnvLogLevel, "logLevel", &cfg.LogLevel},
		{EnvLogFormat, "logFormat", &cfg.LogFormat},
	}
	for _, s := range strs {
		if v, ok := os.LookupEnv(s.env); ok && v != "" {
			*s.dst = v
			cfg.Sources[s.key] = SourceEnv
		}
	}

	ints := []struct {
		env, key string
		dst      *int
	}{
		{EnvPort, "port", &cfg.Port},
		{EnvMaxConnections, "maxConnections", &cfg.MaxConnections},
		{EnvBufferSize, "bufferSize", &cfg.BufferSize},
		{EnvChunkSize, "chunkSize", &cfg.ChunkSize},
		{EnvMaxSubscribers, "maxSubscribers", &cfg.MaxSubscribers},
		{EnvMaxSessions, "maxSessions", &cfg.MaxSessions},
		{EnvMaxDuration, "maxDuration", &cfg.MaxDuration},
		{EnvMaxFilterLength, "maxFilterLength", &cfg.MaxFilterLength},
		{EnvGracePeriodMs, "gracePeriodMs", &cfg.GracePeriodMs},
		{EnvShutdownTimeout, "shutdownTimeout", &cfg.ShutdownTimeout},
	}
	for _, i := range ints {
		v, ok := os.LookupEnv(i.env)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", i.env, v)
		}
		*i.dst = n
		cfg.Sources[i.key] = SourceEnv
	}

	// Whitespace separated; arguments containing spaces need the config file.
	if v, ok := os.LookupEnv(EnvFilterArgs); ok {
		cfg.Filter.Args = strings.Fields(v)
		cfg.Sources["filter.args"] = SourceEnv
	}

	if v := os.Getenv(EnvPassthroughUnfiltered); v != "" {
		cfg.Filter.PassthroughUnfiltered = parseBool(v)
		cfg.Sources["filter.passthroughUnfiltered"] = SourceEnv
	}

	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
