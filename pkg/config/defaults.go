package config

// Default values. Durations are in seconds except GracePeriodMs.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8000
	DefaultMaxConnections  = 0
	DefaultInput           = "/tmp/tcpdump_fifo"
	DefaultFraming         = FramingAuto
	DefaultBufferSize      = 8 << 20
	DefaultChunkSize       = 32 << 10
	DefaultMaxSubscribers  = 64
	DefaultMaxSessions     = 16
	DefaultMaxDuration     = 0
	DefaultMaxFilterLength = 4096
	DefaultGracePeriodMs   = 2000
	DefaultShutdownTimeout = 10
	DefaultFilterCommand   = "tshark"
	DefaultFilterFlag      = "-Y"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Limits enforced by Validate.
const (
	MinBufferSize = 64 << 10
	MaxBufferSize = 1 << 30
)

// DefaultFilterArgs reads capture data on stdin and writes classic pcap to stdout.
func DefaultFilterArgs() []string {
	return []string{"-r", "-", "-F", "pcap", "-w", "-"}
}

// NewDefault creates a Config with default values, all marked as such in Sources.
func NewDefault() *Config {
	cfg := &Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		MaxConnections:  DefaultMaxConnections,
		Input:           DefaultInput,
		Framing:         DefaultFraming,
		BufferSize:      DefaultBufferSize,
		ChunkSize:       DefaultChunkSize,
		MaxSubscribers:  DefaultMaxSubscribers,
		MaxSessions:     DefaultMaxSessions,
		MaxDuration:     DefaultMaxDuration,
		MaxFilterLength: DefaultMaxFilterLength,
		GracePeriodMs:   DefaultGracePeriodMs,
		ShutdownTimeout: DefaultShutdownTimeout,
		Filter: FilterConfig{
			Command: DefaultFilterCommand,
			Args:    DefaultFilterArgs(),
			Flag:    DefaultFilterFlag,
		},
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		Sources:   make(map[string]string),
	}
	for _, key := range Keys() {
		cfg.Sources[key] = SourceDefault
	}
	return cfg
}

// Keys lists every configuration key in display order.
func Keys() []string {
	return []string{
		"host", "port", "maxConnections", "input",
		"framing", "bufferSize", "chunkSize", "maxSubscribers",
		"maxSessions", "maxDuration", "maxFilterLength", "gracePeriodMs", "shutdownTimeout",
		"filter.command", "filter.args", "filter.flag", "filter.passthroughUnfiltered",
		"logLevel", "logFormat",
	}
}
