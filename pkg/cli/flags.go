package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/capstream/capstream/pkg/config"
)

// configFlags holds the flags that override configuration keys.
type configFlags struct {
	configFile string

	host           string
	port           int
	maxConnections int
	input          string

	framing        string
	bufferSize     int
	chunkSize      int
	maxSubscribers int

	maxSessions     int
	maxDuration     int
	maxFilterLength int
	gracePeriodMs   int
	shutdownTimeout int

	filterCommand         string
	filterArgs            string
	filterFlag            string
	passthroughUnfiltered bool

	logLevel  string
	logFormat string
}

// bindConfigFlags registers the configuration flags on cmd. Defaults shown
// in help are the built-in defaults; only flags given on the command line
// override the loaded configuration.
func bindConfigFlags(cmd *cobra.Command, f *configFlags) {
	fs := cmd.Flags()

	fs.StringVarP(&f.configFile, "config", "c", "", "Path to YAML configuration file (or set "+config.EnvConfig+")")

	// Listener flags
	fs.StringVar(&f.host, "host", config.DefaultHost, "Address to listen on")
	fs.IntVarP(&f.port, "port", "p", config.DefaultPort, "HTTP server port")
	fs.IntVar(&f.maxConnections, "max-connections", config.DefaultMaxConnections, "Maximum concurrent HTTP connections (0 = unlimited)")
	fs.StringVarP(&f.input, "input", "i", config.DefaultInput, "Capture feed: named pipe path, or 'stdin'")

	// Relay flags
	fs.StringVar(&f.framing, "framing", config.DefaultFraming, "Feed framing (auto, pcap, raw)")
	fs.IntVar(&f.bufferSize, "buffer-size", config.DefaultBufferSize, "Relay buffer capacity in bytes")
	fs.IntVar(&f.chunkSize, "chunk-size", config.DefaultChunkSize, "Read and write chunk size in bytes")
	fs.IntVar(&f.maxSubscribers, "max-subscribers", config.DefaultMaxSubscribers, "Maximum concurrent relay subscribers")

	// Session flags
	fs.IntVar(&f.maxSessions, "max-sessions", config.DefaultMaxSessions, "Maximum concurrent capture sessions")
	fs.IntVar(&f.maxDuration, "max-duration", config.DefaultMaxDuration, "Upper bound for the duration parameter in seconds (0 = none)")
	fs.IntVar(&f.maxFilterLength, "max-filter-length", config.DefaultMaxFilterLength, "Maximum filter expression length in bytes")
	fs.IntVar(&f.gracePeriodMs, "grace-period-ms", config.DefaultGracePeriodMs, "Time a filter engine gets to exit before it is killed, in milliseconds")
	fs.IntVar(&f.shutdownTimeout, "shutdown-timeout", config.DefaultShutdownTimeout, "Graceful shutdown timeout in seconds")

	// Filter engine flags
	fs.StringVar(&f.filterCommand, "filter-command", config.DefaultFilterCommand, "Filtering engine executable")
	fs.StringVar(&f.filterArgs, "filter-args", strings.Join(config.DefaultFilterArgs(), " "), "Engine arguments placed before the filter, space separated")
	fs.StringVar(&f.filterFlag, "filter-flag", config.DefaultFilterFlag, "Engine flag that precedes the filter expression")
	fs.BoolVar(&f.passthroughUnfiltered, "passthrough-unfiltered", false, "Stream requests without a filter directly, without starting the engine")

	// Logging flags
	fs.StringVar(&f.logLevel, "log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", config.DefaultLogFormat, "Log format (text, json)")
}

// loadConfig resolves the configuration for cmd: defaults, file,
// environment, then the flags the user actually set.
func loadConfig(cmd *cobra.Command, f *configFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, f, cfg)
	return cfg, nil
}

// applyFlags copies every changed flag into cfg and records its source.
func applyFlags(cmd *cobra.Command, f *configFlags, cfg *config.Config) {
	fs := cmd.Flags()
	if cfg.Sources == nil {
		cfg.Sources = make(map[string]string)
	}
	set := func(flag, key string, apply func()) {
		if fs.Changed(flag) {
			apply()
			cfg.Sources[key] = config.SourceFlag
		}
	}

	set("host", "host", func() { cfg.Host = f.host })
	set("port", "port", func() { cfg.Port = f.port })
	set("max-connections", "maxConnections", func() { cfg.MaxConnections = f.maxConnections })
	set("input", "input", func() { cfg.Input = f.input })
	set("framing", "framing", func() { cfg.Framing = f.framing })
	set("buffer-size", "bufferSize", func() { cfg.BufferSize = f.bufferSize })
	set("chunk-size", "chunkSize", func() { cfg.ChunkSize = f.chunkSize })
	set("max-subscribers", "maxSubscribers", func() { cfg.MaxSubscribers = f.maxSubscribers })
	set("max-sessions", "maxSessions", func() { cfg.MaxSessions = f.maxSessions })
	set("max-duration", "maxDuration", func() { cfg.MaxDuration = f.maxDuration })
	set("max-filter-length", "maxFilterLength", func() { cfg.MaxFilterLength = f.maxFilterLength })
	set("grace-period-ms", "gracePeriodMs", func() { cfg.GracePeriodMs = f.gracePeriodMs })
	set("shutdown-timeout", "shutdownTimeout", func() { cfg.ShutdownTimeout = f.shutdownTimeout })
	set("filter-command", "filter.command", func() { cfg.Filter.Command = f.filterCommand })
	set("filter-args", "filter.args", func() { cfg.Filter.Args = strings.Fields(f.filterArgs) })
	set("filter-flag", "filter.flag", func() { cfg.Filter.Flag = f.filterFlag })
	set("passthrough-unfiltered", "filter.passthroughUnfiltered", func() { cfg.Filter.PassthroughUnfiltered = f.passthroughUnfiltered })
	set("log-level", "logLevel", func() { cfg.LogLevel = f.logLevel })
	set("log-format", "logFormat", func() { cfg.LogFormat = f.logFormat })
}
