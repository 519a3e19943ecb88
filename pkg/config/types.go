package config

// Config is the complete configuration of a capstream process.
type Config struct {
	// Listener settings
	Host           string `yaml:"host" json:"host"`
	Port           int    `yaml:"port" json:"port"`
	MaxConnections int    `yaml:"maxConnections" json:"maxConnections"`

	// Input is the FIFO path of the capture feed, or "stdin".
	Input string `yaml:"input" json:"input"`

	// Relay settings
	Framing        string `yaml:"framing" json:"framing"`
	BufferSize     int    `yaml:"bufferSize" json:"bufferSize"`
	ChunkSize      int    `yaml:"chunkSize" json:"chunkSize"`
	MaxSubscribers int    `yaml:"maxSubscribers" json:"maxSubscribers"`

	// Session settings
	MaxSessions     int `yaml:"maxSessions" json:"maxSessions"`
	MaxDuration     int `yaml:"maxDuration" json:"maxDuration"`
	MaxFilterLength int `yaml:"maxFilterLength" json:"maxFilterLength"`
	GracePeriodMs   int `yaml:"gracePeriodMs" json:"gracePeriodMs"`
	ShutdownTimeout int `yaml:"shutdownTimeout" json:"shutdownTimeout"`

	Filter FilterConfig `yaml:"filter" json:"filter"`

	// Logging settings
	LogLevel  string `yaml:"logLevel" json:"logLevel"`
	LogFormat string `yaml:"logFormat" json:"logFormat"`

	// Sources tracks where each value came from, keyed by YAML path.
	Sources map[string]string `yaml:"-" json:"-"`

	// SetFields records the YAML keys that were present in a loaded file so
	// an explicit false can be told apart from an absent boolean.
	SetFields map[string]bool `yaml:"-" json:"-"`
}

// FilterConfig describes how the filtering engine is invoked.
type FilterConfig struct {
	// Command is the engine executable, resolved through PATH.
	Command string `yaml:"command" json:"command"`

	// Args are passed before the filter flag.
	Args []string `yaml:"args" json:"args"`

	// Flag precedes the filter expression. The expression always travels as
	// its own argv element.
	Flag string `yaml:"flag" json:"flag"`

	// PassthroughUnfiltered streams relay bytes directly, without starting
	// the engine, when a request carries no filter.
	PassthroughUnfiltered bool `yaml:"passthroughUnfiltered" json:"passthroughUnfiltered"`
}

// Config sources.
const (
	SourceDefault = "default"
	SourceFile    = "file"
	SourceEnv     = "env"
	SourceFlag    = "flag"
)

// Framing modes understood by the relay.
const (
	FramingAuto = "auto"
	FramingPcap = "pcap"
	FramingRaw  = "raw"
)

// InputStdin selects the process's standard input as the feed.
const InputStdin = "stdin"
