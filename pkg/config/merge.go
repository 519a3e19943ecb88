package config

// Merge copies non-zero values from src into dst and records source for each
// copied key. Booleans and the args list are copied when src.SetFields marks
// them present, so a file can turn an option off or clear the args.
func Merge(dst, src *Config, source string) {
	if dst.Sources == nil {
		dst.Sources = make(map[string]string)
	}

	setStr := func(key string, d *string, s string) {
		if s != "" {
			*d = s
			dst.Sources[key] = source
		}
	}
	setInt := func(key string, d *int, s int) {
		if s != 0 || src.SetFields[key] {
			*d = s
			dst.Sources[key] = source
		}
	}

	setStr("host", &dst.Host, src.Host)
	setInt("port", &dst.Port, src.Port)
	setInt("maxConnections", &dst.MaxConnections, src.MaxConnections)
	setStr("input", &dst.Input, src.Input)
	setStr("framing", &dst.Framing, src.Framing)
	setInt("bufferSize", &dst.BufferSize, src.BufferSize)
	setInt("chunkSize", &dst.ChunkSize, src.ChunkSize)
	setInt("maxSubscribers", &dst.MaxSubscribers, src.MaxSubscribers)
	setInt("maxSessions", &dst.MaxSessions, src.MaxSessions)
	setInt("maxDuration", &dst.MaxDuration, src.MaxDuration)
	setInt("maxFilterLength", &dst.MaxFilterLength, src.MaxFilterLength)
	setInt("gracePeriodMs", &dst.GracePeriodMs, src.GracePeriodMs)
	setInt("shutdownTimeout", &dst.ShutdownTimeout, src.ShutdownTimeout)
	setStr("filter.command", &dst.Filter.Command, src.Filter.Command)
	setStr("filter.flag", &dst.Filter.Flag, src.Filter.Flag)
	setStr("logLevel", &dst.LogLevel, src.LogLevel)
	setStr("logFormat", &dst.LogFormat, src.LogFormat)

	if len(src.Filter.Args) > 0 || src.SetFields["filter.args"] {
		dst.Filter.Args = append([]string(nil), src.Filter.Args...)
		dst.Sources["filter.args"] = source
	}
	if src.Filter.PassthroughUnfiltered || src.SetFields["filter.passthroughUnfiltered"] {
		dst.Filter.PassthroughUnfiltered = src.Filter.PassthroughUnfiltered
		dst.Sources["filter.passthroughUnfiltered"] = source
	}
}
