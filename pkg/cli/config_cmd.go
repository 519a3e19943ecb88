package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/capstream/capstream/pkg/cli/internal/output"
	"github.com/capstream/capstream/pkg/config"
)

var configFlagVals configFlags

// ConfigValue is one resolved configuration key.
type ConfigValue struct {
	Key    string `json:"key"`
	Value  any    `json:"value"`
	Source string `json:"source"`
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show effective configuration",
	Long: `Show the configuration serve would run with and where each value came from
(default, file, env or flag). Accepts the same flags as serve.`,
	Example: `  capstream config
  capstream config --config capstream.yaml --port 9000
  capstream config --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, &configFlagVals)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if err := printConfig(out, cfg, jsonOutput); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			output.Warn(cmd.ErrOrStderr(), "configuration is invalid: %v", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	bindConfigFlags(configCmd, &configFlagVals)
}

// printConfig writes every key of cfg with its value and source.
func printConfig(w io.Writer, cfg *config.Config, asJSON bool) error {
	values := configValues(cfg)
	if asJSON {
		return output.JSON(w, values)
	}

	tw := output.Table(w)
	fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE")
	for _, v := range values {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Key, formatValue(v.Value), v.Source)
	}
	return tw.Flush()
}

func configValues(cfg *config.Config) []ConfigValue {
	byKey := map[string]any{
		"host":                         cfg.Host,
		"port":                         cfg.Port,
		"maxConnections":               cfg.MaxConnections,
		"input":                        cfg.Input,
		"framing":                      cfg.Framing,
		"bufferSize":                   cfg.BufferSize,
		"chunkSize":                    cfg.ChunkSize,
		"maxSubscribers":               cfg.MaxSubscribers,
		"maxSessions":                  cfg.MaxSessions,
		"maxDuration":                  cfg.MaxDuration,
		"maxFilterLength":              cfg.MaxFilterLength,
		"gracePeriodMs":                cfg.GracePeriodMs,
		"shutdownTimeout":              cfg.ShutdownTimeout,
		"filter.command":               cfg.Filter.Command,
		"filter.args":                  cfg.Filter.Args,
		"filter.flag":                  cfg.Filter.Flag,
		"filter.passthroughUnfiltered": cfg.Filter.PassthroughUnfiltered,
		"logLevel":                     cfg.LogLevel,
		"logFormat":                    cfg.LogFormat,
	}

	keys := config.Keys()
	values := make([]ConfigValue, 0, len(keys))
	for _, key := range keys {
		source := cfg.Sources[key]
		if source == "" {
			source = config.SourceDefault
		}
		values = append(values, ConfigValue{Key: key, Value: byKey[key], Source: source})
	}
	return values
}

func formatValue(v any) string {
	switch v := v.(type) {
	case []string:
		return strings.Join(v, " ")
	case string:
		if v == "" {
			return `""`
		}
		return v
	default:
		return fmt.Sprint(v)
	}
}
