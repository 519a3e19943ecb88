package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// jsonOutput switches command output to JSON.
	jsonOutput bool

	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "capstream",
	Short: "capstream serves filtered live packet captures over HTTP",
	Long: `capstream reads a live capture feed (a named pipe written by tcpdump, or
standard input) and streams it to any number of HTTP clients. Each request
runs its own display filter in a separate filtering engine process.

Configuration can be provided via flags, environment variables (CAPSTREAM_*),
or a YAML configuration file given with --config.

Running capstream without a command starts the server.`,
	SilenceUsage:  true,
	SilenceErrors: true, // We handle errors in Execute()
}

// Execute runs the command line in os.Args. Arguments that do not name a
// command are handed to serve.
func Execute() {
	rootCmd.SetArgs(defaultToServe(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// defaultToServe prepends "serve" unless args already select a command or
// ask for root help.
func defaultToServe(args []string) []string {
	if len(args) == 0 {
		return []string{"serve"}
	}
	switch args[0] {
	case "-h", "--help", "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return args
	}
	if cmd, _, err := rootCmd.Find(args); err == nil && cmd != rootCmd {
		return args
	}
	return append([]string{"serve"}, args...)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")
}
