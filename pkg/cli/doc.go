// Package cli provides the command-line interface for capstream.
//
// Commands:
//   - serve: Relay the capture feed and serve filtered streams (default command)
//   - config: Display the effective configuration and where each value came from
//   - version: Show capstream version
//
// Configuration is resolved as defaults, then the YAML file given by --config
// or CAPSTREAM_CONFIG, then CAPSTREAM_* environment variables, then flags.
//
// Usage:
//
//	tcpdump -i eth0 -U -w /tmp/tcpdump_fifo &
//	capstream --input /tmp/tcpdump_fifo --port 8000
//	tcpdump -i eth0 -U -w - | capstream --input stdin
//	capstream config --config capstream.yaml
//	capstream version --json
package cli
