// Package config provides configuration types and loading for capstream.
//
// Values come from several sources with the following precedence:
//
//  1. Command-line flags (highest priority, applied by the CLI)
//  2. Environment variables (CAPSTREAM_*)
//  3. The YAML config file given with --config or CAPSTREAM_CONFIG
//  4. Default values (lowest priority)
//
// Every loaded Config records in Sources where each key came from, which
// `capstream config` prints.
package config
