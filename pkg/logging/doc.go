// Package logging provides structured logging configuration for capstream.
//
// This package wraps log/slog so every component logs the same way. It
// supports configurable levels and text or JSON output.
//
// # Usage
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatText,
//	})
//
//	logger.Info("relay started", "framing", "pcap")
//	logger.Error("feed read failed", "error", err)
//
// # Integration
//
// Components accept a *slog.Logger in their constructor or via an option and
// fall back to logging.Nop(). Use Component to tag records with the
// component name. LineWriter turns a child process's stderr into log records.
package logging
