package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/capstream/capstream/pkg/config"
	"github.com/capstream/capstream/pkg/feed"
	"github.com/capstream/capstream/pkg/filter"
	"github.com/capstream/capstream/pkg/logging"
	"github.com/capstream/capstream/pkg/metrics"
	"github.com/capstream/capstream/pkg/relay"
	"github.com/capstream/capstream/pkg/stream"
)

// collectInterval is how often sampled gauges are refreshed.
const collectInterval = 5 * time.Second

// serveFlagVals is the package-level instance bound to cobra flags.
var serveFlagVals configFlags

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Relay the capture feed and serve filtered streams (default command)",
	Long: `Start the capture relay and the HTTP server.

The relay drains the capture feed into a bounded buffer. Every request to
/stream or /ws starts its own filtering engine fed from that buffer and
streams the engine's output back as pcap.

Start the capture writer separately, for example:

  tcpdump -i eth0 -U -w /tmp/tcpdump_fifo`,
	Example: `  # Serve the default named pipe on port 8000
  capstream serve

  # Read the capture from standard input
  tcpdump -i eth0 -U -w - | capstream serve --input stdin

  # Custom port and config file
  capstream serve --config capstream.yaml --port 9000

  # Fetch 30 seconds of HTTPS traffic
  curl -N 'http://localhost:8000/stream?filter=tcp.port==443&duration=30' -o https.pcap`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, &serveFlagVals)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	bindConfigFlags(serveCmd, &serveFlagVals)
}

// runServe runs the relay and the HTTP server until ctx is cancelled, then
// shuts down within cfg.ShutdownTimeout. The server outlives the feed.
func runServe(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	framing, err := relay.ParseFraming(cfg.Framing)
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: logging.ParseFormat(cfg.LogFormat),
		Output: logOut,
	})
	reg := metrics.Init()

	rel := relay.New(relay.Config{
		Capacity:       cfg.BufferSize,
		ChunkSize:      cfg.ChunkSize,
		MaxSubscribers: cfg.MaxSubscribers,
		Framing:        framing,
	}, relay.WithLogger(log))

	sessions := filter.NewManager(filter.Config{
		Command:               cfg.Filter.Command,
		Args:                  cfg.Filter.Args,
		Flag:                  cfg.Filter.Flag,
		PassthroughUnfiltered: cfg.Filter.PassthroughUnfiltered,
		GracePeriod:           cfg.GracePeriod(),
		MaxSessions:           cfg.MaxSessions,
		MaxDuration:           cfg.MaxDurationLimit(),
		MaxFilterLength:       cfg.MaxFilterLength,
	}, rel, filter.WithLogger(log))

	srv := stream.New(stream.Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		MaxConnections: cfg.MaxConnections,
		ChunkSize:      cfg.ChunkSize,
		Input:          cfg.Input,
	}, rel, sessions, stream.WithLogger(log), stream.WithMetrics(reg))

	if err := srv.Start(); err != nil {
		return err
	}
	log.Info("capstream started",
		"addr", srv.Addr(),
		"input", feed.Describe(cfg.Input),
		"engine", cfg.Filter.Command,
		"bufferSize", cfg.BufferSize,
		"maxSessions", cfg.MaxSessions,
	)

	collector := metrics.NewCollector(collectInterval)
	collector.AddSampler(func() {
		if metrics.RelayBufferedBytes != nil {
			_ = metrics.RelayBufferedBytes.Set(float64(rel.Stats().Buffered))
		}
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		in, err := feed.Open(gctx, cfg.Input, feed.WithLogger(log))
		if err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		// A feed failure is logged and closes the relay. The server keeps
		// answering with upstream_closed until shutdown.
		_ = rel.Run(gctx, in)
		return nil
	})

	g.Go(func() error {
		return collector.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "timeout", cfg.ShutdownDuration())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDuration())
		defer cancel()
		err := srv.Stop(shutdownCtx)
		rel.Close()
		if err != nil {
			return fmt.Errorf("stopping server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("capstream stopped", "error", err)
		return err
	}
	log.Info("capstream stopped")
	return nil
}
