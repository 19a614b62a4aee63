package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/SmitUplenchwar2687/txreplay/internal/clock"
	"github.com/SmitUplenchwar2687/txreplay/internal/config"
	"github.com/SmitUplenchwar2687/txreplay/internal/limiter"
	"github.com/SmitUplenchwar2687/txreplay/internal/logging"
	"github.com/SmitUplenchwar2687/txreplay/internal/recorder"
	"github.com/SmitUplenchwar2687/txreplay/internal/replay"
	"github.com/SmitUplenchwar2687/txreplay/internal/server"
	"github.com/SmitUplenchwar2687/txreplay/internal/storage"
)

func newServeCmd() *cobra.Command {
	var (
		opts        runOptions
		store       storageOptions
		host        string
		port        int
		key         string
		noAuth      bool
		handshake   time.Duration
		httpAddr    string
		journal     journalOptions
		admitAlgo   string
		admitRate   int
		admitWindow time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a capture to every client that connects",
		Long: `Listens for TCP clients and streams one full pass of the capture to each
of them, independently and concurrently.

Frames are a 4-byte big-endian length followed by the UTF-8 payload. When
an auth key is set, each client must answer an HMAC-SHA256 challenge first.

With --http, the same sessions are also offered over HTTP:
  GET /health      Health check
  GET /api/stats   Session counters
  WS  /ws          One replay pass per WebSocket (key in X-Auth-Key or ?key=)`,
		Example: `  txreplay serve --file xdf.log
  txreplay serve --file xdf.log --port 7070 --key "secret phrase" --http :8080
  txreplay serve --config txreplay.yaml --pacing timestamp --speed 10
  txreplay serve --file xdf.log --storage redis --redis-host localhost:6379 --admission-rate 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("host") {
				cfg.Listen.Host = host
			}
			if flags.Changed("port") {
				cfg.Listen.Port = port
			}
			if flags.Changed("key") {
				cfg.Listen.AuthKey = key
			}
			if noAuth {
				cfg.Listen.AuthKey = ""
			}
			if flags.Changed("handshake-timeout") {
				cfg.Listen.HandshakeTimeout = handshake
			}
			if flags.Changed("http") {
				cfg.HTTP.Addr = httpAddr
			}
			if flags.Changed("admission-algorithm") {
				cfg.Admission.Algorithm = limiter.Algorithm(admitAlgo)
			}
			if flags.Changed("admission-rate") {
				cfg.Admission.Rate = admitRate
			}
			if flags.Changed("admission-window") {
				cfg.Admission.Window = admitWindow
			}
			if err := store.apply(cmd, &cfg.Storage); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := logging.New(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", cfg.Listen.Addr())
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.Listen.Addr(), err)
			}

			// Graceful shutdown on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, ln, journal, logger)
		},
	}

	def := config.Default()
	opts.addFlags(cmd)
	store.addFlags(cmd)
	cmd.Flags().StringVar(&host, "host", def.Listen.Host, "host to listen on")
	cmd.Flags().IntVar(&port, "port", def.Listen.Port, "TCP port to listen on")
	cmd.Flags().StringVar(&key, "key", def.Listen.AuthKey, "shared secret clients authenticate with")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "accept clients without a handshake")
	cmd.Flags().DurationVar(&handshake, "handshake-timeout", def.Listen.HandshakeTimeout, "deadline for the authentication exchange")
	cmd.Flags().StringVar(&httpAddr, "http", "", "address for the HTTP/WebSocket listener (empty = disabled)")
	cmd.Flags().StringVar(&journal.Path, "journal", "", "export every delivery and session summary to this JSON file on shutdown (payloads are held in memory until then)")
	cmd.Flags().StringVar(&journal.Stream, "journal-stream", "", "append each delivery to this file as newline-delimited JSON as it is sent")
	cmd.Flags().StringVar(&admitAlgo, "admission-algorithm", string(def.Admission.Algorithm), "admission algorithm (token_bucket, fixed_window)")
	cmd.Flags().IntVar(&admitRate, "admission-rate", 0, "sessions allowed per host per window (0 = unbounded)")
	cmd.Flags().DurationVar(&admitWindow, "admission-window", def.Admission.Window, "admission window duration")

	return cmd
}

// journalOptions selects how deliveries are journaled. Path exports the
// whole journal on shutdown; Stream writes each delivery as it is sent.
type journalOptions struct {
	Path   string
	Stream string
}

// recorder builds the journal recorder, or nil when journaling is off.
// The returned func closes the stream file.
func (o journalOptions) recorder() (*recorder.Recorder, func() error, error) {
	noop := func() error { return nil }
	if o.Path == "" && o.Stream == "" {
		return nil, noop, nil
	}

	var w io.Writer
	closeStream := noop
	if o.Stream != "" {
		f, err := os.OpenFile(o.Stream, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, noop, fmt.Errorf("open journal stream: %w", err)
		}
		w, closeStream = f, f.Close
	}
	if o.Path == "" {
		return recorder.NewStreaming(w), closeStream, nil
	}
	return recorder.New(w), closeStream, nil
}

// serve runs the dispatcher on ln, plus the HTTP surface when configured,
// until ctx is done or the listener fails.
func serve(ctx context.Context, cfg config.Config, ln net.Listener, journal journalOptions, logger *slog.Logger) error {
	clk := clock.NewRealClock()

	st, err := storage.New(cfg.Storage, clk)
	if err != nil {
		ln.Close()
		return err
	}
	defer st.Close()

	lim, err := limiter.New(cfg.Admission, st, clk, logger)
	if err != nil {
		ln.Close()
		return err
	}

	rec, closeStream, err := journal.recorder()
	if err != nil {
		ln.Close()
		return err
	}
	defer func() {
		if cerr := closeStream(); cerr != nil {
			logger.Error("error closing journal stream", slog.Any("err", cerr))
		}
	}()

	engine := replay.New(cfg.Settings(), clk, logger)
	d := server.NewDispatcher(engine, server.Options{
		Key:              []byte(cfg.Listen.AuthKey),
		HandshakeTimeout: cfg.Listen.HandshakeTimeout,
		Limiter:          lim,
		Stats:            storage.NewStats(st),
		Recorder:         rec,
		Logger:           logger,
	})

	logger.Info("serving capture",
		slog.String("file", cfg.Capture.File),
		slog.String("encoding", cfg.Capture.Encoding),
		slog.String("pacing", string(cfg.Pacing.Mode)),
		slog.Bool("auth", cfg.Listen.AuthKey != ""))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.Serve(gctx, ln)
	})

	if cfg.HTTP.Addr != "" {
		hln, err := net.Listen("tcp", cfg.HTTP.Addr)
		if err != nil {
			ln.Close()
			_ = g.Wait()
			return fmt.Errorf("listen on %s: %w", cfg.HTTP.Addr, err)
		}
		hs := server.NewHTTPServer(cfg.HTTP.Addr, d)
		g.Go(func() error {
			return hs.StartOnListener(gctx, hln)
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("shutting down")

	// Export the journal if enabled.
	if journal.Path != "" {
		logger.Info("exporting journal", slog.Int("deliveries", rec.Len()), slog.String("path", journal.Path))
		if jerr := rec.ExportFile(journal.Path); jerr != nil {
			logger.Error("error exporting journal", slog.Any("err", jerr))
		}
	}
	return err
}
