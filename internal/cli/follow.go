package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bft-labs/opstream/internal/adapters/fs"
	"github.com/bft-labs/opstream/internal/cliconfig"
	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/ports"
	"github.com/bft-labs/opstream/pkg/log"
	"github.com/bft-labs/opstream/pkg/opstream"
)

func newFollowCommand(o *rootOptions, zl zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "follow",
		Short: "Connect to a document and print its ops as they are sequenced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgFile, err := o.load(cmd)
			if err != nil {
				return err
			}
			if err := o.cfg.Validate(); err != nil {
				return err
			}
			zl.Info().Interface("config", o.cfg.Masked()).Msg("configuration")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return follow(ctx, o.cfg, cfgFile, cmd.OutOrStdout(), log.NewZerologAdapterWithLogger(zl))
		},
	}
}

// follow runs a stream until ctx ends or the stream closes on its own.
func follow(ctx context.Context, cfg cliconfig.Config, cfgFile string, w io.Writer, logger log.Logger) error {
	var store ports.CheckpointStore
	var cp domain.Checkpoint
	if cfg.CheckpointPath != "" {
		f := fs.NewCheckpointFile(cfg.CheckpointPath)
		loaded, err := f.Load(ctx)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if !loaded.IsEmpty() && (loaded.TenantID != cfg.TenantID || loaded.DocumentID != cfg.DocumentID) {
			return fmt.Errorf("checkpoint %s belongs to %s/%s", f.Path(), loaded.TenantID, loaded.DocumentID)
		}
		cp = loaded
		store = f
		logger.Info("resuming from checkpoint", log.Int64("sequenceNumber", cp.SequenceNumber))
	}
	cp.TenantID = cfg.TenantID
	cp.DocumentID = cfg.DocumentID

	reg := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		srv, err := serveMetrics(cfg.MetricsAddr, reg, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	closed := make(chan error, 1)
	stream, err := opstream.New(streamConfig(cfg),
		opstream.WithLogger(logger),
		opstream.WithMetricsRegisterer(reg),
		opstream.WithEventHandler(eventLogger(logger, closed)),
	)
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}

	handler := newPrintHandler(newFormatter(cfg.Output, w), store, cp, logger)
	if err := stream.AttachHandler(cp.MinimumSequenceNumber, cp.SequenceNumber, handler); err != nil {
		_ = stream.Close()
		return err
	}

	if cfgFile != "" {
		watcher := cliconfig.NewWatcher(cfgFile, 0, func(fc cliconfig.FileConfig) {
			if fc.LogLevel == "" {
				return
			}
			if err := setLogLevel(fc.LogLevel); err != nil {
				logger.Warn("ignoring log level", log.String("logLevel", fc.LogLevel), log.Err(err))
				return
			}
			logger.Info("log level changed", log.String("logLevel", fc.LogLevel))
		}, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("config watcher stopped", log.Err(err))
			}
		}()
	}

	details, err := stream.Connect(ctx, opstream.ConnectOptions{})
	switch {
	case err == nil:
		logger.Info("connected",
			log.String("clientId", details.ClientID),
			log.String("mode", string(details.Mode)),
		)
	case ctx.Err() != nil:
	default:
		// The stream closes itself; the closed event carries the cause.
		logger.Error("connect failed", log.Err(err))
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received signal, stopping...")
	case runErr = <-closed:
	}

	if err := stream.Close(); err != nil {
		logger.Warn("close archive", log.Err(err))
	}
	handler.flush(context.Background())
	logger.Info("stopped",
		log.Int("processed", handler.count()),
		log.Int64("sequenceNumber", handler.checkpoint().SequenceNumber),
	)
	return runErr
}

// eventLogger logs stream events. The error a stream closed with is sent on
// closed.
func eventLogger(logger log.Logger, closed chan<- error) func(opstream.Event) {
	return func(ev opstream.Event) {
		switch e := ev.(type) {
		case opstream.ConnectEvent:
			logger.Debug("connection established", log.String("clientId", e.Details.ClientID))
		case opstream.DisconnectEvent:
			logger.Warn("disconnected", log.String("reason", e.Reason))
		case opstream.ErrorEvent:
			logger.Warn("stream error", log.Err(e.Err))
		case opstream.ReadonlyEvent:
			logger.Info("readonly changed", log.Bool("readonly", e.Readonly))
		case opstream.PongEvent:
			logger.Debug("pong", log.Duration("latency", e.Latency))
		case opstream.ClosedEvent:
			select {
			case closed <- e.Err:
			default:
			}
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger log.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", log.Err(err))
		}
	}()
	logger.Info("serving metrics", log.String("addr", srv.Addr))
	return srv, nil
}
