package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/widgetbridge/pkg/config"
	"github.com/go-go-golems/widgetbridge/pkg/helpers"
	"github.com/go-go-golems/widgetbridge/pkg/notebook"
	"github.com/go-go-golems/widgetbridge/pkg/plotstore"
	"github.com/go-go-golems/widgetbridge/pkg/session/memory"
	"github.com/go-go-golems/widgetbridge/pkg/widgets"
	widgetshttp "github.com/go-go-golems/widgetbridge/pkg/widgets/http"
	"github.com/go-go-golems/widgetbridge/pkg/widgets/messaging"
)

const shutdownTimeout = 30 * time.Second

type serveSettings struct {
	addr        string
	debugRoutes bool
	plotStore   string
}

func newServeCommand(root *rootSettings) *cobra.Command {
	s := &serveSettings{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve widget instances to renderers over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = s.addr
			}
			if cmd.Flags().Changed("debug-routes") {
				cfg.Server.DebugRoutes = s.debugRoutes
			}
			if cmd.Flags().Changed("plot-store") {
				cfg.PlotStore = s.plotStore
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&s.addr, "addr", "", "HTTP listen address")
	cmd.Flags().BoolVar(&s.debugRoutes, "debug-routes", false, "mount the /api/debug routes")
	cmd.Flags().StringVar(&s.plotStore, "plot-store", "", "sqlite file or DSN recording created plots")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	logger := log.Logger
	sessions := memory.NewService(memory.WithLogger(logger))
	editors := notebook.NewMemoryEditorService()

	var (
		channels messaging.Factory
		hub      *messaging.WebSocketHub
		backend  messaging.StreamBackend
	)
	switch cfg.Transport {
	case config.TransportWatermill:
		b, err := messaging.NewStreamBackend(cfg.Redis, helpers.NewWatermill(logger))
		if err != nil {
			return errors.Wrap(err, "build stream backend")
		}
		backend = b
		channels = messaging.NewWatermillFactory(srvCtx, backend, &logger)
	default:
		hub = messaging.NewWebSocketHub(messaging.WebSocketHubOptions{
			Logger:       &logger,
			WriteTimeout: cfg.Server.WriteTimeout,
		})
		channels = hub
	}

	plots, err := plotstore.Open(cfg.PlotStore)
	if err != nil {
		if backend != nil {
			_ = backend.Close()
		}
		return errors.Wrap(err, "open plot store")
	}

	registry, err := widgets.NewRegistry(widgets.RegistryConfig{
		Sessions:  sessions,
		Editors:   editors,
		Renderers: cfg.Renderers.Resolver(),
		Channels:  channels,
		Logger:    &logger,
		BaseCtx:   srvCtx,
	})
	if err != nil {
		_ = plots.Close()
		if backend != nil {
			_ = backend.Close()
		}
		return errors.Wrap(err, "create widget registry")
	}
	registry.OnDidCreatePlot(func(p *widgets.PlotClient) {
		md := p.Metadata()
		err := plots.Save(srvCtx, plotstore.Record{
			ID:          md.ID,
			ParentID:    md.ParentID,
			SessionID:   md.SessionID,
			Code:        md.Code,
			CreatedAtMs: md.Created,
		})
		if err != nil {
			log.Warn().Err(err).Str("plot_id", md.ID).Msg("failed to record plot")
		}
	})

	handler, err := widgetshttp.NewHandler(widgetshttp.Options{
		Registry:    registry,
		Hub:         hub,
		Plots:       plots,
		DebugRoutes: cfg.Server.DebugRoutes,
		Sessions:    sessions,
		Editors:     editors,
		Logger:      &logger,
	})
	if err != nil {
		_ = registry.Close()
		_ = plots.Close()
		if backend != nil {
			_ = backend.Close()
		}
		return errors.Wrap(err, "build http handler")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg := errgroup.Group{}
	eg.Go(func() error {
		<-srvCtx.Done()
		log.Info().Msg("shutting down widget bridge")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		var firstErr error
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			firstErr = err
		}
		// Disposing instances closes their channels before the backend goes.
		if err := registry.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if backend != nil {
			if err := backend.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := plots.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		log.Info().Msg("shutdown complete")
		return firstErr
	})
	eg.Go(func() error {
		defer srvCancel()
		log.Info().
			Str("addr", cfg.Server.Addr).
			Str("transport", cfg.Transport).
			Bool("debug_routes", cfg.Server.DebugRoutes).
			Msg("starting widget bridge")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server listen error")
			return err
		}
		return nil
	})

	return eg.Wait()
}
