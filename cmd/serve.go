package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/linescout/internal/bus"
	"github.com/nextlevelbuilder/linescout/internal/channels/telegram"
	"github.com/nextlevelbuilder/linescout/internal/config"
	"github.com/nextlevelbuilder/linescout/internal/gateway"
	httpapi "github.com/nextlevelbuilder/linescout/internal/http"
	"github.com/nextlevelbuilder/linescout/internal/session"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := initTracing(ctx, cfg)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	mb := bus.New()
	store := session.NewStore()
	machine := session.NewMachine(store, newEngine(cfg))
	gw := gateway.New(mb, machine, gatewayConfig(cfg))

	tg, err := telegram.New(telegramConfig(cfg), mb)
	if err != nil {
		return err
	}
	if err := tg.Start(ctx); err != nil {
		return fmt.Errorf("%s: %w", formatStartupError(err), err)
	}

	if w := watchConfig(resolveConfigPath(), cfg, gw, tg); w != nil {
		defer w.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gw.Run(gctx) })

	if addr := cfg.ListenAddr(); addr != "" {
		mux := http.NewServeMux()
		httpapi.NewHealthHandler(Version, gw).RegisterRoutes(mux)
		g.Go(func() error { return httpapi.Serve(gctx, addr, mux) })
	}

	slog.Info("linescout started", "version", Version, "queue_mode", cfg.Gateway.QueueMode, "health_addr", cfg.ListenAddr())
	err = g.Wait()
	slog.Info("linescout stopped")
	return err
}

// watchConfig applies log level, rate limit and progress throttle changes
// without a restart. It returns nil when the file does not exist.
func watchConfig(path string, cfg *config.Config, gw *gateway.Gateway, tg *telegram.Channel) *config.Reloader {
	if _, err := os.Stat(path); err != nil {
		slog.Debug("config file not found, hot reload disabled", "path", path)
		return nil
	}

	w, err := config.NewReloader(path, cfg)
	if err != nil {
		slog.Warn("config watcher unavailable", "error", err)
		return nil
	}
	w.OnChange(func(live config.LiveSettings) {
		if !verbose {
			config.ApplyLogLevel(live.LogLevel)
		}
		gw.SetRateLimit(live.RatePerMinute, live.RateBurst)
		tg.SetProgressThrottle(live.ProgressThrottle)
	})
	if err := w.Start(); err != nil {
		slog.Warn("config watcher failed to start", "error", err)
		return nil
	}
	return w
}
