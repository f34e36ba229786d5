package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vedran77/pulsesync/internal/config"
	"github.com/vedran77/pulsesync/internal/database"
	"github.com/vedran77/pulsesync/internal/logger"
	"github.com/vedran77/pulsesync/internal/metrics"
	postgresrepo "github.com/vedran77/pulsesync/internal/repository/postgres"
	"github.com/vedran77/pulsesync/internal/service"
	"github.com/vedran77/pulsesync/internal/transport/http/api"
	"github.com/vedran77/pulsesync/internal/transport/http/handlers"
	"github.com/vedran77/pulsesync/internal/transport/http/middleware"
	"github.com/vedran77/pulsesync/internal/transport/ws"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive session",
	Long: `Resumes the cookie session when one exists, otherwise logs in with
--username and the password from --password or PULSESYNC_PASSWORD.
Type "help" at the prompt for the available commands.`,
	RunE: runSession,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("username", "u", "", "log in as this user")
	runCmd.Flags().StringP("password", "p", "", "password (defaults to $PULSESYNC_PASSWORD)")
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Metrics
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// Transport
	client, err := api.New(cfg.APIURL, log.Named("api"))
	if err != nil {
		return err
	}
	client.SetRefreshHook(m.Refresh)
	channel := ws.NewChannel(ws.Options{
		URL:       cfg.WSURL,
		Jar:       client.Jar(),
		SendRate:  rate.Limit(cfg.SendRate),
		SendBurst: cfg.SendBurst,
		Logger:    log.Named("ws"),
	})

	// Engine
	engine := service.NewEngine(client, channel, service.EngineConfig{
		PageSize:        cfg.PageSize,
		SeenCapacity:    cfg.SeenCapacity,
		RefreshInterval: cfg.RefreshInterval,
	}, log)
	engine.SetMetrics(m)

	if cfg.ArchiveDSN != "" {
		pool, err := database.Connect(ctx, cfg.ArchiveDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		engine.SetArchive(postgresrepo.NewArchiveRepo(pool))
		log.Info("archiving messages")
	}

	// Local status API
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		handlers.NewStateHandler(engine, log.Named("status")).Routes(mux, middleware.Token(cfg.StatusToken))
		go serveStatus(ctx, cfg.MetricsAddr, mux, log)
	}

	sh := newShell(engine, cmd.InOrStdin(), cmd.OutOrStdout())
	engine.Session().SetRedirect(sh.onRedirect)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error {
		defer cancel()
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			password = os.Getenv("PULSESYNC_PASSWORD")
		}
		if err := sh.begin(gctx, username, password); err != nil {
			return err
		}
		return sh.loop(gctx)
	})

	err = g.Wait()
	engine.Session().Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveStatus(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving status API", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("status server failed", zap.Error(err))
	}
}
