package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/api"
	"fenrir/internal/config"
	"fenrir/internal/engine"
	"fenrir/internal/logging"
	"fenrir/internal/metrics"
	"fenrir/internal/repository"
	"fenrir/internal/snapshot"
	"fenrir/internal/ws"
)

func main() {
	logging.Init(envOr("FENRIR_LOG_LEVEL", "info"), os.Getenv("FENRIR_LOG_PRETTY") == "true")

	cfg, err := config.Load(os.Getenv("FENRIR_CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	repo, closeRepo := openRepository(ctx, cfg.Postgres.DSN)
	defer closeRepo()

	eng := engine.New(repo, engine.Config{
		QueueDepth:      cfg.Engine.QueueDepth,
		DefaultDeadline: cfg.Engine.DefaultDeadline,
		MaxCommitTries:  cfg.Engine.MaxCommitTries,
	})
	if err := eng.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("recovering active orders")
	}

	mx := metrics.New(prometheus.DefaultRegisterer)
	eng.SetMetrics(mx)

	t, _ := tomb.WithContext(ctx)
	eng.Start(ctx, t)

	snap := snapshot.New(eng, repo)
	hub := ws.New(snap)
	srv := api.New(eng, snap)

	r := srv.Router()
	r.GET("/metrics", gin.WrapH(mx.Handler()))
	r.GET("/ws/snapshot", gin.WrapF(hub.ServeSnapshot))
	r.GET("/ws/trades", gin.WrapF(hub.ServeTrades))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	t.Go(func() error {
		log.Info().Str("addr", httpSrv.Addr).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	t.Go(func() error {
		<-t.Dying()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	<-ctx.Done()
	t.Kill(nil)
	if err := t.Wait(); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

func openRepository(ctx context.Context, dsn string) (repository.Repository, func()) {
	if dsn == "" {
		log.Warn().Msg("no postgres dsn configured, using in-memory repository")
		return repository.NewMemory(), func() {}
	}
	pg, err := repository.Open(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to postgres")
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			log.Error().Err(err).Msg("closing postgres connection")
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
