package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	cfgpkg "github.com/intranda/goobi-plugin-step-reorder-images/internal/config"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/dispatcher"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/fsops"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/limiter"
	logpkg "github.com/intranda/goobi-plugin-step-reorder-images/internal/logger"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/metrics"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/orchestrator"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/pluginconf"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/queue"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/reorder"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/report"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/statuscheck"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/store"
)

func main() {
	cfgpkg.LoadDotEnv()
	cfg := cfgpkg.FromEnv()

	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()
	metrics.Init()

	rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.DLQ)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rq.Close()

	rs, err := store.NewRedisStatus(cfg.Queue.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init redis status store")
	}
	defer rs.Close()

	ps, err := store.NewPageStore(cfg.Queue.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init page store")
	}
	defer ps.Close()

	orch := orchestrator.New(orchestrator.Dependencies{
		Queue:   rq,
		Status:  orchestrator.NewStatusAdapter(rs),
		Logs:    rs,
		Pages:   ps,
		Checker: statuscheck.New(statuscheck.Options{Redis: rq, ImagesRoot: cfg.Reorder.ImagesRoot}),
		Metrics: metrics.Handler(),
	})

	var disp *dispatcher.Worker
	if cfg.Worker.Run {
		plugin, err := loadPlugin(cfg.Reorder.PluginConfig)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Reorder.PluginConfig).Msg("invalid plugin configuration")
		}
		engine := reorder.New(fsops.NewLocal(), report.Store{Logs: rs})
		disp = dispatcher.New(dispatcher.Config{
			Concurrency:    cfg.Worker.Concurrency,
			DequeueTimeout: cfg.Worker.DequeueTimeout,
			JobTimeout:     cfg.Worker.JobTimeout,
			Plugin:         plugin,
			DefaultProject: cfg.Reorder.Project,
			DefaultStep:    cfg.Reorder.Step,
		}, dispatcher.Deps{
			Queue:  rq,
			Status: rs,
			Pages:  ps,
			Lease:  limiter.NewWithClient(rq.Client(), cfg.Worker.LeaseTTL),
			Engine: engine,
		})
		disp.Start()
	}

	srv := &http.Server{Addr: ":" + cfg.HTTP.Port, Handler: orch.Handler()}
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if disp != nil {
		if err := disp.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("dispatcher did not stop in time")
		}
	}
	fmt.Println("shutdown complete")
}

// loadPlugin reads the plugin configuration. A missing file means every
// job runs with the plugin defaults.
func loadPlugin(path string) (*pluginconf.File, error) {
	if path == "" {
		return nil, nil
	}
	f, err := pluginconf.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("plugin configuration not found, using defaults")
		return nil, nil
	}
	return f, err
}
