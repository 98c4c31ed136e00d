// Command optimizer computes walk-forward contract allocations for a
// portfolio of trading strategies.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratalloc/internal/api"
	"github.com/ajitpratap0/stratalloc/internal/config"
	"github.com/ajitpratap0/stratalloc/internal/metrics"
	"github.com/ajitpratap0/stratalloc/internal/pipeline"
	"github.com/ajitpratap0/stratalloc/internal/scheduler"
	"github.com/ajitpratap0/stratalloc/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	once := flag.Bool("once", false, "Run a single optimization even when a schedule is configured")
	clearCache := flag.Bool("clear-cache", false, "Remove cached window results and exit")
	skipChecks := flag.Bool("skip-checks", false, "Skip backing service connectivity checks")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		fmt.Fprintln(flag.CommandLine.Output(), "\nFlags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(config.GetVersion())
		return
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := applyArgs(cfg, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		flag.Usage()
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	scheduled := cfg.Schedule.Enabled && !*once && flag.NArg() == 0
	os.Exit(run(cfg, scheduled, *clearCache, *skipChecks))
}

func run(cfg *config.Config, scheduled, clearCache, skipChecks bool) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("version", config.Version).
		Str("environment", cfg.App.Environment).
		Bool("realtime", cfg.Run.Realtime).
		Bool("scheduled", scheduled).
		Msg("Starting StratAlloc optimizer")

	tp, err := telemetry.Init(telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceVersion: config.Version,
		Environment:    cfg.App.Environment,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracing")
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	opts := config.DefaultValidatorOptions()
	opts.VerifyConnectivity = !skipChecks
	if !clearCache {
		if err := config.NewValidator(cfg, opts).ValidateStartup(ctx); err != nil {
			log.Error().Err(err).Msg("Startup validation failed")
			return 1
		}
	}

	svc, err := connectServices(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect services")
		return 1
	}
	defer svc.close(context.Background())

	if clearCache {
		if svc.cache == nil {
			log.Error().Msg("Redis cache is not enabled")
			return 1
		}
		n, err := svc.cache.Clear(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to clear cache")
			return 1
		}
		log.Info().Int("removed", n).Msg("Window cache cleared")
		return 0
	}

	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort, log.Logger)
		if err := metricsServer.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start metrics server")
			return 1
		}
		defer shutdown("metrics server", metricsServer.Shutdown)

		if svc.runs != nil {
			updater := metrics.NewUpdater(svc.runs, 30*time.Second)
			go updater.Start(ctx)
			defer updater.Stop()
		}
	}

	runner := pipeline.NewRunner(cfg, svc.pipelineOptions()...)

	if !scheduled {
		if _, err := runner.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Optimization failed")
			return 1
		}
		return 0
	}

	return serve(ctx, cfg, svc, runner)
}

// serve runs the optimizer on its schedule and exposes the API until a
// signal arrives.
func serve(ctx context.Context, cfg *config.Config, svc *services, runner *pipeline.Runner) int {
	sched := scheduler.New(ctx, log.Logger)
	job := scheduler.JobFunc{
		JobName: "optimize",
		Fn: func(ctx context.Context) error {
			_, err := runner.Run(ctx)
			return err
		},
	}
	if err := sched.AddJob(cfg.Schedule.Cron, job); err != nil {
		log.Error().Err(err).Msg("Failed to schedule optimization")
		return 1
	}
	sched.Start()
	defer sched.Stop()

	serverErrors := make(chan error, 1)
	if cfg.API.Enabled {
		if svc.database == nil {
			log.Warn().Msg("API requires the database; not starting it")
		} else {
			apiCfg := api.Config{
				Host:           cfg.API.Host,
				Port:           cfg.API.Port,
				Allocations:    svc.allocations,
				Runs:           svc.runs,
				Health:         svc.database.Health,
				RequestsPerSec: cfg.API.RequestsPerSec,
				Burst:          cfg.API.Burst,
			}
			if svc.archive != nil {
				apiCfg.Archive = svc.archive
			}
			server := api.NewServer(apiCfg)
			go func() {
				serverErrors <- server.Start()
			}()
			defer shutdown("api server", server.Stop)
		}
	}

	log.Info().Str("cron", cfg.Schedule.Cron).Msg("Optimizer scheduled")

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error().Err(err).Msg("API server error")
			return 1
		}
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	}
	return 0
}

func shutdown(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Str("component", name).Msg("Shutdown failed")
	}
}
