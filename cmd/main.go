package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"

	"gameRoster/cmd/buildCFG"
	"gameRoster/internal/allocator"
	"gameRoster/internal/api/api"
	rabbitReader "gameRoster/internal/consumerWorker"
	"gameRoster/internal/hub"
	"gameRoster/internal/metrics"
	"gameRoster/internal/rabbit"
	"gameRoster/internal/repo"
	"gameRoster/internal/service"
)

func main() {
	zlog.Init()
	log := zlog.Logger

	cfg := config.New()
	if err := cfg.Load("config.yaml", "", "ROSTER"); err != nil {
		log.Fatal().Msgf("failed to load configuration: %v", err)
	}
	serverCfg := buildCFG.BuildServerConfig(cfg, &log)
	authCfg, err := buildCFG.BuildAuthConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build auth config")
	}
	storageCfg, err := buildCFG.BuildStorageConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build storage config")
	}
	rabbitCfg, err := buildCFG.BuildRabbitConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load RabbitMQ config")
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	m := metrics.New(&log)

	var (
		repository    repo.Repository
		migrationPath string
	)
	switch storageCfg.Driver {
	case buildCFG.DriverMemory:
		repository = repo.NewMemory()
		log.Warn().Msg("using in-memory storage, data is lost on restart")
	default:
		db := connectDB(cfg, &log)
		repository, err = repo.NewRepository(db, &log)
		if err != nil {
			log.Fatal().Msgf("failed to initialize repository: %v", err)
		}

		migrationPath = storageCfg.MigrationsDir
		if !filepath.IsAbs(migrationPath) {
			cwd, err := os.Getwd()
			if err != nil {
				log.Fatal().Err(err).Msg("cannot get working directory")
			}
			migrationPath = filepath.Join(cwd, migrationPath)
		}
		if err := repository.MigrateUp(migrationPath); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		log.Info().Msg("Migrations applied successfully")

		go collectDBStats(workerCtx, db, m, storageCfg.StatsRefreshPeriod)
	}

	observers := hub.New(&log)
	go observers.Run(workerCtx)

	var (
		notifier allocator.Notifier = observers
		reader   *rabbitReader.Reader
	)
	if rabbitCfg.Enabled {
		rmq, err := rabbit.NewRabbit(rabbitCfg.Url, rabbitCfg.Exchange, rabbitCfg.Queue)
		if err != nil {
			log.Fatal().Msgf("Failed to connect to RabbitMQ: %v", err)
		}
		defer rmq.Close()

		// Every instance consumes the fanout exchange, its own changes included.
		notifier = rabbit.NewRosterPublisher(rmq)
		reader = rabbitReader.NewReader(rmq, observers)
		reader.Start(workerCtx)
	}

	engine := allocator.New(repository, notifier, &log, allocator.WithRecorder(m))
	serviceInstance := service.NewService(engine, observers, &log)
	app := api.NewRouters(&api.Routers{
		Service:   serviceInstance,
		Metrics:   m,
		JWTSecret: authCfg.JWTSecret,
		Mode:      serverCfg.Mode,
	})

	srv := &http.Server{
		Addr:              ":" + serverCfg.Port,
		Handler:           app,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting server on %s", serverCfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		log.Info().Msgf("Received signal %s. Initiating shutdown...", sig)
	case err := <-serverErrChan:
		log.Error().Msgf("Server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Msgf("Error shutting down server: %v", err)
	}

	if reader != nil {
		reader.Stop()
	}
	cancelWorkers()

	if storageCfg.DropOnShutdown && migrationPath != "" {
		log.Info().Msg("Rolling back migrations...")
		if err := repository.MigrateDown(migrationPath); err != nil {
			log.Error().Msgf("failed to rollback migrations: %v", err)
		} else {
			log.Info().Msg("Migrations rolled back successfully")
		}
	}
	log.Info().Msg("Shutdown complete")
}

func connectDB(cfg buildCFG.Source, log *zerolog.Logger) *dbpg.DB {
	masterDSN, slaveDSNs, poolOptions, err := buildCFG.BuildDBConfig(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build DB config")
	}
	db, err := dbpg.New(masterDSN, slaveDSNs, poolOptions)
	if err != nil {
		log.Fatal().Msgf("failed to connect to DB: %v", err)
	}
	if err := db.Master.Ping(); err != nil {
		log.Fatal().Msgf("DB ping failed: %v", err)
	}
	log.Info().Msg("Database connected successfully")
	return db
}

func collectDBStats(ctx context.Context, db *dbpg.DB, m *metrics.Metrics, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		m.UpdateDBStats(db.Master.Stats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
