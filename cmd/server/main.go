// Package main is the entry point for the Helmsman tax-aware rebalancing
// service. It loads configuration, opens the four databases, wires the
// planning engine and its repositories, and serves the HTTP API alongside
// the background scheduler.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/modules/drift"
	drifthandlers "github.com/aristath/helmsman/internal/modules/drift/handlers"
	"github.com/aristath/helmsman/internal/modules/history"
	historyhandlers "github.com/aristath/helmsman/internal/modules/history/handlers"
	"github.com/aristath/helmsman/internal/modules/lots"
	"github.com/aristath/helmsman/internal/modules/planner"
	plannerhandlers "github.com/aristath/helmsman/internal/modules/planner/handlers"
	"github.com/aristath/helmsman/internal/modules/policy"
	policyhandlers "github.com/aristath/helmsman/internal/modules/policy/handlers"
	"github.com/aristath/helmsman/internal/modules/snapshots"
	"github.com/aristath/helmsman/internal/modules/universe"
	universehandlers "github.com/aristath/helmsman/internal/modules/universe/handlers"
	"github.com/aristath/helmsman/internal/modules/washsale"
	"github.com/aristath/helmsman/internal/scheduler"
	"github.com/aristath/helmsman/internal/server"
	"github.com/aristath/helmsman/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting Helmsman")

	// Four-database layout: reference data, policies, mutable portfolio
	// state and the append-only ledger each get their own file.
	universeDB := mustOpen(log, database.Config{Path: cfg.DatabasePath("universe"), Profile: database.ProfileStandard, Name: "universe"})
	configDB := mustOpen(log, database.Config{Path: cfg.DatabasePath("config"), Profile: database.ProfileStandard, Name: "config"})
	portfolioDB := mustOpen(log, database.Config{Path: cfg.DatabasePath("portfolio"), Profile: database.ProfileStandard, Name: "portfolio"})
	ledgerDB := mustOpen(log, database.Config{Path: cfg.DatabasePath("ledger"), Profile: database.ProfileLedger, Name: "ledger"})
	defer func() {
		for _, db := range []*database.DB{universeDB, configDB, portfolioDB, ledgerDB} {
			if err := db.Close(); err != nil {
				log.Error().Err(err).Str("database", db.Name()).Msg("Failed to close database")
			}
		}
	}()

	// Repositories
	securityRepo := universe.NewSecurityRepository(universeDB.Conn(), log)
	policyRepo := policy.NewPolicyRepository(configDB.Conn(), log)
	holdingsRepo := snapshots.NewHoldingsRepository(portfolioDB.Conn(), securityRepo, log)
	transactionRepo := history.NewTransactionRepository(ledgerDB.Conn(), log)
	planRepo := planner.NewPlanRepository(portfolioDB.Conn(), log)

	// Engine
	evaluator := drift.NewEvaluator(log)
	reporter := drift.NewReporter(holdingsRepo, policyRepo, evaluator, log)
	plannerSvc := planner.NewService(
		holdingsRepo,
		securityRepo,
		policyRepo,
		lots.NewSelector(log),
		washsale.NewClassifier(transactionRepo, securityRepo, log),
		evaluator,
		log,
	)

	if cfg.PolicyFile != "" {
		p, err := policy.ImportFile(cfg.PolicyFile, policyRepo)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.PolicyFile).Msg("Failed to import policy file")
		}
		log.Info().Str("policy_id", p.ID).Msg("Policy imported")
		if cfg.DefaultPolicy == "" {
			cfg.DefaultPolicy = p.ID
		}
	}

	// Background jobs
	sched := scheduler.New(log)
	if cfg.DefaultPolicy != "" {
		if err := sched.AddJob(cfg.DriftRefresh, scheduler.NewDriftRefreshJob(reporter, cfg.DefaultPolicy, log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register drift refresh job")
		}
	}
	if err := sched.AddJob("@daily", scheduler.NewPlanPruneJob(planRepo, cfg.PlanRetention, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register plan prune job")
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:              log,
		Config:           cfg,
		PlanHandlers:     plannerhandlers.NewPlanHandlers(plannerSvc, planRepo, cfg.Planner, cfg.DefaultPolicy, log),
		DriftHandlers:    drifthandlers.NewDriftHandlers(reporter, cfg.DefaultPolicy, log),
		PolicyHandlers:   policyhandlers.NewPolicyHandlers(policyRepo, log),
		UniverseHandlers: universehandlers.NewUniverseHandlers(securityRepo, log),
		HistoryHandlers:  historyhandlers.NewHistoryHandlers(transactionRepo, log),
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

// mustOpen opens and migrates a database, exiting on failure.
func mustOpen(log zerolog.Logger, cfg database.Config) *database.DB {
	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("database", cfg.Name).Msg("Failed to open database")
	}
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Str("database", cfg.Name).Msg("Failed to migrate database")
	}
	return db
}
