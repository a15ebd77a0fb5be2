package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"crypto-market/internal/api"
	"crypto-market/internal/engine"
	"crypto-market/internal/events"
	"crypto-market/internal/market"
	"crypto-market/internal/monitor"
	"crypto-market/internal/persistence"
	"crypto-market/pkg/config"
	"crypto-market/pkg/db"
	"crypto-market/pkg/i18n"
	"crypto-market/pkg/logger"
	"crypto-market/pkg/money"
)

const shutdownTimeout = 10 * time.Second

// app bundles the loaded config, logger and migrated ledger shared by all commands.
type app struct {
	cfg *config.Config
	log *logrus.Logger
	db  *db.Database
}

func setup() (*app, subcommands.ExitStatus) {
	cfg, err := config.Load()
	if err != nil {
		logrus.Errorf(i18n.Get("ConfigLoadFailed"), err)
		return nil, subcommands.ExitFailure
	}

	i18n.SetLanguage(i18n.Language(cfg.Language))
	log := logger.New(cfg.LogLevel)
	log.Info(i18n.Get("Starting"))
	log.Infof(i18n.Get("ConfigLoaded"), cfg.Port)
	log.Infof(i18n.Get("UsingDBPath"), cfg.DBPath)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Errorf(i18n.Get("DBInitFailed"), err)
		return nil, subcommands.ExitFailure
	}
	if err := db.ApplyMigrations(database); err != nil {
		log.Errorf(i18n.Get("DBMigrationsFailed"), err)
		_ = database.Close()
		return nil, subcommands.ExitFailure
	}
	log.Debug(i18n.Get("MigrationsApplied"))
	return &app{cfg: cfg, log: log, db: database}, subcommands.ExitSuccess
}

func (r *app) newEngine(bus *events.Bus, metrics *monitor.SystemMetrics) *engine.Impl {
	eng := engine.NewImpl(engine.Config{
		DB:              r.db,
		Bus:             bus,
		Metrics:         metrics,
		Logger:          r.log,
		RefreshInterval: r.cfg.PriceRefreshInterval,
		DefaultBalance:  r.cfg.DefaultBalance,
	})
	r.log.Infof(i18n.Get("EngineServiceInit"), r.cfg.PriceRefreshInterval, money.Format(r.cfg.DefaultBalance, r.cfg.Currency))
	return eng
}

// --- serveCmd ---

type serveCmd struct{}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "runs the HTTP API and the price drift loop" }
func (*serveCmd) Usage() string {
	return `serve

Starts the HTTP API on $PORT and drifts instrument prices every $PRICE_REFRESH_INTERVAL.
Instruments listed in $SEED_FILE are added first when the variable is set.
`
}
func (*serveCmd) SetFlags(*flag.FlagSet) {}

func (*serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	rt, status := setup()
	if rt == nil {
		return status
	}
	defer rt.db.Close()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()
	eng := rt.newEngine(bus, metrics)
	journal := persistence.NewJournal(rt.db, rt.log, 0, 0)
	journalDone := journal.Run(ctx, bus)

	if rt.cfg.SeedFile != "" {
		if err := seedFromFile(ctx, eng, rt.cfg.SeedFile, rt.log); err != nil {
			cancel()
			<-journalDone
			return subcommands.ExitFailure
		}
	}

	drifter := &market.Drifter{
		Engine:     eng,
		Interval:   rt.cfg.PriceRefreshInterval,
		MaxPercent: rt.cfg.DriftPercent,
		Metrics:    metrics,
		Logger:     rt.log,
	}
	driftDone := drifter.Start(ctx)

	server := api.NewServer(api.Config{
		Engine:         eng,
		Bus:            bus,
		Metrics:        metrics,
		Logger:         rt.log,
		Currency:       rt.cfg.Currency,
		Journal:        journal,
		RateLimitRPS:   rt.cfg.RateLimitRPS,
		RateLimitBurst: rt.cfg.RateLimitBurst,
	})
	serverErr := make(chan error, 1)
	go func() {
		rt.log.Infof(i18n.Get("ServerListening"), rt.cfg.Port)
		serverErr <- server.Start(":" + rt.cfg.Port)
	}()

	exit := subcommands.ExitSuccess
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			rt.log.Errorf(i18n.Get("APIServerError"), err)
			exit = subcommands.ExitFailure
		}
	}

	rt.log.Info(i18n.Get("ShuttingDown"))
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		rt.log.Errorf(i18n.Get("APIServerError"), err)
	}
	<-driftDone
	rt.log.Info(i18n.Get("DriftStopped"))
	<-journalDone
	rt.log.Info(i18n.Get("ShutdownComplete"))
	return exit
}

// --- migrateCmd ---

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "creates the ledger tables in $DB_PATH" }
func (*migrateCmd) Usage() string {
	return `migrate

Applies the ledger schema to $DB_PATH. Existing tables are left untouched.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	rt, status := setup()
	if rt == nil {
		return status
	}
	defer rt.db.Close()

	missing, err := db.VerifySchema(ctx, rt.db)
	if err != nil {
		rt.log.Errorf(i18n.Get("DBMigrationsFailed"), err)
		return subcommands.ExitFailure
	}
	if len(missing) > 0 {
		rt.log.Errorf(i18n.Get("DBMigrationsFailed"), fmt.Errorf("tables missing after migration: %v", missing))
		return subcommands.ExitFailure
	}
	rt.log.Info(i18n.Get("MigrationsApplied"))
	return subcommands.ExitSuccess
}

// --- clearCmd ---

type clearCmd struct {
	yes bool
}

func (*clearCmd) Name() string     { return "clear-db" }
func (*clearCmd) Synopsis() string { return "deletes every user, instrument, position and operation" }
func (*clearCmd) Usage() string {
	return `clear-db -yes

Empties all ledger tables in one transaction. The schema is kept.
`
}
func (c *clearCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.yes, "yes", false, "Confirm that all ledger data should be deleted.")
}

func (c *clearCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !c.yes {
		logrus.Error("clear-db deletes all data; pass -yes to confirm")
		return subcommands.ExitUsageError
	}
	rt, status := setup()
	if rt == nil {
		return status
	}
	defer rt.db.Close()

	if err := rt.newEngine(nil, nil).ClearAll(ctx); err != nil {
		rt.log.Errorf(i18n.Get("ClearFailed"), err)
		return subcommands.ExitFailure
	}
	rt.log.Info(i18n.Get("DatabaseCleared"))
	return subcommands.ExitSuccess
}

// --- seedCmd ---

type seedCmd struct {
	file string
}

func (*seedCmd) Name() string     { return "seed" }
func (*seedCmd) Synopsis() string { return "adds the instruments listed in a YAML file" }
func (*seedCmd) Usage() string {
	return `seed [-file <instruments.yaml>]

Adds every instrument from the file that is not listed yet. Defaults to $SEED_FILE.
`
}
func (c *seedCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "file", "", "Path to the seed YAML file (overrides $SEED_FILE).")
}

func (c *seedCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	rt, status := setup()
	if rt == nil {
		return status
	}
	defer rt.db.Close()

	path := c.file
	if path == "" {
		path = rt.cfg.SeedFile
	}
	if path == "" {
		rt.log.Error("no seed file given; use -file or set SEED_FILE")
		return subcommands.ExitUsageError
	}
	if err := seedFromFile(ctx, rt.newEngine(nil, nil), path, rt.log); err != nil {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
