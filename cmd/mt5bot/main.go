package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"mt5bot/internal/application/port"
	"mt5bot/internal/infrastructure/config"
	"mt5bot/internal/infrastructure/logger"
	filestore "mt5bot/internal/infrastructure/storage/file"
	sqliterepo "mt5bot/internal/infrastructure/storage/sqlite"
	"mt5bot/internal/infrastructure/svc"
	"mt5bot/internal/interfaces/console"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "mt5bot",
		Usage:   "position lifecycle and order management for MT5 strategies",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "configs/config.toml", Usage: "path to config.toml", EnvVars: []string{"MT5BOT_CONFIG"}},
			&cli.StringFlag{Name: "env", Value: ".env", Usage: "dotenv file overlaid on the environment"},
			&cli.StringFlag{Name: "log-level", Usage: "overrides app.log_level"},
			&cli.BoolFlag{Name: "json", Usage: "json log output"},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start the lifecycle engine and signal producers",
				Action: runTrader,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "events", Value: true, Usage: "print lifecycle events to stdout"},
					&cli.BoolFlag{Name: "color", Value: true, Usage: "colorize printed events"},
				},
			},
			{
				Name:   "check",
				Usage:  "Validate the config and print a summary",
				Action: checkConfig,
			},
			{
				Name:  "inspect",
				Usage: "Read persisted state without starting the engine",
				Subcommands: []*cli.Command{
					{
						Name:   "positions",
						Usage:  "List tracked positions from the last snapshot",
						Action: inspectPositions,
					},
					{
						Name:   "strategies",
						Usage:  "List per-strategy learning state",
						Action: inspectStrategies,
					},
					{
						Name:   "outcomes",
						Usage:  "List journaled trade outcomes (sqlite backend only)",
						Action: inspectOutcomes,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "strategy", Usage: "filter by strategy"},
							&cli.IntFlag{Name: "limit", Value: 50},
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads .env then the TOML config and installs the logger.
func loadConfig(cCtx *cli.Context) (*config.Config, error) {
	if err := config.LoadDotEnv(cCtx.String("env")); err != nil {
		return nil, err
	}
	path := cCtx.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	level := cfg.App.LogLevel
	if l := cCtx.String("log-level"); l != "" {
		level = l
	}
	logger.Setup(level, cCtx.Bool("json"))
	return cfg, nil
}

func runTrader(cCtx *cli.Context) error {
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg, svc.Options{Console: cCtx.Bool("events"), Color: cCtx.Bool("color")})
	if err != nil {
		return err
	}
	defer func() {
		if err := sc.Close(); err != nil {
			log.Error().Err(err).Msg("close resources failed")
		}
	}()

	log.Info().
		Str("config", cCtx.String("config")).
		Str("broker", cfg.Broker.Kind).
		Str("storage", cfg.Storage.Backend).
		Int("strategies", len(cfg.Strategies)).
		Msg("mt5bot started")

	if err := sc.Trader().Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func checkConfig(cCtx *cli.Context) error {
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return err
	}
	deps, err := svc.AppDeps(cfg)
	if err != nil {
		return err
	}
	fmt.Printf("broker:      %s\n", cfg.Broker.Kind)
	fmt.Printf("storage:     %s\n", cfg.Storage.Backend)
	fmt.Printf("signals:     %s\n", cfg.Signals.Source)
	fmt.Printf("tick:        %s\n", deps.Engine.TickInterval)
	fmt.Printf("policies:    %v\n", deps.Policies.Strategies())
	fmt.Printf("producers:   %d\n", len(svc.Producers(cfg)))
	fmt.Println("config ok")
	return nil
}

// openState opens the configured state store read-side; the sqlite repo is returned
// separately so outcome queries can use it.
func openState(cfg *config.Config) (port.StateStore, *sqliterepo.Repo, error) {
	if cfg.Storage.Backend == "sqlite" {
		repo, err := sqliterepo.New(cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo, nil
	}
	fs, err := filestore.New(cfg.Storage.StateDir)
	if err != nil {
		return nil, nil, err
	}
	return fs, nil, nil
}

func inspectPositions(cCtx *cli.Context) error {
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return err
	}
	st, _, err := openState(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	positions, err := st.LoadSnapshot(cCtx.Context)
	if err != nil {
		return err
	}
	return console.WritePositions(os.Stdout, positions, time.Now())
}

func inspectStrategies(cCtx *cli.Context) error {
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return err
	}
	st, _, err := openState(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	params, err := st.ListParams(cCtx.Context)
	if err != nil {
		return err
	}
	sort.Slice(params, func(i, j int) bool { return params[i].StrategyName < params[j].StrategyName })
	return console.WriteStrategies(os.Stdout, params)
}

func inspectOutcomes(cCtx *cli.Context) error {
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return err
	}
	st, repo, err := openState(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if repo == nil {
		return errors.New("outcome journal requires storage.backend = \"sqlite\"")
	}

	outcomes, err := repo.ListOutcomes(cCtx.Context, cCtx.String("strategy"), cCtx.Int("limit"))
	if err != nil {
		return err
	}
	return console.WriteOutcomes(os.Stdout, outcomes)
}
