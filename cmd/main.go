package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"homeintegrations/internal/api"
	"homeintegrations/internal/buienradar"
	"homeintegrations/internal/clock"
	"homeintegrations/internal/config"
	"homeintegrations/internal/integration"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const setupTimeout = 30 * time.Second

func main() {
	// Load environment variables before flags read them
	envErr := godotenv.Load()

	app := &cli.App{
		Name:  "homeintegrations",
		Usage: "drive Twinkly lights and Nefit boiler switches",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "integrations.yaml",
				Usage:   "integrations configuration file",
				EnvVars: []string{"INTEGRATIONS_CONFIG"},
			},
			&cli.IntFlag{
				Name:    "port",
				Value:   8081,
				Usage:   "HTTP API port",
				EnvVars: []string{"API_PORT"},
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "override the poll interval from the config file",
				EnvVars: []string{"POLL_INTERVAL"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "enable debug logging",
				EnvVars: []string{"DEBUG"},
			},
		},
		Action: func(c *cli.Context) error {
			logger, err := newLogger(c.Bool("debug"))
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logger.Sync()

			if envErr != nil {
				logger.Debug("No .env file found, using environment variables")
			}
			return run(c, logger)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(c *cli.Context, logger *zap.Logger) error {
	loader := config.NewLoader(c.String("config"), logger.Named("config"))
	if err := loader.Load(); err != nil {
		return err
	}

	interval := loader.PollInterval()
	if override := c.Duration("poll-interval"); override > 0 {
		interval = override
	}

	logger.Info("Starting home integrations",
		zap.String("config", loader.Path()),
		zap.Duration("poll_interval", interval),
		zap.Int("port", c.Int("port")))

	registry, err := integration.NewBuiltinRegistry(logger.Named("registry"))
	if err != nil {
		return err
	}

	ic := integration.NewContext(logger, loader, loader.RequestTimeout())
	manager := integration.NewManager(registry, ic, loader, clock.NewRealClock(), interval, logger.Named("manager"))

	setupCtx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	err = manager.Start(setupCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to start integrations: %w", err)
	}

	flow := buienradar.NewFlow(loader, loader.Home(), logger.Named(buienradar.Domain))
	server := api.NewServer(manager, flow, logger.Named("api"), c.Int("port"))
	if err := server.Start(); err != nil {
		return multierr.Append(err, manager.Stop())
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Application running. Press Ctrl+C to exit.")
	<-sigChan

	logger.Info("Shutting down gracefully...")
	return multierr.Combine(server.Stop(), manager.Stop())
}
