package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/atlanticdynamic/customjwt/cmd/customjwt/server"
	"github.com/atlanticdynamic/customjwt/internal/config"
	"github.com/atlanticdynamic/customjwt/internal/logging"
)

var serverCmd = &cli.Command{
	Name:  "server",
	Usage: "Start the customjwt server",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Path to TOML configuration file",
			Aliases: []string{"c"},
		},
		&cli.StringFlag{
			Name:  "env-file",
			Usage: "Path to a .env file loaded before the configuration is read",
			Value: ".env",
		},
	},
	Action: serverAction,
}

func serverAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	if configPath == "" {
		return cli.Exit("the --config flag is required", 1)
	}

	envFile := cmd.String("env-file")
	if err := config.LoadEnvFile(envFile, cmd.IsSet("env-file")); err != nil {
		return cli.Exit(err, 1)
	}

	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to load config: %w", err), 1)
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.Log.Level = level
	}

	handler, closeLog, err := openLog(cfg.Log)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer func() { _ = closeLog() }()
	slog.SetDefault(slog.New(handler))

	if err := server.Run(ctx, cfg, cmd.Root().Version, handler); err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}

func openLog(cfg config.LogConfig) (slog.Handler, func() error, error) {
	w, closeFn, err := logging.OpenOutput(cfg.Output)
	if err != nil {
		return nil, nil, err
	}
	handler, err := logging.NewHandler(cfg.Format, cfg.Level, w)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return handler, closeFn, nil
}
