package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "customjwt",
		Version: Version,
		Usage:   "Run and manage custom JWT claims scripts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (trace, debug, info, warn, error); overrides the config file",
				Sources: cli.EnvVars("CUSTOMJWT_LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			serverCmd,
			validateCmd,
			execCmd,
			versionCmd,
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
