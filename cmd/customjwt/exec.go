package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
	"github.com/atlanticdynamic/customjwt/internal/fancy"
	"github.com/atlanticdynamic/customjwt/internal/logging"
	"github.com/atlanticdynamic/customjwt/internal/sandbox"
	"github.com/atlanticdynamic/customjwt/internal/sandbox/javascript"
	"github.com/atlanticdynamic/customjwt/internal/sandbox/starlark"
)

var execCmd = &cli.Command{
	Name:  "exec",
	Usage: "Run a customizer script locally and print the claims it returns",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "token-type",
			Aliases:  []string{"t"},
			Usage:    "Token type (access-token, client-credentials, id-token)",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "script",
			Aliases:  []string{"s"},
			Usage:    "Path to the script file",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "runtime",
			Usage: "Script runtime; inferred from a .star extension when not set",
		},
		&cli.StringFlag{
			Name:  "token",
			Usage: "Path to a JSON file with the draft token claims",
		},
		&cli.StringFlag{
			Name:  "context",
			Usage: "Path to a JSON file with the user context (access tokens only)",
		},
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Environment variable exposed to the script, as KEY=VALUE (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "deadline",
			Usage: "Execution deadline",
			Value: sandbox.DefaultDeadline,
		},
		&cli.BoolFlag{
			Name:  "no-fetch",
			Usage: "Do not expose fetch to the script",
		},
	},
	Action: execAction,
}

func execAction(ctx context.Context, cmd *cli.Command) error {
	payload, err := buildPayload(cmd)
	if err != nil {
		return cli.Exit(err, 1)
	}

	level := cmd.String("log-level")
	if level == "" {
		level = "warn"
	}
	if err := logging.ValidateLevel(level); err != nil {
		return cli.Exit(err, 1)
	}
	logging.SetupLogger(level)
	handler := slog.Default().Handler()

	var caps sandbox.Capabilities
	if !cmd.Bool("no-fetch") {
		caps.Fetch = sandbox.NewFetcher()
	}
	exec, err := newExecutor(cmd.Duration("deadline"), caps, handler)
	if err != nil {
		return cli.Exit(err, 1)
	}

	claims, err := exec.Execute(ctx, payload)
	if err != nil {
		printScriptError(cmd.Root().ErrWriter, err)
		return cli.Exit("", 1)
	}
	return printClaims(cmd.Root().Writer, claims)
}

func newExecutor(deadline time.Duration, caps sandbox.Capabilities, handler slog.Handler) (*sandbox.Executor, error) {
	return sandbox.NewExecutor(
		sandbox.WithEngine(javascript.New(javascript.WithLogHandler(handler))),
		sandbox.WithEngine(starlark.New(starlark.WithLogHandler(handler))),
		sandbox.WithDeadline(deadline),
		sandbox.WithCapabilities(caps),
		sandbox.WithLogHandler(handler),
	)
}

func buildPayload(cmd *cli.Command) (sandbox.Payload, error) {
	key, err := customizer.ParseTokenKey(cmd.String("token-type"))
	if err != nil {
		return sandbox.Payload{}, err
	}

	scriptPath := cmd.String("script")
	source, err := os.ReadFile(scriptPath)
	if err != nil {
		return sandbox.Payload{}, fmt.Errorf("failed to read script: %w", err)
	}

	runtime := customizer.RuntimeJavaScript
	if strings.HasSuffix(scriptPath, ".star") {
		runtime = customizer.RuntimeStarlark
	}
	if r := cmd.String("runtime"); r != "" {
		if runtime, err = customizer.ParseRuntime(r); err != nil {
			return sandbox.Payload{}, err
		}
	}

	p := sandbox.Payload{
		Script:    string(source),
		Runtime:   runtime,
		TokenType: key,
		Token:     map[string]any{},
	}
	if path := cmd.String("token"); path != "" {
		if p.Token, err = readJSONObject(path); err != nil {
			return sandbox.Payload{}, err
		}
	}
	if path := cmd.String("context"); path != "" {
		if p.Context, err = readJSONObject(path); err != nil {
			return sandbox.Payload{}, err
		}
	}
	if p.EnvironmentVariables, err = parseEnv(cmd.StringSlice("env")); err != nil {
		return sandbox.Payload{}, err
	}
	return p, nil
}

func readJSONObject(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s must hold a JSON object: %w", path, err)
	}
	return out, nil
}

func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", pair)
		}
		env[k] = v
	}
	return env, nil
}

func printClaims(w io.Writer, claims map[string]any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(claims)
}

func printScriptError(w io.Writer, err error) {
	body := sandbox.NewErrorBody(err)
	fmt.Fprintf(w, "%s %s\n", fancy.ErrorText(sandbox.KindName(err)), body.Message)
	for _, line := range body.Errors {
		fmt.Fprintf(w, "  %s\n", line)
	}
}
