package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/atlanticdynamic/customjwt/internal/config"
	"github.com/atlanticdynamic/customjwt/internal/customizer"
	"github.com/atlanticdynamic/customjwt/internal/fancy"
	"github.com/atlanticdynamic/customjwt/internal/store/memory"
)

const scriptPreviewLength = 60

var validateCmd = &cli.Command{
	Name:    "validate",
	Aliases: []string{"lint"},
	Usage:   "Validate a configuration file",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "tree",
			Aliases: []string{"t"},
			Usage:   "Show detailed tree view of the validated configuration",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the configuration file",
		},
	},
	Suggest: true,
	Action:  validateAction,
}

func validateAction(_ context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	if configPath == "" {
		if cmd.Args().Len() < 1 {
			return fmt.Errorf(
				"config file path required (use the --config flag, or provide the config file as positional argument)",
			)
		}
		configPath = cmd.Args().Get(0)
	}
	return validateLocal(cmd.Root().Writer, configPath, cmd.Bool("tree"))
}

// NewConfig already validates; a failure here carries every problem found.
func validateLocal(w io.Writer, configPath string, treeView bool) error {
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Fprintf(w, "Configuration file %s is %s\n", fancy.PathText(configPath), fancy.ValidText("valid"))

	if treeView {
		fmt.Fprintln(w, cfg)
		if cfg.Store.SeedFile != "" {
			seedTree, err := renderSeed(resolveSeedPath(configPath, cfg.Store.SeedFile))
			if err != nil {
				fmt.Fprintln(w, fancy.WarnText(err.Error()))
				return nil
			}
			fmt.Fprintln(w, seedTree)
		}
		return nil
	}
	fmt.Fprintln(w, renderConfigSummary(configPath, cfg))
	return nil
}

func renderConfigSummary(path string, cfg *config.Config) string {
	var summary strings.Builder

	summary.WriteString("\nConfig Summary:\n")
	fmt.Fprintf(&summary, "- Path: %s\n", path)
	fmt.Fprintf(&summary, "- Version: %s\n", cfg.Version)
	fmt.Fprintf(&summary, "- Tenant: %s\n", cfg.TenantID)
	fmt.Fprintf(&summary, "- Listen: %s\n", cfg.HTTP.Listen)
	fmt.Fprintf(&summary, "- Store: %s\n", cfg.Store.Backend)
	fmt.Fprintf(&summary, "- Deploy mode: %s\n", cfg.Deploy.Mode)
	fmt.Fprintf(&summary, "- MCP: %t\n", cfg.MCP.Enabled)
	summary.WriteString("\nUse --tree for a more detailed view of the config.")

	return summary.String()
}

// resolveSeedPath tries the seed path as given, then relative to the config file.
func resolveSeedPath(configPath, seedPath string) string {
	if filepath.IsAbs(seedPath) {
		return seedPath
	}
	if _, err := os.Stat(seedPath); err == nil {
		return seedPath
	}
	return filepath.Join(filepath.Dir(configPath), filepath.Base(seedPath))
}

// renderSeed lists the customizers a seed file would load.
func renderSeed(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("seed file not readable: %w", err)
	}
	defer func() { _ = f.Close() }()

	seed, err := memory.LoadSeed(f)
	if err != nil {
		return "", err
	}

	t := fancy.Tree().Root(fancy.RootStyle.Render("Seed ") + fancy.PathText(path))
	for _, key := range customizer.AllTokenKeys() {
		entry, ok := seed.Customizers[key]
		if !ok || entry.IsEmpty() {
			continue
		}
		node := fancy.BranchNode(key.String(), "")
		for _, useCase := range customizer.AllUseCases() {
			script, ok := entry.Script(useCase)
			if !ok {
				continue
			}
			preview := fancy.ScriptText(fancy.FirstLine(script.Source, scriptPreviewLength))
			node.Child(fancy.KeyValue(string(useCase), fmt.Sprintf("[%s] %s", script.Runtime.OrDefault(), preview)))
		}
		t.Child(node)
	}
	t.Child(fancy.KeyValue("users", fmt.Sprint(len(seed.Users))))
	t.Child(fancy.KeyValue("roles", fmt.Sprint(len(seed.Roles))))
	return t.String(), nil
}
