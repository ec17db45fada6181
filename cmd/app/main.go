package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/minicycle/internal"
	pkgconfig "github.com/starford/minicycle/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

// withTool adapts a maintenance action to a cli action.
func withTool(fn func(ctx context.Context, cmd *cli.Command, t *internal.Tool) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return fn(ctx, cmd, internal.NewTool(cfg, os.Stdout, os.Stderr))
	}
}

func main() {
	cmd := &cli.Command{
		Name:   "minicycle",
		Usage:  "Task-cycle state engine with schema migration, debounced persistence and undo history",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API with server-sent events",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdio",
				Action: serveMCP,
			},
			{
				Name:  "migrate",
				Usage: "Upgrade stored data to the current schema",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "dry-run", Usage: "Report what would be written without writing"},
				},
				Action: withTool(func(ctx context.Context, cmd *cli.Command, t *internal.Tool) error {
					return t.Migrate(ctx, cmd.Bool("dry-run"))
				}),
			},
			{
				Name:  "inspect",
				Usage: "Summarise the stored document",
				Action: withTool(func(ctx context.Context, _ *cli.Command, t *internal.Tool) error {
					return t.Inspect(ctx)
				}),
			},
			{
				Name:  "export",
				Usage: "Write the document to stdout",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "json, yaml or markdown (active cycle only)"},
				},
				Action: withTool(func(ctx context.Context, cmd *cli.Command, t *internal.Tool) error {
					return t.Export(ctx, cmd.String("format"))
				}),
			},
			{
				Name:      "import",
				Usage:     "Import a document (json, yaml) or a cycle (markdown)",
				ArgsUsage: "[file]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "json, yaml or markdown"},
				},
				Action: withTool(func(ctx context.Context, cmd *cli.Command, t *internal.Tool) error {
					var in io.Reader = os.Stdin
					if path := cmd.Args().First(); path != "" && path != "-" {
						f, err := os.Open(path)
						if err != nil {
							return err
						}
						defer f.Close()
						in = f
					}
					return t.Import(ctx, cmd.String("format"), in)
				}),
			},
			{
				Name:  "backups",
				Usage: "List migration backups",
				Action: withTool(func(_ context.Context, _ *cli.Command, t *internal.Tool) error {
					return t.Backups()
				}),
			},
			{
				Name:      "restore-backup",
				Usage:     "Put the data captured in a migration backup back in place",
				ArgsUsage: "<key>",
				Action: withTool(func(_ context.Context, cmd *cli.Command, t *internal.Tool) error {
					key := cmd.Args().First()
					if key == "" {
						return fmt.Errorf("backup key is required")
					}
					return t.RestoreBackup(key)
				}),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
