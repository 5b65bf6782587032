package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pdejuan/gcnl-lite/internal/api"
	"github.com/pdejuan/gcnl-lite/internal/config"
	"github.com/pdejuan/gcnl-lite/internal/pipeline"
	"github.com/pdejuan/gcnl-lite/internal/syntax"
	"github.com/pdejuan/gcnl-lite/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := utils.NewLogger("error", false)
		log.Fatal("Failed to load configuration: ", err)
	}

	app := newApp(cfg, serve)
	if err := app.Run(reorderArgs(os.Args)); err != nil {
		log := utils.NewLogger("error", false)
		log.Fatal(err)
	}
}

// newApp builds the command line. Flags and positional arguments override
// the environment loaded into cfg; run is called with the validated result.
func newApp(cfg *config.Config, run func(*config.Config) error) *cli.App {
	return &cli.App{
		Name:      "gcnl-lite",
		Usage:     "Google Cloud Natural Language analyzeSyntax endpoint backed by local SyntaxNet models",
		ArgsUsage: "<lang> <model-dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "ip",
				Aliases:     []string{"i"},
				Usage:       "address to listen on",
				Value:       cfg.App.Host,
				Destination: &cfg.App.Host,
			},
			&cli.IntFlag{
				Name:        "port",
				Aliases:     []string{"p"},
				Usage:       "port to listen on",
				Value:       cfg.App.ServerPort,
				Destination: &cfg.App.ServerPort,
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"X"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:        "manifest",
				Usage:       "pipeline manifest (default <model-dir>/" + config.DefaultManifestName + ")",
				Value:       cfg.Syntax.ManifestFile,
				Destination: &cfg.Syntax.ManifestFile,
			},
			&cli.IntFlag{
				Name:        "workers",
				Usage:       "number of model worker processes",
				Value:       cfg.Pipeline.WorkerCount,
				Destination: &cfg.Pipeline.WorkerCount,
			},
			&cli.IntFlag{
				Name:        "timeout-ms",
				Usage:       "per-request annotation timeout, 0 disables it",
				Value:       cfg.Pipeline.TimeoutMs,
				Destination: &cfg.Pipeline.TimeoutMs,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 2 {
				return fmt.Errorf("unexpected arguments: %s", strings.Join(c.Args().Slice()[2:], " "))
			}
			if lang := c.Args().Get(0); lang != "" {
				cfg.Syntax.Language = lang
			}
			if dir := c.Args().Get(1); dir != "" {
				cfg.Syntax.ModelDir = dir
			}
			if c.Bool("debug") {
				cfg.App.LogLevel = string(utils.LevelDebug)
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cfg)
		},
	}
}

var valueFlags = map[string]bool{
	"i": true, "ip": true,
	"p": true, "port": true,
	"manifest": true, "workers": true, "timeout-ms": true,
}

// reorderArgs moves flags ahead of positional arguments so that
// `gcnl-lite es ./models -p 8000` parses like `gcnl-lite -p 8000 es ./models`.
func reorderArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	flags := []string{args[0]}
	var positional []string
	for i := 1; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			positional = append(positional, arg)
			continue
		}
		flags = append(flags, arg)
		name := strings.TrimLeft(arg, "-")
		if !strings.Contains(name, "=") && valueFlags[name] && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}

	if len(positional) == 0 {
		return flags
	}
	return append(append(flags, "--"), positional...)
}

func serve(cfg *config.Config) error {
	logger := utils.NewLogger(cfg.App.LogLevel, cfg.App.RawBodyLog)
	logger.Info(nil, "Starting gcnl-lite")
	logger.Info(nil, "Environment: %s", cfg.App.Env)
	logger.Info(nil, "Log level: %s", logger.Level())
	logger.Info(nil, "Language: %s, models: %s", cfg.Syntax.Language, cfg.Syntax.ModelDir)
	logger.Info(nil, "Python config directory: %s", cfg.Pipeline.Python.ConfigDir)

	manifest, err := config.LoadManifest(cfg.Syntax.ModelDir, cfg.Syntax.ManifestFile)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	manifest, err = manifest.Resolve(cfg.Syntax.ModelDir)
	if err != nil {
		return fmt.Errorf("resolve manifest: %w", err)
	}
	if err := manifest.Check(); err != nil {
		return fmt.Errorf("model files: %w", err)
	}
	logger.Debug(nil, "Segmenter: %+v", manifest.Segmenter)
	logger.Debug(nil, "Parser: %+v", manifest.Parser)

	pool := pipeline.NewPythonPool(logger, &cfg.Pipeline, cfg.Syntax.Language, manifest)
	if err := pool.Initialize(); err != nil {
		return fmt.Errorf("initialize annotation pipeline: %w", err)
	}
	defer pool.Close()

	service := syntax.NewService(cfg.Syntax.Language, pool)
	handler := api.NewHandler(logger, service, pool, int64(cfg.App.MaxBodyBytes))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info(nil, "Endpoints:")
	logger.Info(nil, "  GET  /health")
	logger.Info(nil, "  POST /v1/documents:analyzeSyntax")
	return api.Serve(ctx, &cfg.App, logger, api.NewRouter(logger, handler))
}
