package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/eteran/jss/internal/config"
	"github.com/eteran/jss/pkg/client"
	"github.com/eteran/jss/pkg/metrics"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v2"
)

// session carries what the global flags resolve to into the commands.
type session struct {
	client  *client.Client
	metrics *metrics.Metrics
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, err
	}

	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})
	return slog.New(handler), nil
}

// resolveConfig layers the config file and environment under any flag the
// user set explicitly.
func resolveConfig(cCtx *cli.Context) (config.Config, error) {
	cfg, err := config.Load(cCtx.String("config"), os.LookupEnv)
	if err != nil {
		return config.Config{}, err
	}

	if cCtx.IsSet("appkey") {
		cfg.AccessKey = cCtx.String("appkey")
	}
	if cCtx.IsSet("appsecret") {
		cfg.SecretKey = cCtx.String("appsecret")
	}
	if cCtx.IsSet("endpoint") {
		cfg.Endpoint = cCtx.String("endpoint")
	}
	if cCtx.IsSet("log-level") {
		cfg.LogLevel = cCtx.String("log-level")
	}
	if cCtx.IsSet("part-size") {
		cfg.Multipart.PartSize = cCtx.Int("part-size")
	}
	if cCtx.IsSet("concurrency") {
		cfg.Multipart.Concurrency = cCtx.Int("concurrency")
	}
	if cCtx.IsSet("keep-partial") {
		cfg.Multipart.AbortOnPartFailure = !cCtx.Bool("keep-partial")
	}

	return cfg, cfg.Validate()
}

func newApp() *cli.App {
	s := &session{}

	return &cli.App{
		Name:  "jss",
		Usage: "Command line client for JSS object storage.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"JSS_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "appkey",
				Usage:   "access key",
				EnvVars: []string{config.EnvAccessKey},
			},
			&cli.StringFlag{
				Name:    "appsecret",
				Usage:   "secret key",
				EnvVars: []string{config.EnvSecretKey},
			},
			&cli.StringFlag{
				Name:    "endpoint",
				Usage:   "service base URL",
				EnvVars: []string{config.EnvEndpoint},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "one of debug, info, warn, error",
			},
			&cli.IntFlag{
				Name:  "part-size",
				Usage: "multipart part size in bytes",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "parts of one multipart upload sent in parallel",
			},
			&cli.BoolFlag{
				Name:  "keep-partial",
				Usage: "complete multipart uploads without the parts that failed instead of aborting",
			},
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "print client metrics to stderr on exit",
			},
		},
		Before: func(cCtx *cli.Context) error {
			// Help and unknown commands need no credentials.
			if cCtx.NArg() == 0 || cCtx.App.Command(cCtx.Args().First()) == nil || cCtx.Args().First() == "help" {
				return nil
			}

			cfg, err := resolveConfig(cCtx)
			if err != nil {
				return err
			}

			logger, err := newLogger(cCtx.App.ErrWriter, cfg.LogLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			opts := append(cfg.ClientOptions(), client.WithLogger(logger))
			if cCtx.Bool("metrics") {
				s.metrics = metrics.New()
				opts = append(opts, client.WithMetrics(s.metrics))
			}

			s.client, err = client.New(cfg.AccessKey, cfg.SecretKey, opts...)
			if err != nil {
				return err
			}

			slog.Debug("Executing api", "command", cCtx.Args().First(), "endpoint", cfg.Endpoint)
			return nil
		},
		After: func(cCtx *cli.Context) error {
			if s.metrics == nil {
				return nil
			}
			return s.metrics.WriteText(cCtx.App.ErrWriter)
		},
		Commands: commands(s),
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		slog.Error("jss exited with error", "error", err)
		os.Exit(1)
	}
}
