package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DucanhDaniel/FB-BatchRequestServer/pkg/graph"
	"github.com/DucanhDaniel/FB-BatchRequestServer/pkg/logging"
	"github.com/urfave/cli"
)

var sigCh = make(chan os.Signal, 1)

func main() {
	app := cli.NewApp()
	app.Name = "fb-batch-proxy"
	app.Usage = "HTTP façade batching Graph API reads with rate-limit telemetry"
	app.HideVersion = true

	app.Commands = cli.Commands{
		cli.Command{
			Name:  "server",
			Usage: "Start the batch proxy web server",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "host",
					Usage: "`HOST` to listen on",
					Value: "0.0.0.0",
				},
				cli.IntFlag{
					Name:  "port, p",
					Usage: "`PORT` to listen on",
					Value: 8000,
				},
				cli.StringFlag{
					Name:  "base-url",
					Usage: "Graph API `ORIGIN`",
					Value: "https://graph.facebook.com",
				},
				cli.StringFlag{
					Name:  "api-version",
					Usage: "Graph API `VERSION` tag",
					Value: "v23.0",
				},
				cli.DurationFlag{
					Name:  "timeout",
					Usage: "upstream batch call `TIMEOUT`",
					Value: 120 * time.Second,
				},
				cli.StringFlag{
					Name:  "log-level",
					Usage: "log `LEVEL` (debug, info, warn, error)",
					Value: "info",
				},
				cli.BoolFlag{
					Name:  "log-pretty",
					Usage: "human-readable console log output",
				},
				cli.StringFlag{
					Name:  "log-file",
					Usage: "append JSON log lines to `FILE`",
				},
			},
			Action: runServer,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(c *cli.Context) error {
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger, err := logging.Setup(logging.Config{
		Level:  logging.LogLevel(c.String("log-level")),
		Pretty: c.Bool("log-pretty"),
		Output: os.Stderr,
		File:   c.String("log-file"),
	})
	if err != nil {
		return err
	}

	client, err := graph.New(graph.Config{
		BaseURL:    c.String("base-url"),
		APIVersion: c.String("api-version"),
		Timeout:    c.Duration("timeout"),
		UserAgent:  "fb-batch-proxy/1.0",
	})
	if err != nil {
		return err
	}

	api := newAPIServer(client, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", c.String("host"), c.Int("port")),
		Handler: api.routes(),
	}

	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("api_version", c.String("api-version")).
			Msg("Listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-sigCh
	logger.Info().Msg("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	logger.Info().Msg("Bye!")
	return nil
}
