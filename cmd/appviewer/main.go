package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guseggert/appviewer/comm"
	"github.com/guseggert/appviewer/config"
	"github.com/guseggert/appviewer/viewer"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "appviewer",
		Usage: "run a web app in the background and show it in a front-end panel",
		Commands: []*cli.Command{
			showCommand(),
			frontendCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "start the app and announce it to the front-end, stopping it on SIGINT or SIGTERM",
		ArgsUsage: "-- COMMAND [ARGS...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "The interface the app listens on."},
			&cli.IntFlag{Name: "port", Usage: "The app's port. 0 picks an ephemeral port."},
			&cli.StringFlag{Name: "url", Usage: "The URL to announce instead of a computed one."},
			&cli.StringFlag{Name: "frontend-url", Usage: "The front-end's WebSocket endpoint, e.g. ws://127.0.0.1:8765/comm."},
			&cli.BoolFlag{Name: "proxy", Usage: "Serve the app behind the front-end's base URL."},
			&cli.DurationFlag{Name: "base-url-timeout", Usage: "How long to wait for the front-end's base URL."},
			&cli.StringFlag{Name: "ready-substring", Usage: "The app output that signals it is serving."},
			&cli.IntFlag{Name: "ready-attempts", Usage: "How many empty output polls to tolerate before giving up."},
			&cli.DurationFlag{Name: "ready-interval", Usage: "The length of one output poll."},
			&cli.DurationFlag{Name: "port-release-delay", Usage: "How long to wait after stopping a previous app."},
			&cli.StringFlag{Name: "log-level", Usage: "One of [debug,info,warn,error]."},
			&cli.StringFlag{Name: "wd", Usage: "The app's working directory."},
			&cli.StringSliceFlag{Name: "env", Usage: "Extra KEY=VALUE environment variables for the app."},
		},
		Action: runShow,
	}
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting wd: %w", err)
	}
	cfg, err := config.Load(wd)
	if err != nil {
		return nil, err
	}

	// flags have the last word
	if ctx.IsSet("host") {
		cfg.Host = ctx.String("host")
	}
	if ctx.IsSet("port") {
		cfg.Port = ctx.Int("port")
	}
	if ctx.IsSet("url") {
		cfg.URL = ctx.String("url")
	}
	if ctx.IsSet("frontend-url") {
		cfg.FrontendURL = ctx.String("frontend-url")
	}
	if ctx.IsSet("proxy") {
		cfg.Proxy = ctx.Bool("proxy")
	}
	if ctx.IsSet("base-url-timeout") {
		cfg.BaseURLTimeout = ctx.Duration("base-url-timeout")
	}
	if ctx.IsSet("ready-substring") {
		cfg.ReadySubstring = ctx.String("ready-substring")
	}
	if ctx.IsSet("ready-attempts") {
		cfg.ReadyAttempts = ctx.Int("ready-attempts")
	}
	if ctx.IsSet("ready-interval") {
		cfg.ReadyInterval = ctx.Duration("ready-interval")
	}
	if ctx.IsSet("port-release-delay") {
		cfg.PortReleaseDelay = ctx.Duration("port-release-delay")
	}
	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

func runShow(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return errors.New("no app command given")
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []viewer.Option{
		viewer.WithLogger(logger),
		viewer.WithLogLevel(level),
		viewer.WithHost(cfg.Host),
		viewer.WithPort(cfg.Port),
		viewer.WithURL(cfg.URL),
		viewer.WithBaseURLTimeout(cfg.BaseURLTimeout),
		viewer.WithReadySubstring(cfg.ReadySubstring),
		viewer.WithReadyPolling(cfg.ReadyAttempts, cfg.ReadyInterval),
		viewer.WithPortReleaseDelay(cfg.PortReleaseDelay),
	}

	var frontendDone <-chan struct{}
	if cfg.FrontendURL != "" {
		cache := comm.NewBaseURLCache(logger.Sugar())
		conn, err := comm.Dial(sigCtx, cfg.FrontendURL, comm.WithDialLogger(logger.Sugar()), comm.WithHandler(cache.Handler()))
		if err != nil {
			return err
		}
		defer conn.Close()
		frontendDone = conn.Done()
		opts = append(opts, viewer.WithChannel(conn))
		if cfg.Proxy {
			opts = append(opts, viewer.WithBaseURLCache(cache))
		}
	}

	v, err := viewer.NewAppViewer(opts...)
	if err != nil {
		return fmt.Errorf("building viewer: %w", err)
	}

	app := viewer.App{
		Command: ctx.Args().First(),
		Args:    ctx.Args().Tail(),
		Env:     ctx.StringSlice("env"),
		WD:      ctx.String("wd"),
	}
	u, err := v.Show(sigCtx, app)
	if err != nil {
		if termErr := v.Terminate(); termErr != nil {
			logger.Sugar().Debugf("error terminating app: %s", termErr)
		}
		return err
	}
	fmt.Fprintln(ctx.App.Writer, u)

	select {
	case <-sigCtx.Done():
	case <-frontendDone:
		logger.Sugar().Info("front-end connection closed, stopping app")
	}
	return v.Terminate()
}

func frontendCommand() *cli.Command {
	return &cli.Command{
		Name:  "frontend",
		Usage: "run a reference front-end that answers base URL requests and lists shown apps",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "The address for the HTTP server to listen on.",
				Value: "127.0.0.1:8765",
			},
			&cli.StringFlag{
				Name:  "base-url",
				Usage: "The base URL reported to viewers. Empty leaves base URL requests unanswered.",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "One of [debug,info,warn,error].",
				Value: "info",
			},
		},
		Action: runFrontend,
	}
}

func runFrontend(ctx *cli.Context) error {
	cfg := config.Default()
	cfg.LogLevel = ctx.String("log-level")
	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	hub := comm.NewHub(
		ctx.String("base-url"),
		comm.WithHubLogger(logger.Sugar()),
		comm.WithShowHandler(func(v comm.View) {
			fmt.Fprintf(ctx.App.Writer, "%s %s\n", v.UID, v.URL)
		}),
	)

	listener, err := net.Listen("tcp", ctx.String("listen-addr"))
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	server := &http.Server{Handler: hub}

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(sigCtx)
	group.Go(func() error {
		logger.Sugar().Infow("front-end listening", "Addr", listener.Addr().String())
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
