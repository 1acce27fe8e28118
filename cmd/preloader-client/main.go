package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/guseggert/preloader/client"
	"github.com/guseggert/preloader/config"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const progName = "preloader-client"

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// run executes argv remotely and returns its exit status.
func run(ctx context.Context, port int, verbose bool, argv []string) (int, error) {
	logger, err := newLogger(verbose)
	if err != nil {
		return 0, fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	c := client.New(client.WithPort(port), client.WithLogger(logger))
	status, err := c.Run(ctx, argv)
	if err != nil {
		return 0, err
	}
	return int(status), nil
}

// invocation is what to run and where, resolved from the command line, the config file and the environment.
type invocation struct {
	port    int
	verbose bool
	argv    []string
}

// parseInvocation resolves args, the process's argv, for a client started in wd.
// Under a link named after the program to run, argv is forwarded untouched.
// It returns a nil invocation without error when only help was requested.
func parseInvocation(args []string, wd string, out io.Writer) (*invocation, error) {
	if len(args) > 0 && filepath.Base(args[0]) != progName {
		cfg, err := config.Load(wd)
		if err != nil {
			return nil, err
		}
		return &invocation{port: cfg.Port, verbose: os.Getenv("PRELOADER_VERBOSE") != "", argv: args}, nil
	}

	var inv *invocation
	app := newApp(wd, func(i *invocation) { inv = i })
	app.Writer = out
	app.ErrWriter = out
	if err := app.Run(args); err != nil {
		return nil, err
	}
	return inv, nil
}

func newApp(wd string, found func(*invocation)) *cli.App {
	return &cli.App{
		Name:      progName,
		Usage:     "run a program on a preloader execution service",
		UsageText: progName + " [-p <port>] <program> [program-arguments...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "The control port of the execution service. The I/O ports are the three following it.",
				EnvVars: []string{config.EnvPort},
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path of a config file to use instead of looking up " + config.FileName + ".",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Log the session to stderr.",
				EnvVars: []string{"PRELOADER_VERBOSE"},
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() < 1 {
				_ = cli.ShowAppHelp(ctx)
				return errors.New("missing program to run")
			}

			var (
				cfg *config.Config
				err error
			)
			if path := ctx.String("config"); path != "" {
				cfg, err = config.LoadFile(path)
			} else {
				cfg, err = config.Load(wd)
			}
			if err != nil {
				return err
			}

			port := cfg.Port
			if ctx.IsSet("port") && ctx.String("port") != "" {
				port, err = config.ParsePort(ctx.String("port"))
				if err != nil {
					return err
				}
			}

			found(&invocation{port: port, verbose: ctx.Bool("verbose"), argv: ctx.Args().Slice()})
			return nil
		},
	}
}

func main() {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("getting working directory: %s", err)
	}
	inv, err := parseInvocation(os.Args, wd, os.Stderr)
	if err != nil {
		log.Fatal(err)
	}
	if inv == nil {
		return
	}
	status, err := run(context.Background(), inv.port, inv.verbose, inv.argv)
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(status)
}
