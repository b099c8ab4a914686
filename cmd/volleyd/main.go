// Command volleyd runs the volley batch dispatch scheduler.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/xraph/volley"
	"github.com/xraph/volley/api"
	"github.com/xraph/volley/client"
	"github.com/xraph/volley/engine"
)

const version = "0.1.0"

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runDaemon(args)
	case "token":
		err = runToken(args)
	case "config":
		err = runConfig(args)
	case "status":
		err = runStatus(args)
	case "version":
		fmt.Printf("volleyd %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "volleyd: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `usage: volleyd <command> [options]

commands:
  run      run the scheduler (default)
  token    issue an API bearer token
  config   print the effective configuration
  status   query a running daemon
  version  print the version
`)
}

func loadFile(path string) (volley.File, error) {
	if path == "" {
		return volley.DefaultFile(), nil
	}
	return volley.ReadFile(path)
}

func newLogger(cfg volley.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", cfg.Format)
}

func runDaemon(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	path := fs.String("config", "", "path to the YAML configuration file")
	watch := fs.Bool("watch", true, "reload tunables when the configuration file changes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f, err := loadFile(*path)
	if err != nil {
		return err
	}
	logger, err := newLogger(f.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	eng, err := engine.Build(f, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return eng.Serve(gctx) })
	if *watch && *path != "" {
		g.Go(func() error { return eng.WatchConfig(gctx, *path) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	path := fs.String("config", "", "path to the YAML configuration file")
	subject := fs.String("subject", "operator", "token subject")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f, err := loadFile(*path)
	if err != nil {
		return err
	}
	tok, err := api.IssueToken([]byte(f.API.JWTSecret), *subject, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func runConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	path := fs.String("config", "", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f, err := loadFile(*path)
	if err != nil {
		return err
	}
	f.API.JWTSecret = strings.Repeat("*", len(f.API.JWTSecret))

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return err
	}
	for _, w := range f.Scheduler.Warnings() {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	return enc.Close()
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8088", "daemon base URL")
	token := fs.String("token", os.Getenv("VOLLEY_TOKEN"), "API bearer token")
	nodes := fs.Bool("nodes", false, "also print per-node capacity")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := client.New(*addr, client.WithToken(*token))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := map[string]any{}
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	out["status"] = st
	if *nodes {
		ns, err := c.Nodes(ctx)
		if err != nil {
			return err
		}
		out["nodes"] = ns
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
