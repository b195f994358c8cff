package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/NodePath81/fblink/internal/app"
	"github.com/NodePath81/fblink/internal/config"
	"github.com/NodePath81/fblink/internal/control"
	"github.com/NodePath81/fblink/internal/echo"
	"github.com/NodePath81/fblink/internal/metrics"
	"github.com/NodePath81/fblink/internal/transfer"
	"github.com/NodePath81/fblink/internal/util"
	"github.com/NodePath81/fblink/internal/version"
	"github.com/pkg/profile"
)

const defaultConfigPath = "fblink.yaml"

type options struct {
	configPath     string
	configExplicit bool
	peer           string
	profile        string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printHelp()
		return 2
	}
	cmd := args[0]
	switch cmd {
	case "help", "-h", "--help":
		printHelp()
		return 0
	case "version", "-v", "--version":
		fmt.Println(version.Version)
		return 0
	case "run", "bulk", "echo", "sink", "check":
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printHelp()
		return 2
	}

	opts, err := parseFlags(cmd, args[1:])
	if err != nil {
		return 2
	}
	if cmd == "check" {
		return checkConfig(opts.configPath)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		return 1
	}
	logger := util.NewLogger(cfg.Log.Level)

	switch opts.profile {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		fmt.Fprintf(os.Stderr, "unknown profile mode %q (cpu or mem)\n", opts.profile)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()
	hub := control.NewStatusHub(ctx.Done())
	if cfg.Control.Enabled {
		srv := control.NewControlServer(control.Config{
			BindAddr: cfg.Control.BindAddr,
			BindPort: cfg.Control.BindPort,
		}, m, hub, logger)
		if err := srv.Start(ctx); err != nil {
			logger.Error("control server failed", "error", err)
			return 1
		}
	}

	switch cmd {
	case "run":
		rep, err := app.NewRunner(cfg, m, hub, logger).Run(ctx)
		if rep != nil {
			rep.Print(os.Stdout)
		}
		if err != nil {
			logger.Error("run failed", "error", err)
			return 1
		}
	case "bulk":
		rep, err := app.NewRunner(cfg, m, hub, logger).RunBulk(ctx)
		if err != nil {
			logger.Error("bulk transfer failed", "error", err)
			return 1
		}
		rep.Print(os.Stdout)
	case "echo":
		srv := echo.NewResponder(responderConfig(cfg), m, logger)
		if err := srv.ListenAndServe(ctx); err != nil {
			logger.Error("echo responder failed", "error", err)
			return 1
		}
	case "sink":
		srv := echo.NewSink(responderConfig(cfg), m, logger, func(r transfer.Report) {
			fmt.Printf("transfer: %s in %s (%.2f KB/s)\n",
				util.FormatBytes(float64(r.Bytes)), r.Duration, r.KBPerSecond())
		})
		if err := srv.ListenAndServe(ctx); err != nil {
			logger.Error("sink failed", "error", err)
			return 1
		}
	}
	return 0
}

func parseFlags(cmd string, args []string) (options, error) {
	fsFlags := flag.NewFlagSet(cmd, flag.ContinueOnError)
	var opts options
	fsFlags.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to config file")
	fsFlags.StringVar(&opts.profile, "profile", "", "Write a cpu or mem profile")
	if cmd == "run" || cmd == "bulk" {
		fsFlags.StringVar(&opts.peer, "peer", "", "Peer host or host:port, overrides peer.address")
	}
	if err := fsFlags.Parse(args); err != nil {
		return opts, err
	}
	if opts.configPath == defaultConfigPath && fsFlags.NArg() > 0 {
		opts.configPath = fsFlags.Arg(0)
	}
	fsFlags.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			opts.configExplicit = true
		}
	})
	if fsFlags.NArg() > 0 {
		opts.configExplicit = true
	}
	return opts, nil
}

// loadConfig falls back to defaults when the default config file is absent.
func loadConfig(opts options) (config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		if opts.configExplicit || !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, err
		}
		cfg = config.Default()
	}
	if opts.peer != "" {
		if err := applyPeer(&cfg, opts.peer); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func applyPeer(cfg *config.Config, peer string) error {
	host, portStr, err := net.SplitHostPort(peer)
	if err != nil {
		cfg.Peer.Address = peer
		return nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid peer port %q", portStr)
	}
	cfg.Peer.Address = host
	cfg.Peer.Port = port
	return nil
}

func responderConfig(cfg config.Config) echo.Config {
	return echo.Config{
		Network:    cfg.Responder.Network,
		Addr:       cfg.Responder.BindAddr,
		Port:       cfg.Responder.BindPort,
		BufferSize: cfg.Responder.BufferSize.Int(),
		Relisten:   cfg.Responder.Relisten,
	}
}

func checkConfig(path string) int {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		return 1
	}
	peer := cfg.Peer.Address
	if peer == "" {
		peer = "(none, responder only)"
	}
	fmt.Printf("config valid: peer %s, throughput %t, latency %t (%d pings)\n",
		peer, cfg.Throughput.IsEnabled(), cfg.Latency.IsEnabled(), cfg.Latency.CountValue())
	return 0
}

func printHelp() {
	fmt.Print(`fblink - point-to-point link characterization

Usage:
  fblink run   [--config <path>] [--peer host[:port]]  Measure throughput and latency against an echo peer
  fblink bulk  [--config <path>] [--peer host[:port]]  Stream a bulk transfer to a sink peer
  fblink echo  [--config <path>]                       Run the echo responder
  fblink sink  [--config <path>]                       Run the bulk transfer sink
  fblink check --config <path>                         Validate config file
  fblink help                                          Show this help
  fblink version                                       Print version

Every command but check and help accepts --profile cpu|mem.
`)
}
