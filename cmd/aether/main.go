// Command aether is the operator-facing CLI: start/stop the orchestrator,
// hot-reload a function's config, and inspect its state.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ankitkpandey1/aetherless/internal/config"
	"github.com/ankitkpandey1/aetherless/internal/control"
	"github.com/ankitkpandey1/aetherless/internal/orchestrator"
	"github.com/ankitkpandey1/aetherless/internal/router"
	"github.com/ankitkpandey1/aetherless/internal/stats"
)

const (
	exitSuccess          = 0
	exitHardValidation   = 1
	exitRuntimeFailure   = 2
	exitLatencyViolation = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitHardValidation
	}

	globalFlags := flag.NewFlagSet("aether", flag.ContinueOnError)
	configPath := globalFlags.String("c", "/etc/aetherless/config.yaml", "path to configuration file")
	verbose := globalFlags.Bool("v", false, "verbose logging")
	if err := globalFlags.Parse(args); err != nil || globalFlags.NArg() == 0 {
		usage()
		return exitHardValidation
	}

	cmd := globalFlags.Arg(0)
	rest := globalFlags.Args()[1:]

	switch cmd {
	case "up":
		foreground := flag.NewFlagSet("up", flag.ContinueOnError)
		fg := foreground.Bool("foreground", false, "run in the foreground instead of exiting after startup checks")
		warmPool := foreground.Bool("warm-pool", true, "hydrate warm pools at startup")
		mergeFlags(globalFlags, foreground, rest)
		return cmdUp(*configPath, *verbose, *fg, *warmPool)

	case "down":
		return cmdDown()

	case "deploy":
		deployFlags := flag.NewFlagSet("deploy", flag.ContinueOnError)
		force := deployFlags.Bool("force", false, "deploy even if the function is currently running")
		mergeFlags(globalFlags, deployFlags, rest)
		if deployFlags.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: aether deploy <file> [--force]")
			return exitHardValidation
		}
		return cmdDeploy(deployFlags.Arg(0), *force)

	case "list":
		mergeFlags(globalFlags, flag.NewFlagSet("list", flag.ContinueOnError), rest)
		return cmdList(*configPath)

	case "stats":
		statsFlags := flag.NewFlagSet("stats", flag.ContinueOnError)
		dashboard := statsFlags.Bool("dashboard", false, "accepted but not acted on: stats always prints one JSON snapshot")
		watch := statsFlags.Bool("watch", false, "accepted but not acted on: stats always prints one JSON snapshot")
		mergeFlags(globalFlags, statsFlags, rest)
		return cmdStats(*dashboard, *watch)

	case "validate":
		validateFlags := flag.NewFlagSet("validate", flag.ContinueOnError)
		mergeFlags(globalFlags, validateFlags, rest)
		if validateFlags.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: aether validate <file>")
			return exitHardValidation
		}
		return cmdValidate(validateFlags.Arg(0))

	default:
		usage()
		return exitHardValidation
	}
}

// mergeFlags parses the subcommand's own flags. The global flags (-c, -v)
// are parsed by run before the subcommand name, so they must precede it.
func mergeFlags(global, sub *flag.FlagSet, args []string) {
	sub.Usage = global.Usage
	_ = sub.Parse(args)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: aether [-c config] [-v] <command> [args]

commands:
  up [--foreground] [--warm-pool]   start the orchestrator
  down                              stop the orchestrator
  deploy <file> [--force]           validate and hot-reload a function
  list                              list registered functions
  stats [--dashboard|--watch]       show orchestrator statistics
  validate <file>                  validate a configuration file`)
}

func cmdValidate(path string) int {
	if _, err := config.LoadFile(path); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitHardValidation
	}
	fmt.Println("configuration is valid")
	return exitSuccess
}

func cmdList(configPath string) int {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitHardValidation
	}
	for _, fn := range cfg.Functions {
		fmt.Printf("%s\tport=%d\tmemory=%dMiB\twarm_pool=%d\n",
			fn.ID.String(), fn.TriggerPort.Value(), fn.MemoryLimit.MB(), cfg.Orchestrator.WarmPoolSize)
	}
	return exitSuccess
}

func cmdStats(dashboard, watch bool) int {
	data, err := os.ReadFile(stats.DefaultPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "no stats snapshot found at %s: %v\n", stats.DefaultPath, err)
		return exitRuntimeFailure
	}
	var snap stats.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRuntimeFailure
	}
	_ = dashboard
	_ = watch
	encoded, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Println(string(encoded))
	return exitSuccess
}

func cmdDeploy(file string, force bool) int {
	absFile, err := filepath.Abs(file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitHardValidation
	}
	if _, err := config.LoadFile(absFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitHardValidation
	}

	resp, err := control.Dial(control.DefaultSocketPath, control.Request{Op: control.OpDeploy, Path: absFile, Force: force})
	if err != nil {
		fmt.Fprintf(os.Stderr, "deploy requires a running orchestrator; start one with `aether up`: %v\n", err)
		return exitRuntimeFailure
	}
	if !resp.OK {
		fmt.Fprintln(os.Stderr, resp.Error)
		return exitRuntimeFailure
	}
	fmt.Println(resp.Message)
	return exitSuccess
}

func cmdDown() int {
	resp, err := control.Dial(control.DefaultSocketPath, control.Request{Op: control.OpDown})
	if err != nil {
		fmt.Fprintf(os.Stderr, "no running orchestrator found: %v\n", err)
		return exitRuntimeFailure
	}
	if !resp.OK {
		fmt.Fprintln(os.Stderr, resp.Error)
		return exitRuntimeFailure
	}
	fmt.Println(resp.Message)
	return exitSuccess
}

func cmdUp(configPath string, verbose, foreground, warmPool bool) int {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		logger.Error("configuration failed to load", "error", err)
		return exitHardValidation
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	orch, err := orchestrator.New(ctx, cfg, orchestrator.Options{
		RouterMode: router.ModePermissive,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("orchestrator failed to start", "error", err)
		return exitRuntimeFailure
	}

	if warmPool {
		if err := orch.HydrateWarmPools(ctx); err != nil {
			logger.Error("warm pool hydration failed", "error", err)
			return exitRuntimeFailure
		}
	}

	logger.Info("orchestrator started", "functions", len(cfg.Functions), "foreground", foreground)

	if !foreground {
		return exitSuccess
	}

	if err := orch.Run(ctx); err != nil {
		logger.Error("orchestrator stopped with error", "error", err)
	}
	return exitSuccess
}
