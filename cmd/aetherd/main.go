// Command aetherd is the orchestrator daemon: it loads a config file,
// registers every function, hydrates warm pools, and runs until it
// receives a termination signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ankitkpandey1/aetherless/internal/config"
	"github.com/ankitkpandey1/aetherless/internal/orchestrator"
	"github.com/ankitkpandey1/aetherless/internal/router"
)

const shutdownGrace = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("c", "/etc/aetherless/config.yaml", "path to configuration file")
	verbose := flag.Bool("v", false, "verbose logging")
	iface := flag.String("interface", "", "network interface to attach the XDP router to (empty disables routing)")
	object := flag.String("bpf-object", "/usr/lib/aetherless/xdp_redirect.o", "path to the compiled XDP object")
	strict := flag.Bool("strict", false, "drop traffic to unregistered ports instead of passing it through")
	metricsAddr := flag.String("metrics-addr", "", "address to serve /metrics on (empty disables it)")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		logger.Error("configuration failed to load", "error", err)
		return 1
	}

	mode := router.ModePermissive
	if *strict {
		mode = router.ModeStrict
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	orch, err := orchestrator.New(ctx, cfg, orchestrator.Options{
		RouterIface:  *iface,
		RouterObject: *object,
		RouterMode:   mode,
		MetricsAddr:  *metricsAddr,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("orchestrator failed to start", "error", err)
		return 2
	}

	if err := orch.HydrateWarmPools(ctx); err != nil {
		logger.Error("warm pool hydration failed", "error", err)
		return 2
	}

	logger.Info("aetherd started", "functions", len(cfg.Functions))

	if err := orch.Run(ctx); err != nil {
		logger.Error("orchestrator stopped with error", "error", err)
		_ = orch.Shutdown(context.Background())
		return 2
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger.Info("aetherd stopped")
	return 0
}
