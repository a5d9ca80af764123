package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"officesim/config"
	"officesim/level"
	"officesim/shared"
	"officesim/sim"
	"officesim/transport"
	"officesim/transport/grpcapi"
	"officesim/transport/ws"
)

// newLogger returns the process logger, text on stderr
func newLogger(debug bool) *slog.Logger {
	lvl := slog.LevelInfo
	if debug {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// loadConfig reads the config file and applies the flags that were set
func loadConfig(path string, overrides func(*config.Config)) *config.Config {
	if err := config.SaveDefault(path); err != nil {
		log.Printf("Warning: Failed to create default config file: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	overrides(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", config.DefaultPath(), "Path to config.json")
	grpcAddr := flag.String("grpc-addr", "", "gRPC listen address")
	httpAddr := flag.String("http-addr", "", "HTTP/WebSocket listen address")
	levelPath := flag.String("level", "", "Level file (empty for the built-in office)")
	agents := flag.Int("agents", 0, "Number of agents to spawn at start")
	seed := flag.Int64("seed", 0, "Random seed (0 for time based)")
	tickMS := flag.Int("tick-ms", 0, "Tick period in milliseconds")
	shuffle := flag.Bool("shuffle", false, "Process agents in random order each tick")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg := loadConfig(*configPath, func(c *config.Config) {
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "grpc-addr":
				c.GRPCAddr = *grpcAddr
			case "http-addr":
				c.HTTPAddr = *httpAddr
			case "level":
				c.LevelPath = *levelPath
			case "agents":
				c.Agents = *agents
			case "seed":
				c.Seed = *seed
			case "tick-ms":
				c.TickRateMS = *tickMS
			case "shuffle":
				c.ShuffleOrder = *shuffle
			}
		})
	})

	logger := newLogger(*debug)
	slog.SetDefault(logger)

	lvl, err := level.LoadOrDefault(cfg.LevelPath)
	if err != nil {
		log.Fatalf("Failed to load level: %v", err)
	}
	ix, warnings, err := lvl.Build()
	if err != nil {
		log.Fatalf("Failed to build level: %v", err)
	}
	for _, w := range warnings {
		log.Printf("Level warning: %s", w)
	}

	s := cfg.Seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	core := sim.New(ix, sim.Options{
		MaxDepth:       cfg.PathfinderMaxDepth,
		RetryThreshold: cfg.RetryThreshold,
		TileSize:       cfg.TileSize,
		MoveSpeed:      cfg.MoveSpeed,
		ShuffleOrder:   cfg.ShuffleOrder,
		Rand:           rand.New(rand.NewSource(s)),
		Logger:         logger,
	})
	for i := 0; i < cfg.Agents; i++ {
		if _, err := core.SpawnAgent(); err != nil {
			log.Printf("Failed to spawn agent %d: %v", i, err)
			break
		}
	}

	state, err := sim.OpenStateFile(cfg.StateFile)
	if err != nil {
		log.Fatalf("Failed to open state file: %v", err)
	}
	log.Printf("Grid output will be written to %s", state.Name())

	frames := transport.NewBroadcaster[shared.TickFrame](transport.DefaultBuffer)

	// gRPC
	grpcServer := grpc.NewServer()
	grpcapi.RegisterSimulationServer(grpcServer, grpcapi.NewServer(core, frames, logger))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.GRPCAddr, err)
	}
	go func() {
		log.Printf("gRPC server listening on %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("gRPC server stopped: %v", err)
		}
	}()

	// HTTP: WebSocket frames, health and status
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: ws.NewServer(core, frames, logger).Handler(),
	}
	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &runner{core: core, frames: frames, state: state, rate: cfg.TickRate()}
	if cfg.LevelPath != "" {
		watcher, err := level.NewWatcher(cfg.LevelPath)
		if err != nil {
			log.Printf("Warning: level hot reload disabled: %v", err)
		} else {
			defer watcher.Close()
			r.reloads = watcher.Events
			go func() {
				for err := range watcher.Errors {
					log.Printf("Level watcher error: %v", err)
				}
			}()
		}
	}

	log.Printf("Simulation running with %d agents at %v per tick", len(core.Agents()), cfg.TickRate())
	r.run(ctx)

	log.Println("Shutting down simulation server...")
	frames.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	grpcServer.GracefulStop()
	log.Printf("Closing output file: %s", state.Name())
	if err := state.Close(); err != nil {
		log.Printf("Error closing output file: %v", err)
	}
}
