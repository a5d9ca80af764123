// Command local-sim runs the simulation and the behavior layer in one
// process, without any network surface, and dumps the grid after every tick.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"officesim/behavior"
	"officesim/config"
	"officesim/grid"
	"officesim/level"
	"officesim/shared"
	"officesim/sim"
)

// Simulation ties a core to a picker
type Simulation struct {
	Core     *sim.Core
	Picker   behavior.Picker
	TickRate time.Duration
	Log      *slog.Logger
}

type decision struct {
	agent int
	dest  grid.Position
}

// decide asks the picker, concurrently, for a destination for every agent
// that has arrived, then applies the answers in agent order
func (s *Simulation) decide(ctx context.Context) int {
	gs := s.Core.Snapshot()
	var idle []shared.AgentState
	for _, a := range gs.Agents {
		if a.Arrived() {
			idle = append(idle, a)
		}
	}

	// All agents decide their destinations asynchronously
	results := make([]*decision, len(idle))
	var wg sync.WaitGroup
	for i, a := range idle {
		wg.Add(1)
		go func(i int, id int) {
			defer wg.Done()
			dest, err := s.Picker.Pick(ctx, behavior.Request{AgentID: id, State: gs})
			if err != nil {
				s.Log.Debug("no destination", "agent", id, "error", err)
				return
			}
			results[i] = &decision{agent: id, dest: dest}
		}(i, a.ID)
	}
	wg.Wait()

	set := 0
	for _, d := range results {
		if d == nil {
			continue
		}
		// two agents may have picked the same cell; the walk sorts that out
		id, err := sim.AgentID(d.agent)
		if err == nil {
			err = s.Core.SetDestination(id, d.dest)
		}
		if err != nil {
			s.Log.Warn("destination rejected", "agent", d.agent, "to", d.dest, "error", err)
			continue
		}
		set++
	}
	return set
}

// Tick runs one decision round and one simulation step
func (s *Simulation) Tick(ctx context.Context) shared.TickFrame {
	s.decide(ctx)
	frame := s.Core.Step(s.TickRate.Seconds())
	for _, sig := range frame.Signals {
		if sig.Type == "arrived" {
			s.Log.Info("agent arrived", "agent", sig.AgentID, "cell", sig.Cell, "tick", frame.Tick)
		}
	}
	return frame
}

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to config.json")
	ticks := flag.Int("ticks", 100, "Number of ticks to run")
	realtime := flag.Bool("realtime", true, "Sleep for the tick rate between ticks")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	lvl, err := level.LoadOrDefault(cfg.LevelPath)
	if err != nil {
		log.Fatalf("Failed to load level: %v", err)
	}
	ix, _, err := lvl.Build()
	if err != nil {
		log.Fatalf("Failed to build level: %v", err)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	core := sim.New(ix, sim.Options{
		MaxDepth:       cfg.PathfinderMaxDepth,
		RetryThreshold: cfg.RetryThreshold,
		TileSize:       cfg.TileSize,
		MoveSpeed:      cfg.MoveSpeed,
		ShuffleOrder:   cfg.ShuffleOrder,
		Rand:           rand.New(rand.NewSource(rng.Int63())),
	})
	for i := 0; i < cfg.Agents; i++ {
		if _, err := core.SpawnAgent(); err != nil {
			log.Printf("Failed to spawn agent %d: %v", i, err)
			break
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	picker, err := behavior.New(ctx, cfg, rand.New(rand.NewSource(rng.Int63())), slog.Default())
	if err != nil {
		log.Fatalf("Failed to create %s picker: %v", cfg.Behavior, err)
	}

	state, err := sim.OpenStateFile(cfg.StateFile)
	if err != nil {
		log.Fatalf("Failed to open state file: %v", err)
	}
	defer state.Close()
	log.Printf("Simulation initialized. Grid output will be written to %s", state.Name())

	s := &Simulation{Core: core, Picker: picker, TickRate: cfg.TickRate(), Log: slog.Default()}
	for i := 0; i < *ticks && ctx.Err() == nil; i++ {
		frame := s.Tick(ctx)
		if err := state.Write(frame.State); err != nil {
			log.Printf("Error writing state file: %v", err)
		}
		if *realtime {
			time.Sleep(s.TickRate)
		}
	}
	log.Println("Simulation finished.")
}
