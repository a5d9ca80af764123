package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"officesim/level"
	"officesim/shared"
	"officesim/sim"
	"officesim/transport"
)

// runner drives the fixed-rate simulation loop
type runner struct {
	core   *sim.Core
	frames *transport.Broadcaster[shared.TickFrame]
	state  *sim.StateFile
	rate   time.Duration
	// reloads carries the level path each time the file changes
	reloads <-chan string
}

// tick advances the world one step and fans the frame out
func (r *runner) tick() shared.TickFrame {
	start := time.Now()
	frame := r.core.Step(r.rate.Seconds())
	delivered := r.frames.Publish(frame)
	if r.state != nil {
		if err := r.state.Write(frame.State); err != nil {
			log.Printf("Error writing state file: %v", err)
		}
	}
	slog.Debug("tick completed",
		"tick", frame.Tick, "signals", len(frame.Signals),
		"subscribers", delivered, "took", time.Since(start))
	return frame
}

func (r *runner) run(ctx context.Context) {
	ticker := time.NewTicker(r.rate)
	defer ticker.Stop()

	if r.state != nil {
		if err := r.state.Write(r.core.Snapshot()); err != nil {
			log.Printf("Error writing state file: %v", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("Simulation stopped after %d ticks", r.core.TickCount())
			return
		case <-ticker.C:
			r.tick()
		case path, ok := <-r.reloads:
			if !ok {
				r.reloads = nil
				continue
			}
			if err := reloadLevel(r.core, path); err != nil {
				log.Printf("Level reload failed, keeping current world: %v", err)
			}
		}
	}
}

// reloadLevel swaps the core's world for the level at path
func reloadLevel(core *sim.Core, path string) error {
	lvl, err := level.Load(path)
	if err != nil {
		return err
	}
	ix, warnings, err := lvl.Build()
	if err != nil {
		return fmt.Errorf("build level %s: %w", path, err)
	}
	for _, w := range warnings {
		log.Printf("Level warning: %s", w)
	}
	core.ReplaceWorld(ix)
	log.Printf("Reloaded level %s (%d tiles)", path, ix.Len())
	return nil
}
