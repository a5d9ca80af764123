// Package behavior decides where idle agents walk next. It is the behavior
// layer in front of the simulation: it reads grid state and hands back
// destinations, nothing more.
package behavior

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"officesim/config"
	"officesim/grid"
	"officesim/shared"
)

var ErrNoChoice = errors.New("no destination chosen")

// Request describes the agent that needs a destination
type Request struct {
	AgentID int
	State   shared.GridState
}

// Agent returns the requesting agent's state
func (r Request) Agent() (shared.AgentState, bool) {
	for _, a := range r.State.Agents {
		if a.ID == r.AgentID {
			return a, true
		}
	}
	return shared.AgentState{}, false
}

// Picker chooses a destination for one agent
type Picker interface {
	Pick(ctx context.Context, req Request) (grid.Position, error)
}

// IsDestinationGlyph reports whether a map glyph is a place an agent may stop
func IsDestinationGlyph(g byte) bool {
	return g == '.' || g == 'i'
}

// Candidates lists the free cells of gs an agent may walk to, row-major from
// the bottom row
func Candidates(gs shared.GridState) []grid.Position {
	taken := make(grid.PositionSet, len(gs.Agents))
	for _, a := range gs.Agents {
		taken.Add(a.Position)
	}
	var out []grid.Position
	for y := gs.Origin.Y; y < gs.Origin.Y+gs.Height; y++ {
		for x := gs.Origin.X; x < gs.Origin.X+gs.Width; x++ {
			p := grid.Position{X: x, Y: y}
			if IsDestinationGlyph(gs.GlyphAt(p)) && !taken.Has(p) {
				out = append(out, p)
			}
		}
	}
	return out
}

// RandomPicker picks uniformly among the free destinations
type RandomPicker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomPicker(rng *rand.Rand) *RandomPicker {
	return &RandomPicker{rng: rng}
}

func (p *RandomPicker) Pick(_ context.Context, req Request) (grid.Position, error) {
	cands := Candidates(req.State)
	if len(cands) == 0 {
		return grid.Position{}, ErrNoChoice
	}
	p.mu.Lock()
	i := p.rng.Intn(len(cands))
	p.mu.Unlock()
	return cands[i], nil
}

// Fallback asks Primary first and Secondary when Primary fails
type Fallback struct {
	Primary   Picker
	Secondary Picker
	Logger    *slog.Logger
}

func (f *Fallback) Pick(ctx context.Context, req Request) (grid.Position, error) {
	p, err := f.Primary.Pick(ctx, req)
	if err == nil {
		return p, nil
	}
	if ctx.Err() != nil {
		return grid.Position{}, err
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("picker failed, falling back", "agent", req.AgentID, "error", err)
	return f.Secondary.Pick(ctx, req)
}

// New builds the picker selected by cfg.Behavior. Script and Gemini pickers
// fall back to random choices when they cannot decide.
func New(ctx context.Context, cfg *config.Config, rng *rand.Rand, logger *slog.Logger) (Picker, error) {
	random := NewRandomPicker(rng)
	switch cfg.Behavior {
	case config.BehaviorRandom, "":
		return random, nil
	case config.BehaviorScript:
		var (
			sp  *ScriptPicker
			err error
		)
		if cfg.BehaviorScript == "" {
			sp, err = NewScriptPicker(wanderScript, rng.Int63())
		} else {
			sp, err = LoadScriptPicker(cfg.BehaviorScript, rng.Int63())
		}
		if err != nil {
			return nil, err
		}
		return &Fallback{Primary: sp, Secondary: random, Logger: logger}, nil
	case config.BehaviorGemini:
		gp, err := NewGeminiPicker(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return &Fallback{Primary: gp, Secondary: random, Logger: logger}, nil
	default:
		return nil, fmt.Errorf("behavior %q: %w", cfg.Behavior, config.ErrInvalid)
	}
}
