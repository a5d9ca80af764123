package behavior

import (
	"context"
	_ "embed"
	"fmt"
	"math/rand"
	"os"
	"sync"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"officesim/grid"
	"officesim/shared"
)

//go:embed scripts/wander.tengo
var wanderScript []byte

// ScriptPicker runs a tengo script per decision. The script sees agent,
// agents, candidates, width, height and a random roll, and sets destination.
type ScriptPicker struct {
	compiled *tengo.Compiled
	mu       sync.Mutex
	rng      *rand.Rand
}

// NewScriptPicker compiles src
func NewScriptPicker(src []byte, seed int64) (*ScriptPicker, error) {
	script := tengo.NewScript(src)
	_ = script.Add("agent", map[string]any{})
	_ = script.Add("agents", []any{})
	_ = script.Add("candidates", []any{})
	_ = script.Add("width", 0)
	_ = script.Add("height", 0)
	_ = script.Add("roll", 0)
	script.SetImports(stdlib.GetModuleMap(stdlib.AllModuleNames()...))

	compiled, err := script.Compile()
	if err != nil {
		return nil, fmt.Errorf("behavior: compile script: %w", err)
	}
	return &ScriptPicker{
		compiled: compiled,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// LoadScriptPicker compiles the script file at path
func LoadScriptPicker(path string, seed int64) (*ScriptPicker, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("behavior: load script %s: %w", path, err)
	}
	return NewScriptPicker(src, seed)
}

func positionValue(p grid.Position) map[string]any {
	return map[string]any{"x": p.X, "y": p.Y}
}

func agentValue(a shared.AgentState) map[string]any {
	return map[string]any{
		"id":       a.ID,
		"position": positionValue(a.Position),
		"status":   a.Status,
	}
}

func (p *ScriptPicker) Pick(ctx context.Context, req Request) (grid.Position, error) {
	self, ok := req.Agent()
	if !ok {
		return grid.Position{}, fmt.Errorf("behavior: agent %d not in state: %w", req.AgentID, ErrNoChoice)
	}
	cands := Candidates(req.State)
	candValues := make([]any, 0, len(cands))
	for _, c := range cands {
		candValues = append(candValues, positionValue(c))
	}
	agentValues := make([]any, 0, len(req.State.Agents))
	for _, a := range req.State.Agents {
		agentValues = append(agentValues, agentValue(a))
	}

	p.mu.Lock()
	roll := p.rng.Intn(1 << 30)
	p.mu.Unlock()

	c := p.compiled.Clone()
	vars := map[string]any{
		"agent":      agentValue(self),
		"agents":     agentValues,
		"candidates": candValues,
		"origin":     positionValue(req.State.Origin),
		"width":      req.State.Width,
		"height":     req.State.Height,
		"roll":       roll,
	}
	for name, v := range vars {
		if err := c.Set(name, v); err != nil {
			return grid.Position{}, fmt.Errorf("behavior: set %s: %w", name, err)
		}
	}
	if err := c.RunContext(ctx); err != nil {
		return grid.Position{}, fmt.Errorf("behavior: run script: %w", err)
	}

	if !c.IsDefined("destination") {
		return grid.Position{}, ErrNoChoice
	}
	dest, err := decodePosition(c.Get("destination").Value())
	if err != nil {
		return grid.Position{}, err
	}
	if !IsDestinationGlyph(req.State.GlyphAt(dest)) {
		return grid.Position{}, fmt.Errorf("behavior: script chose %v: %w", dest, ErrNoChoice)
	}
	return dest, nil
}

// decodePosition accepts {x, y} maps and [x, y] arrays
func decodePosition(v any) (grid.Position, error) {
	switch val := v.(type) {
	case map[string]any:
		x, okX := toInt(val["x"])
		y, okY := toInt(val["y"])
		if okX && okY {
			return grid.Position{X: x, Y: y}, nil
		}
	case []any:
		if len(val) == 2 {
			x, okX := toInt(val[0])
			y, okY := toInt(val[1])
			if okX && okY {
				return grid.Position{X: x, Y: y}, nil
			}
		}
	}
	return grid.Position{}, fmt.Errorf("behavior: destination %v is not a position: %w", v, ErrNoChoice)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
