package behavior

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"google.golang.org/genai"

	"officesim/grid"
)

//go:embed prompt_template.txt
var promptTemplate string

var promptTmpl = template.Must(template.New("prompt").Parse(promptTemplate))

// maxPromptCandidates keeps prompts short on large maps
const maxPromptCandidates = 40

var answerPattern = regexp.MustCompile(`(-?\d+)\s*,\s*(-?\d+)`)

// PromptData holds the data for the prompt template
type PromptData struct {
	AgentID    int
	X          int
	Y          int
	Origin     grid.Position
	Width      int
	Height     int
	Rows       []string
	Others     []grid.Position
	Candidates []grid.Position
}

type generateFunc func(ctx context.Context, prompt string) (string, error)

// GeminiPicker asks a Gemini model where the agent should go
type GeminiPicker struct {
	generate generateFunc
}

// NewGeminiPicker creates a picker backed by the Gemini API
func NewGeminiPicker(ctx context.Context, apiKey, model string) (*GeminiPicker, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("behavior: create gemini client: %w", err)
	}

	temperature := float32(1.0)
	return &GeminiPicker{
		generate: func(ctx context.Context, prompt string) (string, error) {
			result, err := client.Models.GenerateContent(
				ctx,
				model,
				genai.Text(prompt),
				&genai.GenerateContentConfig{
					Temperature: &temperature,
				},
			)
			if err != nil {
				return "", err
			}
			return result.Text(), nil
		},
	}, nil
}

func (p *GeminiPicker) Pick(ctx context.Context, req Request) (grid.Position, error) {
	prompt, cands, err := BuildPrompt(req)
	if err != nil {
		return grid.Position{}, err
	}
	if len(cands) == 0 {
		return grid.Position{}, ErrNoChoice
	}

	response, err := p.generate(ctx, prompt)
	if err != nil {
		return grid.Position{}, fmt.Errorf("behavior: generate content: %w", err)
	}
	response = strings.TrimSpace(response)

	m := answerPattern.FindStringSubmatch(response)
	if m == nil {
		return grid.Position{}, fmt.Errorf("behavior: unreadable answer %q: %w", response, ErrNoChoice)
	}
	x, _ := strconv.Atoi(m[1])
	y, _ := strconv.Atoi(m[2])
	dest := grid.Position{X: x, Y: y}
	for _, c := range cands {
		if c == dest {
			return dest, nil
		}
	}
	return grid.Position{}, fmt.Errorf("behavior: answer %v is not an offered cell: %w", dest, ErrNoChoice)
}

// BuildPrompt renders the prompt for req and returns the cells it offers
func BuildPrompt(req Request) (string, []grid.Position, error) {
	self, ok := req.Agent()
	if !ok {
		return "", nil, fmt.Errorf("behavior: agent %d not in state: %w", req.AgentID, ErrNoChoice)
	}
	data := PromptData{
		AgentID:    self.ID,
		X:          self.Position.X,
		Y:          self.Position.Y,
		Origin:     req.State.Origin,
		Width:      req.State.Width,
		Height:     req.State.Height,
		Rows:       req.State.Rows,
		Candidates: sample(Candidates(req.State), maxPromptCandidates),
	}
	for _, a := range req.State.Agents {
		if a.ID != self.ID {
			data.Others = append(data.Others, a.Position)
		}
	}

	var prompt bytes.Buffer
	if err := promptTmpl.Execute(&prompt, data); err != nil {
		return "", nil, fmt.Errorf("behavior: execute prompt template: %w", err)
	}
	return prompt.String(), data.Candidates, nil
}

// sample takes n evenly spaced elements
func sample(ps []grid.Position, n int) []grid.Position {
	if len(ps) <= n {
		return ps
	}
	out := make([]grid.Position, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ps[i*len(ps)/n])
	}
	return out
}
