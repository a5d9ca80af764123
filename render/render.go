// Package render draws grid snapshots on a terminal with tcell
package render

import (
	"context"
	"fmt"

	"github.com/gdamore/tcell/v2"

	"officesim/shared"
)

const (
	agentRune    = '@'
	frontierRune = '+'
)

// StatusStyle colours an agent by its path status: searching is green,
// following is red and idle is white.
func StatusStyle(status string) tcell.Style {
	switch status {
	case "searching":
		return tcell.StyleDefault.Foreground(tcell.ColorGreen).Bold(true)
	case "following":
		return tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
	default:
		return tcell.StyleDefault.Foreground(tcell.ColorWhite).Bold(true)
	}
}

func tileStyle(glyph byte) tcell.Style {
	switch glyph {
	case '#':
		return tcell.StyleDefault.Foreground(tcell.ColorGray)
	case 'D':
		return tcell.StyleDefault.Foreground(tcell.ColorYellow)
	case 'f':
		return tcell.StyleDefault.Foreground(tcell.ColorOlive)
	case 'i':
		return tcell.StyleDefault.Foreground(tcell.ColorTeal)
	case '.':
		return tcell.StyleDefault.Foreground(tcell.ColorDarkGreen)
	default:
		return tcell.StyleDefault
	}
}

// Renderer paints GridState values onto a screen
type Renderer struct {
	screen tcell.Screen
}

func New(screen tcell.Screen) *Renderer {
	return &Renderer{screen: screen}
}

// Draw paints gs with the top row of the map on the first line and a status
// line underneath
func (r *Renderer) Draw(gs shared.GridState) {
	r.screen.Clear()
	for i, row := range gs.Rows {
		for x := 0; x < len(row); x++ {
			r.screen.SetContent(x, i, rune(row[x]), nil, tileStyle(row[x]))
		}
	}
	for _, a := range gs.Agents {
		if a.Frontier == nil {
			continue
		}
		if row, col, ok := gs.Cell(*a.Frontier); ok {
			r.screen.SetContent(col, row, frontierRune, nil, StatusStyle(a.Status))
		}
	}
	for _, a := range gs.Agents {
		if row, col, ok := gs.Cell(gs.VisualCell(a)); ok {
			r.screen.SetContent(col, row, agentRune, nil, StatusStyle(a.Status))
		}
	}

	counts := map[string]int{}
	indoors := 0
	for _, a := range gs.Agents {
		counts[a.Status]++
		if a.Indoors {
			indoors++
		}
	}
	line := fmt.Sprintf("tick %d  agents %d  indoors %d  searching %d  following %d  idle %d  (q to quit)",
		gs.Tick, len(gs.Agents), indoors, counts["searching"], counts["following"], counts["idle"])
	drawText(r.screen, 0, gs.Height+1, line, tcell.StyleDefault)
	r.screen.Show()
}

func drawText(s tcell.Screen, x, y int, text string, style tcell.Style) {
	for i, ch := range text {
		s.SetContent(x+i, y, ch, nil, style)
	}
}

// isQuit reports q, Esc and Ctrl-C
func isQuit(ev *tcell.EventKey) bool {
	return ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC ||
		(ev.Key() == tcell.KeyRune && ev.Rune() == 'q')
}

// Run draws every state received until the user quits, ctx ends or states is
// closed. The last state is redrawn on resize.
func (r *Renderer) Run(ctx context.Context, states <-chan shared.GridState) error {
	events := make(chan tcell.Event, 100)
	go func() {
		for {
			ev := r.screen.PollEvent()
			if ev == nil {
				close(events)
				return
			}
			events <- ev
		}
	}()

	var last *shared.GridState
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if isQuit(ev) {
					return nil
				}
			case *tcell.EventResize:
				r.screen.Sync()
				if last != nil {
					r.Draw(*last)
				}
			}
		case gs, ok := <-states:
			if !ok {
				return nil
			}
			last = &gs
			r.Draw(gs)
		}
	}
}
