// Package level loads level files into the spatial index. A level is a YAML
// document with a glyph legend, map rows and optional tag overlays; tags are
// applied additively in that order.
package level

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"officesim/grid"
)

var ErrEmptyLevel = errors.New("level has no rows")

//go:embed office.yaml
var defaultOffice []byte

// DefaultLegend is used when a level file carries no legend
var DefaultLegend = map[string][]string{
	".": {"Outside"},
	"#": {"Wall"},
	"D": {"Door"},
	"i": {"Inside"},
	"f": {"Inside", "Furniture"},
}

// Level is the parsed form of a level file
type Level struct {
	Name     string              `yaml:"name"`
	Legend   map[string][]string `yaml:"legend"`
	Rows     []string            `yaml:"rows"`
	Overlays []Overlay           `yaml:"overlays"`
}

// Overlay adds tags to a set of already registered cells
type Overlay struct {
	Layer string          `yaml:"layer"`
	Tags  []string        `yaml:"tags"`
	Cells []grid.Position `yaml:"cells"`
}

// Parse decodes a level document
func Parse(data []byte) (*Level, error) {
	var l Level
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("level: unmarshal: %w", err)
	}
	if len(l.Rows) == 0 {
		return nil, ErrEmptyLevel
	}
	if l.Legend == nil {
		l.Legend = DefaultLegend
	}
	return &l, nil
}

// Load reads and parses the level file at path
func Load(path string) (*Level, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("level: load %s: %w", path, err)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("level: %s: %w", path, err)
	}
	return l, nil
}

// Default returns the embedded office level
func Default() *Level {
	l, err := Parse(defaultOffice)
	if err != nil {
		panic(fmt.Sprintf("level: embedded office: %v", err))
	}
	return l
}

// LoadOrDefault loads path, or the embedded office when path is empty
func LoadOrDefault(path string) (*Level, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Size returns the width and height of the map
func (l *Level) Size() (int, int) {
	w := 0
	for _, r := range l.Rows {
		w = max(w, len(r))
	}
	return w, len(l.Rows)
}

// Build registers every mapped cell into a new index and applies the legend
// and overlay tags. Problems with the data are returned as warnings: a glyph
// missing from the legend registers a tile with no flags, which is never
// walkable. A space is left unregistered unless the legend names it.
func (l *Level) Build() (*grid.Index, []string, error) {
	if len(l.Rows) == 0 {
		return nil, nil, ErrEmptyLevel
	}
	legend := l.Legend
	if legend == nil {
		legend = DefaultLegend
	}

	ix := grid.NewIndex()
	var warnings []string
	height := len(l.Rows)
	missing := make(map[string]int)

	for i, row := range l.Rows {
		y := height - 1 - i
		for x, r := range []rune(row) {
			glyph := string(r)
			tags, known := legend[glyph]
			if !known && glyph == " " {
				continue
			}
			p := grid.Position{X: x, Y: y}
			if _, err := ix.Register(p); err != nil {
				return nil, warnings, err
			}
			if !known {
				missing[glyph]++
				continue
			}
			flags, unknown := grid.ParseTags(tags)
			for _, tag := range unknown {
				warnings = append(warnings, fmt.Sprintf("%v: unknown tag %q", p, tag))
			}
			if err := ix.Tag(p, flags, ""); err != nil {
				return nil, warnings, err
			}
		}
	}

	glyphs := make([]string, 0, len(missing))
	for g := range missing {
		glyphs = append(glyphs, g)
	}
	sort.Strings(glyphs)
	for _, g := range glyphs {
		warnings = append(warnings, fmt.Sprintf("glyph %q not in legend (%d cells left unwalkable)", g, missing[g]))
	}

	for _, o := range l.Overlays {
		flags, unknown := grid.ParseTags(o.Tags)
		for _, tag := range unknown {
			warnings = append(warnings, fmt.Sprintf("overlay %s: unknown tag %q", o.Layer, tag))
		}
		for _, p := range o.Cells {
			err := ix.Tag(p, flags, o.Layer)
			if errors.Is(err, grid.ErrUnknownTile) {
				warnings = append(warnings, fmt.Sprintf("overlay %s: %v is not on the map", o.Layer, p))
				continue
			}
			if err != nil {
				return nil, warnings, err
			}
		}
	}

	ix.Seal()
	return ix, warnings, nil
}
