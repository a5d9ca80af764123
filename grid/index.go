package grid

import (
	"errors"
	"fmt"
	"iter"
	"sort"
)

var (
	ErrUnknownTile = errors.New("tile not registered")
	ErrSealed      = errors.New("spatial index is sealed")
)

// Index maps grid coordinates to static tile records. It is written while a
// level loads and read-only once sealed, so readers need no locking.
type Index struct {
	tiles     map[Position]Tile
	positions []Position // by handle
	minX      int
	minY      int
	maxX      int
	maxY      int
	sealed    bool
}

// NewIndex creates an empty spatial index
func NewIndex() *Index {
	return &Index{
		tiles: make(map[Position]Tile),
	}
}

// Register creates the tile record for p with default (zero) flags. The first
// registration wins; registering p again returns the existing handle.
func (ix *Index) Register(p Position) (TileHandle, error) {
	if t, ok := ix.tiles[p]; ok {
		return t.Handle, nil
	}
	if ix.sealed {
		return 0, fmt.Errorf("register %v: %w", p, ErrSealed)
	}
	h := TileHandle(len(ix.positions))
	ix.tiles[p] = Tile{Handle: h}
	ix.positions = append(ix.positions, p)
	ix.grow(p)
	return h, nil
}

func (ix *Index) grow(p Position) {
	if len(ix.positions) == 1 {
		ix.minX, ix.maxX, ix.minY, ix.maxY = p.X, p.X, p.Y, p.Y
		return
	}
	ix.minX = min(ix.minX, p.X)
	ix.maxX = max(ix.maxX, p.X)
	ix.minY = min(ix.minY, p.Y)
	ix.maxY = max(ix.maxY, p.Y)
}

// Tag ORs flags into the record at p and sets its layer when one is given.
// Flags are never cleared: a later partial tag cannot erase earlier ones.
func (ix *Index) Tag(p Position, flags TileFlags, layer string) error {
	if ix.sealed {
		return fmt.Errorf("tag %v: %w", p, ErrSealed)
	}
	t, ok := ix.tiles[p]
	if !ok {
		return fmt.Errorf("tag %v: %w", p, ErrUnknownTile)
	}
	t.Flags |= flags
	if layer != "" {
		t.Layer = layer
	}
	ix.tiles[p] = t
	return nil
}

// Seal ends the load phase. Further registration or tagging fails.
func (ix *Index) Seal() { ix.sealed = true }

func (ix *Index) Sealed() bool { return ix.sealed }

// Lookup returns the tile record at p
func (ix *Index) Lookup(p Position) (Tile, bool) {
	t, ok := ix.tiles[p]
	return t, ok
}

// Handle returns the tile handle registered at p
func (ix *Index) Handle(p Position) (TileHandle, bool) {
	t, ok := ix.tiles[p]
	return t.Handle, ok
}

// PositionOf resolves a handle back to its coordinate
func (ix *Index) PositionOf(h TileHandle) (Position, bool) {
	if h < 0 || int(h) >= len(ix.positions) {
		return Position{}, false
	}
	return ix.positions[h], true
}

// Neighbors8 yields the registered cells around p. The origin and cells that
// were never registered are skipped.
func (ix *Index) Neighbors8(p Position) iter.Seq2[Position, Tile] {
	return func(yield func(Position, Tile) bool) {
		for _, d := range neighborOffsets {
			n := p.Add(d)
			t, ok := ix.tiles[n]
			if !ok {
				continue
			}
			if !yield(n, t) {
				return
			}
		}
	}
}

// IsTraversableTo applies the tile traversal rule between two registered
// cells. Unregistered cells are never traversable.
func (ix *Index) IsTraversableTo(from, to Position) bool {
	a, ok := ix.tiles[from]
	if !ok {
		return false
	}
	b, ok := ix.tiles[to]
	if !ok {
		return false
	}
	return a.IsTraversableTo(b)
}

// Len returns the number of registered tiles
func (ix *Index) Len() int { return len(ix.positions) }

// Bounds returns the inclusive bounding box of registered cells
func (ix *Index) Bounds() (lo, hi Position) {
	return Position{X: ix.minX, Y: ix.minY}, Position{X: ix.maxX, Y: ix.maxY}
}

// Positions returns every registered coordinate in row-major order
func (ix *Index) Positions() []Position {
	out := make([]Position, len(ix.positions))
	copy(out, ix.positions)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}
