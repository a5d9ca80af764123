package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustIndex(t *testing.T, cells map[Position][]string) *Index {
	t.Helper()
	ix := NewIndex()
	for p, tags := range cells {
		_, err := ix.Register(p)
		require.NoError(t, err)
		flags, unknown := ParseTags(tags)
		require.Empty(t, unknown)
		require.NoError(t, ix.Tag(p, flags, ""))
	}
	ix.Seal()
	return ix
}

func TestTraversabilityScenario(t *testing.T) {
	a := Position{X: 0, Y: 0}
	b := Position{X: 1, Y: 0}
	c := Position{X: 2, Y: 0}
	d := Position{X: 3, Y: 0}
	ix := mustIndex(t, map[Position][]string{
		a: {"Outside"},
		b: {"Door"},
		c: {"Inside"},
		d: {"Wall"},
	})

	assert.True(t, ix.IsTraversableTo(a, b), "outside -> door")
	assert.True(t, ix.IsTraversableTo(b, c), "door -> inside")
	assert.True(t, ix.IsTraversableTo(c, b), "inside -> door")
	assert.False(t, ix.IsTraversableTo(a, c), "outside -> inside without a door")
	assert.False(t, ix.IsTraversableTo(c, a), "inside -> outside without a door")
	for _, from := range []Position{a, b, c} {
		assert.False(t, ix.IsTraversableTo(from, d), "anything -> wall from %v", from)
	}
}

func TestTileWalkability(t *testing.T) {
	tests := []struct {
		name        string
		tags        []string
		walkable    bool
		destination bool
	}{
		{"outside", []string{"Outside"}, true, true},
		{"inside", []string{"Inside"}, true, true},
		{"door", []string{"Door"}, true, false},
		{"wall", []string{"Wall"}, false, false},
		{"inside furniture", []string{"Inside", "Furniture"}, false, false},
		{"wall wins over terrain", []string{"Outside", "Wall"}, false, false},
		{"untagged", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, _ := ParseTags(tt.tags)
			tile := Tile{Flags: flags}
			assert.Equal(t, tt.walkable, tile.IsWalkable())
			assert.Equal(t, tt.destination, tile.IsValidDestination())
		})
	}
}

func TestParseTagsReportsUnknown(t *testing.T) {
	flags, unknown := ParseTags([]string{"outside", "Lava", " Roof "})
	assert.True(t, flags.Has(FlagOutside|FlagTraversable|FlagRoof))
	assert.Equal(t, []string{"Lava"}, unknown)

	flags, unknown = ParseTags([]string{"Carpet"})
	assert.Equal(t, TileFlags(0), flags)
	assert.Len(t, unknown, 1)
}

func TestInsideImpliesRoof(t *testing.T) {
	flags, _ := ParseTags([]string{"Inside"})
	tile := Tile{Flags: flags}
	assert.True(t, tile.IsRoof())
	assert.True(t, tile.IsIndoor())
	assert.False(t, tile.IsOutside())
}

func TestRegisterFirstWins(t *testing.T) {
	ix := NewIndex()
	p := Position{X: 4, Y: 2}
	h1, err := ix.Register(p)
	require.NoError(t, err)
	require.NoError(t, ix.Tag(p, FlagOutside|FlagTraversable, "ground"))

	h2, err := ix.Register(p)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, ix.Len())

	tile, ok := ix.Lookup(p)
	require.True(t, ok)
	assert.Equal(t, "ground", tile.Layer)
	assert.True(t, tile.IsWalkable(), "re-registration must not reset flags")
}

func TestTagIsAdditive(t *testing.T) {
	ix := NewIndex()
	p := Position{X: 1, Y: 1}
	_, err := ix.Register(p)
	require.NoError(t, err)
	require.NoError(t, ix.Tag(p, FlagInside|FlagTraversable, ""))
	require.NoError(t, ix.Tag(p, FlagFurniture, ""))
	require.NoError(t, ix.Tag(p, 0, ""))

	tile, _ := ix.Lookup(p)
	assert.True(t, tile.Flags.Has(FlagInside|FlagTraversable|FlagFurniture))
}

func TestTagErrors(t *testing.T) {
	ix := NewIndex()
	err := ix.Tag(Position{}, FlagWall, "")
	assert.ErrorIs(t, err, ErrUnknownTile)

	_, err = ix.Register(Position{})
	require.NoError(t, err)
	ix.Seal()
	assert.ErrorIs(t, ix.Tag(Position{}, FlagWall, ""), ErrSealed)
	_, err = ix.Register(Position{X: 9})
	assert.ErrorIs(t, err, ErrSealed)

	// re-registering an existing tile stays a no-op after sealing
	_, err = ix.Register(Position{})
	assert.NoError(t, err)
}

func TestNeighbors8SkipsOriginAndUnregistered(t *testing.T) {
	cells := map[Position][]string{}
	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			cells[Position{X: x, Y: y}] = []string{"Outside"}
		}
	}
	ix := mustIndex(t, cells)

	var center []Position
	for p := range ix.Neighbors8(Position{X: 1, Y: 1}) {
		center = append(center, p)
	}
	assert.Len(t, center, 8)
	assert.NotContains(t, center, Position{X: 1, Y: 1})

	var corner []Position
	for p := range ix.Neighbors8(Position{X: 0, Y: 0}) {
		corner = append(corner, p)
	}
	assert.ElementsMatch(t, []Position{{X: 1, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}}, corner)
}

func TestHandleRoundTrip(t *testing.T) {
	ix := NewIndex()
	for x := 0; x < 5; x++ {
		_, err := ix.Register(Position{X: x, Y: 7})
		require.NoError(t, err)
	}
	h, ok := ix.Handle(Position{X: 3, Y: 7})
	require.True(t, ok)
	p, ok := ix.PositionOf(h)
	require.True(t, ok)
	assert.Equal(t, Position{X: 3, Y: 7}, p)

	_, ok = ix.PositionOf(TileHandle(99))
	assert.False(t, ok)

	lo, hi := ix.Bounds()
	assert.Equal(t, Position{X: 0, Y: 7}, lo)
	assert.Equal(t, Position{X: 4, Y: 7}, hi)
}

func TestWorldConversion(t *testing.T) {
	p := Position{X: 3, Y: 5}
	w := ToWorld(p, 16)
	assert.Equal(t, Vec2{X: 56, Y: 88}, w)
	assert.Equal(t, p, FromWorld(w, 16))

	neg := Position{X: -1, Y: -2}
	assert.Equal(t, neg, FromWorld(ToWorld(neg, 16), 16))
	assert.Equal(t, Position{X: -1, Y: 0}, FromWorld(Vec2{X: -0.5, Y: 15.9}, 16), "floors towards negative infinity")
}

func TestAdjacencyAndOrdering(t *testing.T) {
	p := Position{X: 2, Y: 2}
	assert.True(t, p.IsAdjacent(Position{X: 3, Y: 3}))
	assert.False(t, p.IsAdjacent(p))
	assert.False(t, p.IsAdjacent(Position{X: 4, Y: 2}))

	ordered := Position{X: 0, Y: 0}.OrderedNeighbors(Position{X: 5, Y: 0})
	require.Len(t, ordered, 8)
	assert.Equal(t, Position{X: 4, Y: 0}, ordered[0])
	assert.InDelta(t, 3.0, Distance(Position{}, Position{X: 3, Y: 0}), 1e-9)
}
