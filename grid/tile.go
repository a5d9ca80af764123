package grid

import "strings"

// TileFlags is the bitset of static traversability flags of a tile
type TileFlags uint16

const (
	FlagTraversable TileFlags = 1 << iota
	FlagOutside
	FlagInside
	FlagWall
	FlagDoor
	FlagFurniture
	FlagRoof
)

var flagNames = [...]struct {
	flag TileFlags
	name string
}{
	{FlagTraversable, "Traversable"},
	{FlagOutside, "Outside"},
	{FlagInside, "Inside"},
	{FlagWall, "Wall"},
	{FlagDoor, "Door"},
	{FlagFurniture, "Furniture"},
	{FlagRoof, "Roof"},
}

// Has reports whether every flag in g is set in f
func (f TileFlags) Has(g TileFlags) bool {
	return f&g == g
}

// Any reports whether at least one flag in g is set in f
func (f TileFlags) Any(g TileFlags) bool {
	return f&g != 0
}

func (f TileFlags) String() string {
	if f == 0 {
		return "None"
	}
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, "|")
}

// tagFlags maps level tags to the flags they contribute. Terrain tags imply
// traversable terrain; Inside also puts a roof over the tile.
var tagFlags = map[string]TileFlags{
	"traversable": FlagTraversable,
	"outside":     FlagOutside | FlagTraversable,
	"inside":      FlagInside | FlagTraversable | FlagRoof,
	"door":        FlagDoor | FlagTraversable,
	"wall":        FlagWall,
	"furniture":   FlagFurniture,
	"roof":        FlagRoof,
}

// ParseTags folds level tags into flags. Unknown tags are returned separately
// so the caller can report them; they never contribute flags.
func ParseTags(tags []string) (TileFlags, []string) {
	var flags TileFlags
	var unknown []string
	for _, tag := range tags {
		f, ok := tagFlags[strings.ToLower(strings.TrimSpace(tag))]
		if !ok {
			unknown = append(unknown, tag)
			continue
		}
		flags |= f
	}
	return flags, unknown
}

// TileHandle identifies the underlying tile object of a registered cell
type TileHandle int32

// Tile is the static record of one grid cell
type Tile struct {
	Handle TileHandle
	Flags  TileFlags
	Layer  string // owning visual layer, empty when unset
}

// IsWalkable reports whether an agent may stand on the tile
func (t Tile) IsWalkable() bool {
	// Walls are never walkable
	if t.Flags.Has(FlagWall) {
		return false
	}
	// Furniture blocks movement
	if t.Flags.Has(FlagFurniture) {
		return false
	}
	return t.Flags.Has(FlagTraversable)
}

// IsValidDestination reports whether a walk may end on the tile. Doors are
// passages, not places to stop.
func (t Tile) IsValidDestination() bool {
	if t.Flags.Has(FlagDoor) {
		return false
	}
	return t.IsWalkable()
}

// IsIndoor reports a tile inside a building, doors included
func (t Tile) IsIndoor() bool {
	return t.Flags.Any(FlagDoor | FlagInside)
}

func (t Tile) IsOutside() bool { return t.Flags.Has(FlagOutside) }
func (t Tile) IsWall() bool    { return t.Flags.Has(FlagWall) }
func (t Tile) IsRoof() bool    { return t.Flags.Has(FlagRoof) }

// IsTraversableTo reports whether an agent standing on t may step onto dest.
// Inside and outside areas only connect through doors.
func (t Tile) IsTraversableTo(dest Tile) bool {
	if !dest.IsWalkable() {
		return false
	}
	if t.Flags.Has(FlagOutside) && dest.Flags.Has(FlagOutside) {
		return true
	}
	if t.Flags.Has(FlagInside) && dest.Flags.Has(FlagInside) {
		return true
	}
	return t.Flags.Has(FlagDoor) || dest.Flags.Has(FlagDoor)
}

// Glyph is the single-character map symbol of the tile: '#' wall,
// 'f' furniture, 'D' door, 'i' inside, '.' outside, '?' anything else.
func (t Tile) Glyph() byte {
	switch {
	case t.Flags.Has(FlagWall):
		return '#'
	case t.Flags.Has(FlagFurniture):
		return 'f'
	case t.Flags.Has(FlagDoor):
		return 'D'
	case t.Flags.Has(FlagInside):
		return 'i'
	case t.Flags.Has(FlagOutside):
		return '.'
	default:
		return '?'
	}
}
