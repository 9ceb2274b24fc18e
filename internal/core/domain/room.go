package domain

// Rect is the rectangular play boundary of a room.
type Rect struct {
	X      float64 `yaml:"x" json:"x"`
	Y      float64 `yaml:"y" json:"y"`
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
}

func (r Rect) Right() float64  { return r.X + r.Width }
func (r Rect) Bottom() float64 { return r.Y + r.Height }

type SpawnPoint struct {
	X      float64
	Y      float64
	Facing int
}

// Bounds is the region a body centre may occupy inside a Rect.
type Bounds struct {
	MinX, MaxX  float64
	MinY, Floor float64
}

// BoundsFor insets r by the given half extents. Degenerate rectangles
// collapse to their centre line.
func BoundsFor(r Rect, halfWidth, halfHeight float64) Bounds {
	b := Bounds{
		MinX:  r.X + halfWidth,
		MaxX:  r.Right() - halfWidth,
		MinY:  r.Y + halfHeight,
		Floor: r.Bottom() - halfHeight,
	}
	if b.MaxX < b.MinX {
		mid := r.X + r.Width/2
		b.MinX, b.MaxX = mid, mid
	}
	if b.Floor < b.MinY {
		mid := r.Y + r.Height/2
		b.MinY, b.Floor = mid, mid
	}
	return b
}

// SpawnPointsFor places the two duel spawns on the floor at a quarter of the
// width from each side, facing each other.
func SpawnPointsFor(r Rect, halfWidth, halfHeight float64) []SpawnPoint {
	b := BoundsFor(r, halfWidth, halfHeight)
	left := clampRange(r.X+r.Width*0.25, b.MinX, b.MaxX)
	right := clampRange(r.X+r.Width*0.75, b.MinX, b.MaxX)
	return []SpawnPoint{
		{X: left, Y: b.Floor, Facing: 1},
		{X: right, Y: b.Floor, Facing: -1},
	}
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
