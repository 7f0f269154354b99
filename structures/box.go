package structures

// BoxXYWH is an axis-aligned box in image coordinates, stored as the
// top-left corner and size.
type BoxXYWH struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Contains reports whether the point (x, y) falls inside the box. The top and
// left edges are inclusive, the bottom and right edges exclusive, so grids
// rasterized over the box index safely.
func (b BoxXYWH) Contains(x, y float64) bool {
	return x >= b.X && x < b.X+b.W && y >= b.Y && y < b.Y+b.H
}
