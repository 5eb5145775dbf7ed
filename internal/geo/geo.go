package geo

// Rect is an axis-aligned region on a document page, in page units.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) IsZero() bool {
	return r.X == 0 && r.Y == 0 && r.Width == 0 && r.Height == 0
}

// Overlaps reports whether two rectangles share any area. Two rectangles
// are disjoint only when one's right or bottom edge lies strictly before
// the other's left or top edge; edges that merely touch still overlap.
func Overlaps(a, b Rect) bool {
	if a.X+a.Width < b.X || b.X+b.Width < a.X {
		return false
	}
	if a.Y+a.Height < b.Y || b.Y+b.Height < a.Y {
		return false
	}
	return true
}
