package game

// Vec2 is a position or velocity in playfield units
type Vec2 struct {
	X float32 `json:"x" msgpack:"x"`
	Y float32 `json:"y" msgpack:"y"`
}

// Add returns v + o
func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{X: v.X + o.X, Y: v.Y + o.Y}
}

// Sub returns v - o
func (v Vec2) Sub(o Vec2) Vec2 {
	return Vec2{X: v.X - o.X, Y: v.Y - o.Y}
}

// Scale returns v * s
func (v Vec2) Scale(s float32) Vec2 {
	return Vec2{X: v.X * s, Y: v.Y * s}
}

// LengthSq returns the squared length of v
func (v Vec2) LengthSq() float32 {
	return v.X*v.X + v.Y*v.Y
}

// circlesOverlap reports whether two circles touch or intersect
func circlesOverlap(p1 Vec2, r1 float32, p2 Vec2, r2 float32) bool {
	sum := r1 + r2
	return p2.Sub(p1).LengthSq() <= sum*sum
}

// wrap moves a point that left the playfield to the opposite edge
func wrap(p Vec2, width, height float32) Vec2 {
	if p.X < 0 {
		p.X = width
	} else if p.X > width {
		p.X = 0
	}
	if p.Y < 0 {
		p.Y = height
	} else if p.Y > height {
		p.Y = 0
	}
	return p
}

func inBounds(p Vec2, width, height float32) bool {
	return p.X >= 0 && p.X <= width && p.Y >= 0 && p.Y <= height
}
