package geom

import "math"

// Path is an ordered series of poses in one frame, as produced by a
// planner.
type Path struct {
	Frame string `json:"frame"`
	Poses []Pose `json:"poses"`
}

// Length returns the summed segment length of the whole path.
func (p *Path) Length() float64 {
	if p == nil || len(p.Poses) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(p.Poses); i++ {
		total += p.Poses[i-1].Distance(p.Poses[i])
	}
	return total
}

// RemainingLength returns the path length still ahead of the given
// pose: the distance from the pose to its nearest path point plus the
// segments after that point.
func (p *Path) RemainingLength(from Pose) float64 {
	if p == nil || len(p.Poses) == 0 {
		return 0
	}
	nearest := 0
	best := math.Inf(1)
	for i, wp := range p.Poses {
		if d := from.Distance(wp); d < best {
			best = d
			nearest = i
		}
	}
	total := best
	for i := nearest + 1; i < len(p.Poses); i++ {
		total += p.Poses[i-1].Distance(p.Poses[i])
	}
	return total
}

// Equal reports whether two paths carry the same poses in the same
// frame. The follower uses it to suppress re-issuing an unchanged path.
func (p *Path) Equal(other *Path) bool {
	if p == nil || other == nil {
		return p == other
	}
	if p.Frame != other.Frame || len(p.Poses) != len(other.Poses) {
		return false
	}
	for i := range p.Poses {
		if p.Poses[i] != other.Poses[i] {
			return false
		}
	}
	return true
}

// Line builds a straight path from a to b sampled every step meters,
// endpoints included, with every pose heading along the segment.
func Line(a, b Pose, step float64) *Path {
	if step <= 0 {
		step = 0.1
	}
	dist := a.Distance(b)
	heading := math.Atan2(b.Y-a.Y, b.X-a.X)
	n := int(dist / step)
	poses := make([]Pose, 0, n+2)
	for i := 0; i <= n; i++ {
		t := float64(i) * step / math.Max(dist, 1e-9)
		poses = append(poses, Pose{
			X:     a.X + (b.X-a.X)*t,
			Y:     a.Y + (b.Y-a.Y)*t,
			Theta: heading,
		})
	}
	last := Pose{X: b.X, Y: b.Y, Theta: b.Theta}
	if len(poses) == 0 || poses[len(poses)-1] != last {
		poses = append(poses, last)
	}
	return &Path{Frame: "map", Poses: poses}
}
