package universe

import "context"

// Unreachable is returned by Distance when no gate route exists.
const Unreachable = -1

// Oracle answers jump-distance questions about the universe topology.
type Oracle interface {
	// Distance returns the gate distance in jumps between two locations,
	// Unreachable when no route connects them.
	Distance(ctx context.Context, from, to int32) (int, error)
}

// WithinRadius reports whether system lies within radius jumps of any anchor.
// Radius zero means the system must be an anchor itself.
func WithinRadius(ctx context.Context, o Oracle, system int32, anchors []int32, radius int) (bool, error) {
	for _, a := range anchors {
		if a == system {
			return true, nil
		}
	}
	if radius <= 0 {
		return false, nil
	}
	for _, a := range anchors {
		d, err := o.Distance(ctx, system, a)
		if err != nil {
			return false, err
		}
		if d != Unreachable && d <= radius {
			return true, nil
		}
	}
	return false, nil
}

// ProximityWeight maps the nearest-anchor distance onto [0, 1]. An anchor
// system scores 1.0, weight falls off linearly and reaches zero just past
// the radius.
func ProximityWeight(ctx context.Context, o Oracle, system int32, anchors []int32, radius int) (float64, error) {
	if len(anchors) == 0 {
		return 0, nil
	}
	best := Unreachable
	for _, a := range anchors {
		if a == system {
			return 1.0, nil
		}
		d, err := o.Distance(ctx, system, a)
		if err != nil {
			return 0, err
		}
		if d == Unreachable {
			continue
		}
		if best == Unreachable || d < best {
			best = d
		}
	}
	if best == Unreachable || radius <= 0 || best > radius {
		return 0, nil
	}
	return float64(radius-best+1) / float64(radius+1), nil
}
