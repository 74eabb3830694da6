// Package history selects the stored samples a chart request asks for and
// thins them to a drawable number of points.
package history

// DefaultDisplayCap is the number of points a chart is expected to draw.
const DefaultDisplayCap = 200

// Downsample keeps every stride-th element of in, starting at index 0, where
// stride = ceil(len(in)/maxPoints). Inputs already within maxPoints, or a
// non-positive maxPoints, come back unchanged. Points between the kept
// indices are dropped rather than averaged, so short spikes can disappear.
func Downsample[T any](in []T, maxPoints int) []T {
	n := len(in)
	if maxPoints <= 0 || n <= maxPoints {
		return in
	}
	stride := (n + maxPoints - 1) / maxPoints
	out := make([]T, 0, (n+stride-1)/stride)
	for i := 0; i < n; i += stride {
		out = append(out, in[i])
	}
	return out
}
