// Package palette derives a stable cursor color for a user id, grounded on
// MattFrayser-whiteboard-backend's getRandomHex golden-ratio HSL hash. That
// implementation used a shared rotating counter (first-come gets the
// prettiest spread); this one hashes userId itself so the same user gets
// the same color across reconnects.
package palette

import (
	"hash/fnv"

	"github.com/lucasb-eyer/go-colorful"
)

const goldenRatio = 0.618033988749895

// ColorFor derives a deterministic, well-distributed hex color from a user
// id: FNV-1a hash the id into a uint64, fold it to a fractional hue seed,
// then apply the golden-ratio offset so adjacent hashes still spread
// across the hue wheel instead of clustering.
func ColorFor(userID string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	seed := float64(h.Sum64()%1_000_000) / 1_000_000

	hue := seed + goldenRatio
	hue -= float64(int(hue))

	c := colorful.Hsl(hue*360, 0.85, 0.55)
	return c.Hex()
}
