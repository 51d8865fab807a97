package presence

import (
	"hash/fnv"

	"github.com/lucasb-eyer/go-colorful"
)

// NormalizeColor returns requested as a lowercase #rrggbb string, or a
// stable color derived from the user id when requested is not a valid hex
// color.
func NormalizeColor(requested, userID string) string {
	if requested != "" {
		if c, err := colorful.Hex(requested); err == nil {
			return c.Hex()
		}
	}
	return ColorFor(userID)
}

// ColorFor derives a saturated, readable color from a user id.
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	hue := float64(h.Sum32() % 360)
	return colorful.Hsv(hue, 0.65, 0.85).Clamped().Hex()
}
