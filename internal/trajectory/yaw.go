package trajectory

import (
	"fmt"
	"math"

	"github.com/samcharles93/waypoint/internal/config"
)

const (
	yawBlock = 5
	// minimum displacement over a block for its heading to count
	yawMinDistance = 0.1
	// hybrid mode keeps predicted yaw up to this magnitude
	yawChangeThreshold = 0.1
)

// PostprocessYaw rewrites the yaw channel (last of 4) of r in place.
// "interplate" replaces every yaw with the heading of the displacement over
// its 5-frame block; "hybrid" does so only where the predicted yaw exceeds
// the change threshold. Frames past the last full block keep their yaw.
func PostprocessYaw(r *Result, mode string) error {
	switch mode {
	case config.YawNormal:
		return nil
	case config.YawInterplate, config.YawHybrid:
	default:
		return fmt.Errorf("%w: postprocess_yaw %q", config.ErrInvalidConfig, mode)
	}
	if r.Width != 4 {
		return nil
	}
	for b := 0; b < r.B; b++ {
		for blk := 0; blk+yawBlock <= r.Steps; blk += yawBlock {
			first, last := r.At(b, blk), r.At(b, blk+yawBlock-1)
			dx, dy := float64(last[0]-first[0]), float64(last[1]-first[1])
			var heading float32
			if math.Hypot(dx, dy) > yawMinDistance {
				heading = float32(math.Atan2(dy, dx))
			}
			for t := blk; t < blk+yawBlock; t++ {
				p := r.At(b, t)
				if mode == config.YawInterplate || math.Abs(float64(p[3])) > yawChangeThreshold {
					p[3] = heading
				}
			}
		}
	}
	return nil
}
