// Package geometry holds the zone containment predicates used for run detection.
package geometry

import "github.com/Ftotnem/GO-TIMING/shared/models"

const (
	// VerticalTolerance is the maximum |dy| between a point and a zone center.
	VerticalTolerance = 1.5
	// DefaultRadius is used when a zone is configured with radius 0.
	DefaultRadius = 0.5
)

// EffectiveRadius returns the radius used for containment checks.
func EffectiveRadius(z models.Zone) float64 {
	if z.Radius <= 0 {
		return DefaultRadius
	}
	return z.Radius
}

// Contains reports whether p lies inside z. Worlds are compared as plain
// strings, so an unnamed world only matches an unnamed world.
func Contains(p models.Point, z models.Zone) bool {
	if p.World != z.Center.World {
		return false
	}
	dx := p.X - z.Center.X
	dz := p.Z - z.Center.Z
	r := EffectiveRadius(z)
	if dx*dx+dz*dz > r*r {
		return false
	}
	dy := p.Y - z.Center.Y
	if dy < 0 {
		dy = -dy
	}
	return dy <= VerticalTolerance
}

// IsEntering is true only on the edge where from is outside z and to is inside.
func IsEntering(from, to models.Point, z models.Zone) bool {
	return !Contains(from, z) && Contains(to, z)
}
