package models

import "github.com/gosimple/slug"

// Point is a position inside a named world.
type Point struct {
	World string  `bson:"world" json:"world"`
	X     float64 `bson:"x" json:"x"`
	Y     float64 `bson:"y" json:"y"`
	Z     float64 `bson:"z" json:"z"`
}

// Zone is a vertical cylinder around Center used for start, end and checkpoint detection.
type Zone struct {
	Center Point   `bson:"center" json:"center"`
	Radius float64 `bson:"radius" json:"radius"`
}

// NewZone builds a zone, clamping a negative radius to 0.
func NewZone(center Point, radius float64) Zone {
	if radius < 0 {
		radius = 0
	}
	return Zone{Center: center, Radius: radius}
}

// Course is a named track. Key is the normalized lookup key (see CourseKey).
type Course struct {
	Key         string `bson:"_id" json:"key"`
	Name        string `bson:"name" json:"name"`
	Start       *Zone  `bson:"start,omitempty" json:"start,omitempty"`
	End         *Zone  `bson:"end,omitempty" json:"end,omitempty"`
	Checkpoints []Zone `bson:"checkpoints,omitempty" json:"checkpoints,omitempty"`
}

// IsConfigured reports whether both the start and the end zone are set.
func (c Course) IsConfigured() bool {
	return c.Start != nil && c.End != nil
}

// CourseKey normalizes a course name into its case-insensitive lookup key.
// "Lava Run", "lava run" and "lava-run" all map to "lava-run".
func CourseKey(name string) string {
	return slug.Make(name)
}
