package model

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// EarthRadius is the mean earth radius in meters used for influence circles
// and node distances. orb's own geo functions use the equatorial radius, so
// distances are rescaled to this one.
const EarthRadius = 6371008.8

// Distance is the great-circle distance in meters between two lon/lat points.
func Distance(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b) * EarthRadius / orb.EarthRadius
}

// Destination is the point distance meters from p along bearing degrees.
func Destination(p orb.Point, bearing, distance float64) orb.Point {
	return geo.PointAtBearingAndDistance(p, bearing, distance*orb.EarthRadius/EarthRadius)
}
