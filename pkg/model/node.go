package model

import "github.com/paulmach/orb"

// DefaultDensity is the weight of a node that carries no explicit density.
const DefaultDensity = 1.0

// Node is a user-placed weighted point with a radius of influence in meters.
type Node struct {
	ID        string   `json:"id"`
	Longitude float64  `json:"longitude"`
	Latitude  float64  `json:"latitude"`
	Density   *float64 `json:"density,omitempty"` // nil means DefaultDensity
	Radius    float64  `json:"radius"`
}

// Weight returns the node density, falling back to DefaultDensity when absent.
func (n Node) Weight() float64 {
	if n.Density == nil {
		return DefaultDensity
	}
	return *n.Density
}

// Point returns the node location as a longitude/latitude point.
func (n Node) Point() orb.Point {
	return orb.Point{n.Longitude, n.Latitude}
}

// Density returns a pointer suitable for Node.Density.
func Density(d float64) *float64 {
	return &d
}

// CloneNodes returns a deep copy of the node list so callers can hand out
// snapshots without sharing density pointers.
func CloneNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n
		if n.Density != nil {
			out[i].Density = Density(*n.Density)
		}
	}
	return out
}
