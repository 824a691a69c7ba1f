// Package stats computes aggregate statistics over a node configuration.
//
// All functions are pure: they take the current node list and are meant to
// be recomputed after every change.
package stats

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/ritzau/pugmark/pkg/model"
)

// Summary bundles the statistics reported for a node set.
type Summary struct {
	Nodes        int       `json:"nodes"`
	TotalDensity float64   `json:"totalDensity"`
	Center       orb.Point `json:"center"`
	HasCenter    bool      `json:"hasCenter"`
	Dispersion   float64   `json:"dispersionKm"`
}

// TotalDensity sums the node weights. Nodes without a density count as 1.
func TotalDensity(nodes []model.Node) float64 {
	var total float64
	for _, n := range nodes {
		total += n.Weight()
	}
	return total
}

// WeightedMeanCenter returns the density-weighted mean of the node
// coordinates. It returns the zero point and false when the list is empty or
// the total weight is zero.
func WeightedMeanCenter(nodes []model.Node) (orb.Point, bool) {
	var sumW, sumLon, sumLat float64
	for _, n := range nodes {
		w := n.Weight()
		sumW += w
		sumLon += n.Longitude * w
		sumLat += n.Latitude * w
	}
	if sumW == 0 || math.IsNaN(sumW) {
		return orb.Point{}, false
	}
	return orb.Point{sumLon / sumW, sumLat / sumW}, true
}

// DispersionIndex is the weighted root-mean-square great-circle distance, in
// kilometers, of the nodes from their weighted mean center. It is 0 when the
// center is undefined.
func DispersionIndex(nodes []model.Node) float64 {
	center, ok := WeightedMeanCenter(nodes)
	if !ok {
		return 0
	}
	return dispersion(nodes, center)
}

func dispersion(nodes []model.Node, center orb.Point) float64 {
	var sumW, sumSq float64
	for _, n := range nodes {
		w := n.Weight()
		d := model.Distance(center, n.Point()) / 1000
		sumW += w
		sumSq += w * d * d
	}
	if !(sumW > 0) {
		return 0
	}
	d := math.Sqrt(sumSq / sumW)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	return d
}

// Summarize computes every statistic for nodes in one pass over the center.
func Summarize(nodes []model.Node) Summary {
	s := Summary{
		Nodes:        len(nodes),
		TotalDensity: TotalDensity(nodes),
	}
	s.Center, s.HasCenter = WeightedMeanCenter(nodes)
	if s.HasCenter {
		s.Dispersion = dispersion(nodes, s.Center)
	}
	return s
}
