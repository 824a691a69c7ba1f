// Package spatial provides a static nearest-neighbour index over planar
// points.
//
// Distances are Euclidean in coordinate units. For longitude/latitude input
// that is degrees, which is the approximation the adjacency rule works in.
package spatial

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// point is a kd-tree entry that remembers its position in the input slice.
type point struct {
	coords orb.Point
	idx    int
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coords[d] - c.(point).coords[d]
}

func (p point) Dims() int { return 2 }

// Distance returns the squared Euclidean distance.
func (p point) Distance(c kdtree.Comparable) float64 {
	q := c.(point)
	dx, dy := p.coords[0]-q.coords[0], p.coords[1]-q.coords[1]
	return dx*dx + dy*dy
}

type points []point

func (p points) Index(i int) kdtree.Comparable { return p[i] }
func (p points) Len() int                      { return len(p) }
func (p points) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}
func (p points) Pivot(d kdtree.Dim) int {
	return plane{points: p, dim: d}.Pivot()
}

// plane sorts points along one dimension while the tree is built.
type plane struct {
	points
	dim kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	return p.points[i].coords[p.dim] < p.points[j].coords[p.dim]
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{points: p.points[start:end], dim: p.dim}
}
func (p plane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}

// Index answers "k nearest within a radius" queries over a fixed point set.
type Index struct {
	tree *kdtree.Tree
	n    int
}

// NewIndex builds an index over pts. The caller's slice is not retained and
// results refer to positions in it.
func NewIndex(pts []orb.Point) *Index {
	if len(pts) == 0 {
		return &Index{}
	}

	entries := make(points, len(pts))
	for i, p := range pts {
		entries[i] = point{coords: p, idx: i}
	}
	return &Index{tree: kdtree.New(entries, false), n: len(pts)}
}

// Len returns the number of indexed points.
func (ix *Index) Len() int { return ix.n }

type hit struct {
	idx  int
	dist float64
}

// Around returns the positions of at most k points within maxDist of q,
// nearest first with ties broken by position. The point at position exclude
// is never returned; pass -1 to keep every point. A negative k means no
// limit.
func (ix *Index) Around(q orb.Point, k int, maxDist float64, exclude int) []int {
	if ix.tree == nil || k == 0 || maxDist < 0 || math.IsNaN(maxDist) {
		return nil
	}

	query := point{coords: q, idx: -1}
	limit := maxDist * maxDist

	var hits []hit
	if k < 0 {
		hits = ix.within(query, limit, exclude)
	} else {
		// The k+1 nearest cover the excluded point. Their k-th distance then
		// bounds a second pass that picks up every tie at the cut.
		nk := kdtree.NewNKeeper(k + 1)
		ix.tree.NearestSet(nk, query)
		hits = collect(nk.Heap, limit, exclude)
		if len(hits) >= k {
			sortHits(hits)
			hits = ix.within(query, hits[k-1].dist, exclude)
		}
	}

	sortHits(hits)
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}

	out := make([]int, len(hits))
	for i, h := range hits {
		out[i] = h.idx
	}
	return out
}

func (ix *Index) within(q point, limit float64, exclude int) []hit {
	dk := kdtree.NewDistKeeper(limit)
	ix.tree.NearestSet(dk, q)
	return collect(dk.Heap, limit, exclude)
}

func collect(h kdtree.Heap, limit float64, exclude int) []hit {
	hits := make([]hit, 0, len(h))
	for _, c := range h {
		// Keepers hold a sentinel with no point
		if c.Comparable == nil || c.Dist > limit {
			continue
		}
		p := c.Comparable.(point)
		if p.idx == exclude {
			continue
		}
		hits = append(hits, hit{idx: p.idx, dist: c.Dist})
	}
	return hits
}

func sortHits(hits []hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].idx < hits[j].idx
	})
}
