// Package graph builds the nearest-neighbour adjacency between parcel
// centroids.
package graph

import (
	"context"
	"sort"

	"github.com/paulmach/orb"
	"github.com/ritzau/pugmark/pkg/logging"
	"github.com/ritzau/pugmark/pkg/model"
	"github.com/ritzau/pugmark/pkg/spatial"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Options controls the neighbour query made for every centroid.
type Options struct {
	MinNeighbors int     // k nearest centroids linked to each centroid
	MaxRadius    float64 // in coordinate units (degrees for lon/lat)
}

// DefaultOptions returns the standard query: two neighbours within 10 units.
func DefaultOptions() Options {
	return Options{MinNeighbors: 2, MaxRadius: 10}
}

// cancelCheckInterval is how many centroids are queried between context checks
const cancelCheckInterval = 256

// CentroidGraph is the undirected adjacency between parcel centroids
type CentroidGraph struct {
	graph  *simple.UndirectedGraph
	ids    map[model.ParcelID]int64 // parcel id -> graph node id
	parcel []model.ParcelID         // graph node id -> parcel id
}

// NewCentroidGraph creates an empty graph
func NewCentroidGraph() *CentroidGraph {
	return &CentroidGraph{
		graph: simple.NewUndirectedGraph(),
		ids:   make(map[model.ParcelID]int64),
	}
}

// AddParcel adds a parcel as a node. Adding an existing parcel is a no-op.
func (cg *CentroidGraph) AddParcel(id model.ParcelID) {
	if _, exists := cg.ids[id]; exists {
		return
	}

	nid := int64(len(cg.parcel))
	cg.ids[id] = nid
	cg.parcel = append(cg.parcel, id)
	cg.graph.AddNode(simple.Node(nid))
}

// Connect adds an undirected edge between two parcels, adding them if needed.
// Self-edges are ignored.
func (cg *CentroidGraph) Connect(a, b model.ParcelID) {
	cg.AddParcel(a)
	cg.AddParcel(b)
	if a == b {
		return
	}

	x, y := cg.ids[a], cg.ids[b]
	if !cg.graph.HasEdgeBetween(x, y) {
		cg.graph.SetEdge(cg.graph.NewEdge(simple.Node(x), simple.Node(y)))
	}
}

// Has reports whether the parcel is a node of the graph
func (cg *CentroidGraph) Has(id model.ParcelID) bool {
	_, ok := cg.ids[id]
	return ok
}

// Len returns the number of parcels in the graph
func (cg *CentroidGraph) Len() int {
	return len(cg.parcel)
}

// EdgeCount returns the number of undirected edges
func (cg *CentroidGraph) EdgeCount() int {
	return cg.graph.Edges().Len()
}

// Graph returns the underlying gonum graph
func (cg *CentroidGraph) Graph() *simple.UndirectedGraph {
	return cg.graph
}

// Parcel returns the parcel id of a gonum node id
func (cg *CentroidGraph) Parcel(nid int64) (model.ParcelID, bool) {
	if nid < 0 || nid >= int64(len(cg.parcel)) {
		return "", false
	}
	return cg.parcel[nid], true
}

// Neighbors returns the sorted neighbours of a parcel
func (cg *CentroidGraph) Neighbors(id model.ParcelID) []model.ParcelID {
	nid, ok := cg.ids[id]
	if !ok {
		return nil
	}

	var out []model.ParcelID
	iter := cg.graph.From(nid)
	for iter.Next() {
		out = append(out, cg.parcel[iter.Node().ID()])
	}
	sortIDs(out)
	return out
}

// Edges returns every edge once as a sorted [a, b] pair with a < b
func (cg *CentroidGraph) Edges() [][2]model.ParcelID {
	var edges [][2]model.ParcelID

	iter := cg.graph.Edges()
	for iter.Next() {
		e := iter.Edge()
		a, b := cg.parcel[e.From().ID()], cg.parcel[e.To().ID()]
		if b < a {
			a, b = b, a
		}
		edges = append(edges, [2]model.ParcelID{a, b})
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges
}

// Adjacency returns the graph as a symmetric relation. Isolated parcels are
// present with no neighbours.
func (cg *CentroidGraph) Adjacency() model.Adjacency {
	adj := model.NewAdjacency()
	for _, id := range cg.parcel {
		adj.AddNode(id)
	}
	for _, e := range cg.Edges() {
		adj.Connect(e[0], e[1])
	}
	return adj
}

// Components returns the connected components computed by gonum, with
// members and components sorted by parcel id.
func (cg *CentroidGraph) Components() []model.Island {
	comps := topo.ConnectedComponents(cg.graph)

	islands := make([]model.Island, 0, len(comps))
	for _, comp := range comps {
		island := make(model.Island, 0, len(comp))
		for _, n := range comp {
			island = append(island, cg.parcel[n.ID()])
		}
		sortIDs(island)
		islands = append(islands, island)
	}

	sort.Slice(islands, func(i, j int) bool { return islands[i][0] < islands[j][0] })
	return islands
}

// Links queries the MinNeighbors nearest centroids within MaxRadius for every
// centroid. The result is directional; a centroid never links to itself.
func Links(centroids []model.Centroid, opts Options) []model.Link {
	links, _ := links(context.Background(), centroids, opts)
	return links
}

func links(ctx context.Context, centroids []model.Centroid, opts Options) ([]model.Link, error) {
	if len(centroids) == 0 {
		return nil, nil
	}

	pts := make([]orb.Point, len(centroids))
	for i, c := range centroids {
		pts[i] = c.Coords
	}
	ix := spatial.NewIndex(pts)

	out := make([]model.Link, 0, len(centroids))
	for i, c := range centroids {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		near := ix.Around(c.Coords, opts.MinNeighbors, opts.MaxRadius, i)
		to := make([]model.ParcelID, 0, len(near))
		for _, j := range near {
			// Duplicate ids would otherwise produce a self-link
			if centroids[j].ID != c.ID {
				to = append(to, centroids[j].ID)
			}
		}
		out = append(out, model.Link{From: c.ID, To: to})
	}
	return out, nil
}

// Symmetrize turns raw directional links into a symmetric relation: if a
// links to b, b also lists a. Every From id is present.
func Symmetrize(links []model.Link) model.Adjacency {
	adj := model.NewAdjacency()
	for _, l := range links {
		adj.AddNode(l.From)
		for _, to := range l.To {
			adj.Connect(l.From, to)
		}
	}
	return adj
}

// Build constructs the undirected centroid graph. Every centroid is a node,
// including those without neighbours.
func Build(centroids []model.Centroid, opts Options) *CentroidGraph {
	cg, _ := BuildContext(context.Background(), centroids, opts)
	return cg
}

// BuildContext is Build with cancellation between neighbour queries.
func BuildContext(ctx context.Context, centroids []model.Centroid, opts Options) (*CentroidGraph, error) {
	log := logging.New("graph")

	raw, err := links(ctx, centroids, opts)
	if err != nil {
		return nil, err
	}

	cg := NewCentroidGraph()
	for _, c := range centroids {
		cg.AddParcel(c.ID)
	}
	for _, l := range raw {
		for _, to := range l.To {
			cg.Connect(l.From, to)
		}
	}

	log.Debug("built centroid graph", "parcels", cg.Len(), "edges", cg.EdgeCount(),
		"neighbors", opts.MinNeighbors, "radius", opts.MaxRadius)
	return cg, nil
}

func sortIDs(ids []model.ParcelID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
