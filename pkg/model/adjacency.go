package model

import "sort"

// Link is the raw, directional result of a nearest-neighbor query.
type Link struct {
	From ParcelID   `json:"from"`
	To   []ParcelID `json:"to"`
}

// Adjacency maps a parcel id to the set of its neighbor ids. Isolated parcels
// are present with an empty set.
type Adjacency map[ParcelID]map[ParcelID]struct{}

// NewAdjacency creates an empty relation.
func NewAdjacency() Adjacency {
	return make(Adjacency)
}

// AddNode ensures id is present in the relation.
func (a Adjacency) AddNode(id ParcelID) {
	if _, ok := a[id]; !ok {
		a[id] = make(map[ParcelID]struct{})
	}
}

// AddEdge records a directional edge from -> to. Both ends become nodes.
func (a Adjacency) AddEdge(from, to ParcelID) {
	a.AddNode(from)
	a.AddNode(to)
	if from != to {
		a[from][to] = struct{}{}
	}
}

// Connect records the edge in both directions.
func (a Adjacency) Connect(x, y ParcelID) {
	a.AddEdge(x, y)
	a.AddEdge(y, x)
}

// HasEdge reports whether to is listed as a neighbor of from.
func (a Adjacency) HasEdge(from, to ParcelID) bool {
	_, ok := a[from][to]
	return ok
}

// IDs returns all ids in the relation in sorted order.
func (a Adjacency) IDs() []ParcelID {
	ids := make([]ParcelID, 0, len(a))
	for id := range a {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Neighbors returns the neighbors of id in sorted order.
func (a Adjacency) Neighbors(id ParcelID) []ParcelID {
	set := a[id]
	out := make([]ParcelID, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sortIDs(out)
	return out
}

// IsSymmetric reports whether every edge is recorded in both directions.
func (a Adjacency) IsSymmetric() bool {
	for from, set := range a {
		for to := range set {
			if !a.HasEdge(to, from) {
				return false
			}
		}
	}
	return true
}

// Symmetrized returns a new relation containing every edge of a in both
// directions. The receiver is not modified.
func (a Adjacency) Symmetrized() Adjacency {
	out := NewAdjacency()
	for from, set := range a {
		out.AddNode(from)
		for to := range set {
			out.Connect(from, to)
		}
	}
	return out
}

func sortIDs(ids []ParcelID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
