// Package islands finds the connected components of a parcel adjacency.
package islands

import (
	"sort"

	"github.com/ritzau/pugmark/pkg/model"
)

// Finder walks a symmetric adjacency and collects its components
type Finder struct {
	adj     model.Adjacency
	visited map[model.ParcelID]bool
	stack   []model.ParcelID
	islands []model.Island
}

// NewFinder creates a finder over a symmetrized copy of adj. The caller's
// relation is not modified.
func NewFinder(adj model.Adjacency) *Finder {
	return &Finder{
		adj:     adj.Symmetrized(),
		visited: make(map[model.ParcelID]bool),
		stack:   make([]model.ParcelID, 0),
		islands: make([]model.Island, 0),
	}
}

// Find returns every island. Ids are visited in sorted order, so islands come
// out ordered by their smallest member and each island is sorted.
func (f *Finder) Find() []model.Island {
	for _, id := range f.adj.IDs() {
		if !f.visited[id] {
			f.islands = append(f.islands, f.walk(id))
		}
	}
	return f.islands
}

// walk collects the island containing start using an explicit stack
func (f *Finder) walk(start model.ParcelID) model.Island {
	island := model.Island{}

	f.visited[start] = true
	f.stack = append(f.stack[:0], start)
	for len(f.stack) > 0 {
		id := f.stack[len(f.stack)-1]
		f.stack = f.stack[:len(f.stack)-1]
		island = append(island, id)

		for n := range f.adj[id] {
			if !f.visited[n] {
				f.visited[n] = true
				f.stack = append(f.stack, n)
			}
		}
	}

	sort.Slice(island, func(i, j int) bool { return island[i] < island[j] })
	return island
}

// Find returns the islands of adj. Every id of adj appears in exactly one
// island.
func Find(adj model.Adjacency) []model.Island {
	return NewFinder(adj).Find()
}

// Partition splits islands into those with at least two members, which are
// merged, and singletons, which are left alone.
func Partition(islands []model.Island) (mergeable, singletons []model.Island) {
	for _, island := range islands {
		if len(island) >= 2 {
			mergeable = append(mergeable, island)
		} else if len(island) == 1 {
			singletons = append(singletons, island)
		}
	}
	return mergeable, singletons
}
