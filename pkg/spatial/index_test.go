package spatial

import (
	"math/rand"
	"reflect"
	"sort"
	"testing"

	"github.com/paulmach/orb"
)

func bruteAround(pts []orb.Point, q orb.Point, k int, maxDist float64, exclude int) []int {
	type cand struct {
		idx  int
		dist float64
	}
	var cands []cand
	for i, p := range pts {
		if i == exclude {
			continue
		}
		dx, dy := p[0]-q[0], p[1]-q[1]
		d := dx*dx + dy*dy
		if d <= maxDist*maxDist {
			cands = append(cands, cand{i, d})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].idx < cands[j].idx
	})
	if k >= 0 && len(cands) > k {
		cands = cands[:k]
	}
	out := make([]int, len(cands))
	for i, c := range cands {
		out[i] = c.idx
	}
	return out
}

func TestAroundEmpty(t *testing.T) {
	ix := NewIndex(nil)
	if got := ix.Around(orb.Point{0, 0}, 2, 10, -1); len(got) != 0 {
		t.Errorf("Around() on empty index = %v", got)
	}
}

func TestAroundExcludesSelf(t *testing.T) {
	pts := []orb.Point{{0, 0}, {1, 0}, {0, 2}, {5, 5}}
	ix := NewIndex(pts)

	got := ix.Around(pts[0], 2, 10, 0)
	if want := []int{1, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("Around() = %v, want %v", got, want)
	}

	got = ix.Around(pts[3], 2, 1, 3)
	if len(got) != 0 {
		t.Errorf("Around() outside radius = %v, want none", got)
	}
}

func TestAroundTiesByPosition(t *testing.T) {
	// Four points at equal distance from the origin
	pts := []orb.Point{{0, 0}, {0, 1}, {1, 0}, {0, -1}, {-1, 0}}
	ix := NewIndex(pts)

	got := ix.Around(orb.Point{0, 0}, 2, 10, 0)
	if want := []int{1, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("Around() = %v, want %v", got, want)
	}
}

func TestAroundUnlimited(t *testing.T) {
	pts := []orb.Point{{0, 0}, {3, 0}, {1, 0}, {2, 0}}
	ix := NewIndex(pts)

	got := ix.Around(orb.Point{0, 0}, -1, 2.5, -1)
	if want := []int{0, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("Around() = %v, want %v", got, want)
	}
}

func TestAroundMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pts := make([]orb.Point, 500)
	for i := range pts {
		// Snap to a coarse grid so ties and duplicates occur
		pts[i] = orb.Point{float64(rng.Intn(40)) / 4, float64(rng.Intn(40)) / 4}
	}
	ix := NewIndex(pts)

	for i := 0; i < 200; i++ {
		q := rng.Intn(len(pts))
		k := rng.Intn(6)
		r := rng.Float64() * 3

		got := ix.Around(pts[q], k, r, q)
		want := bruteAround(pts, pts[q], k, r, q)
		if len(got) == 0 && len(want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("query %d (k=%d r=%.3f): got %v, want %v", q, k, r, got, want)
		}
	}
}

func TestNewIndexCopiesInput(t *testing.T) {
	pts := []orb.Point{{0, 0}, {1, 1}}
	ix := NewIndex(pts)
	pts[1] = orb.Point{100, 100}

	if got := ix.Around(orb.Point{0, 0}, 1, 2, 0); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("Around() = %v, want [1]", got)
	}
}
