package geometry

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// Neighbour is a query result: the position of the match in the slice the
// index was built from, and its Euclidean distance to the query.
type Neighbour struct {
	ID       int
	Distance float64
}

// Index answers nearest-neighbour queries over 3D points or fixed-length
// feature vectors. It is read-only after construction and safe for
// concurrent queries.
type Index struct {
	tree *kdtree.Tree
	dims int
	size int
}

// NewIndex builds an index over points. IDs returned by queries are
// positions in points.
func NewIndex(points []r3.Vec) *Index {
	list := make(entries, len(points))
	for i, p := range points {
		list[i] = entry{coords: []float64{p.X, p.Y, p.Z}, id: i}
	}
	return newIndex(list, 3)
}

// NewFeatureIndex builds an index over equal-length feature vectors.
func NewFeatureIndex(features [][]float64) *Index {
	dims := 0
	list := make(entries, len(features))
	for i, f := range features {
		dims = len(f)
		list[i] = entry{coords: f, id: i}
	}
	return newIndex(list, dims)
}

func newIndex(list entries, dims int) *Index {
	ix := &Index{dims: dims, size: len(list)}
	if len(list) > 0 {
		ix.tree = kdtree.New(list, false)
	}
	return ix
}

// Len returns the number of indexed items.
func (ix *Index) Len() int {
	return ix.size
}

// Nearest returns the closest indexed point to q, or ID -1 for an empty
// index.
func (ix *Index) Nearest(q r3.Vec) Neighbour {
	return ix.nearest(entry{coords: []float64{q.X, q.Y, q.Z}, id: -1})
}

// NearestFeature returns the closest indexed feature vector to q.
func (ix *Index) NearestFeature(q []float64) Neighbour {
	return ix.nearest(entry{coords: q, id: -1})
}

func (ix *Index) nearest(q entry) Neighbour {
	if ix.tree == nil {
		return Neighbour{ID: -1, Distance: math.Inf(1)}
	}
	c, d2 := ix.tree.Nearest(q)
	if c == nil {
		return Neighbour{ID: -1, Distance: math.Inf(1)}
	}
	return Neighbour{ID: c.(entry).id, Distance: math.Sqrt(d2)}
}

// KNearest returns up to k closest points to q ordered by distance.
func (ix *Index) KNearest(q r3.Vec, k int) []Neighbour {
	if ix.tree == nil || k <= 0 {
		return nil
	}
	keeper := kdtree.NewNKeeper(k)
	ix.tree.NearestSet(keeper, entry{coords: []float64{q.X, q.Y, q.Z}, id: -1})
	return collect(keeper.Heap, 0)
}

// WithinRadius returns the points no further than radius from q ordered by
// distance. When max > 0 only the max closest are returned, matching a
// hybrid radius/k search.
func (ix *Index) WithinRadius(q r3.Vec, radius float64, max int) []Neighbour {
	if ix.tree == nil || radius <= 0 {
		return nil
	}
	keeper := kdtree.NewDistKeeper(radius * radius)
	ix.tree.NearestSet(keeper, entry{coords: []float64{q.X, q.Y, q.Z}, id: -1})
	return collect(keeper.Heap, max)
}

// collect drops keeper sentinels, sorts by distance (ties by ID) and
// converts squared distances.
func collect(heap kdtree.Heap, max int) []Neighbour {
	out := make([]Neighbour, 0, len(heap))
	for _, cd := range heap {
		if cd.Comparable == nil {
			continue
		}
		out = append(out, Neighbour{ID: cd.Comparable.(entry).id, Distance: math.Sqrt(cd.Dist)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// entry is an indexed coordinate tagged with its caller-side position.
type entry struct {
	coords []float64
	id     int
}

func (e entry) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return e.coords[d] - c.(entry).coords[d]
}

func (e entry) Dims() int { return len(e.coords) }

// Distance returns the squared Euclidean distance, as kdtree expects.
func (e entry) Distance(c kdtree.Comparable) float64 {
	o := c.(entry)
	var sum float64
	for i, v := range e.coords {
		d := v - o.coords[i]
		sum += d * d
	}
	return sum
}

type entries []entry

func (p entries) Index(i int) kdtree.Comparable         { return p[i] }
func (p entries) Len() int                              { return len(p) }
func (p entries) Pivot(d kdtree.Dim) int                { return plane{Dim: d, entries: p}.Pivot() }
func (p entries) Slice(start, end int) kdtree.Interface { return p[start:end] }

// plane orders entries along one dimension for median partitioning.
type plane struct {
	kdtree.Dim
	entries
}

func (p plane) Less(i, j int) bool {
	return p.entries[i].coords[p.Dim] < p.entries[j].coords[p.Dim]
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.entries = p.entries[start:end]
	return p
}
func (p plane) Swap(i, j int) { p.entries[i], p.entries[j] = p.entries[j], p.entries[i] }
