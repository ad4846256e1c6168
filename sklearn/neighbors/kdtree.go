package neighbors

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// point is a row of the indexed matrix together with its row number.
type point struct {
	x   []float64
	idx int
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.x[d] - c.(point).x[d]
}

func (p point) Dims() int { return len(p.x) }

// Distance returns the squared Euclidean distance.
func (p point) Distance(c kdtree.Comparable) float64 {
	q := c.(point).x
	var sum float64
	for i, v := range p.x {
		d := v - q[i]
		sum += d * d
	}
	return sum
}

type points []point

func (p points) Index(i int) kdtree.Comparable         { return p[i] }
func (p points) Len() int                              { return len(p) }
func (p points) Pivot(d kdtree.Dim) int                { return plane{points: p, dim: d}.Pivot() }
func (p points) Slice(start, end int) kdtree.Interface { return p[start:end] }

// plane orders points along one dimension. Pivots use median of medians so
// the tree shape, and with it tie handling, is reproducible.
type plane struct {
	points
	dim kdtree.Dim
}

func (p plane) Less(i, j int) bool { return p.points[i].x[p.dim] < p.points[j].x[p.dim] }
func (p plane) Pivot() int         { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Swap(i, j int)      { p.points[i], p.points[j] = p.points[j], p.points[i] }

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}

// KDTree answers k-nearest-neighbour queries over the rows of a matrix.
// Queries are safe for concurrent use.
type KDTree struct {
	tree *kdtree.Tree
	n    int
	dims int
}

// NewKDTree indexes the rows of X. The row data is copied.
func NewKDTree(X mat.Matrix) *KDTree {
	r, c := X.Dims()
	pts := make(points, r)
	for i := 0; i < r; i++ {
		row := make([]float64, c)
		mat.Row(row, i, X)
		pts[i] = point{x: row, idx: i}
	}
	return &KDTree{tree: kdtree.New(pts, false), n: r, dims: c}
}

// Len returns the number of indexed rows.
func (t *KDTree) Len() int { return t.n }

// Query returns the row indices and Euclidean distances of the k rows
// nearest to x, nearest first, equal distances ordered by row index.
func (t *KDTree) Query(x []float64, k int) ([]int, []float64) {
	if k > t.n {
		k = t.n
	}
	if k <= 0 {
		return nil, nil
	}
	keep := kdtree.NewNKeeper(k)
	t.tree.NearestSet(keep, point{x: x, idx: -1})

	found := make([]kdtree.ComparableDist, 0, len(keep.Heap))
	for _, c := range keep.Heap {
		if c.Comparable != nil {
			found = append(found, c)
		}
	}
	sort.Slice(found, func(a, b int) bool {
		if found[a].Dist != found[b].Dist {
			return found[a].Dist < found[b].Dist
		}
		return found[a].Comparable.(point).idx < found[b].Comparable.(point).idx
	})

	indices := make([]int, len(found))
	dists := make([]float64, len(found))
	for i, c := range found {
		indices[i] = c.Comparable.(point).idx
		dists[i] = math.Sqrt(c.Dist)
	}
	return indices, dists
}
