package dataset

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabetesml/pkg/errors"
)

// Table is a header plus row-major numeric data. Every row has one value per
// header column.
type Table struct {
	header []string
	rows   [][]float64
	target int
}

// NewTable builds a Table, checking that every row matches the header and
// that target names a column.
func NewTable(header []string, rows [][]float64, target string) (*Table, error) {
	t := &Table{header: append([]string(nil), header...), rows: rows, target: -1}
	for i, h := range header {
		if h == target {
			t.target = i
		}
	}
	if t.target < 0 {
		return nil, errors.NewSchemaMismatchError([]string{target}, header, "target column missing")
	}
	for i, r := range rows {
		if len(r) != len(header) {
			return nil, errors.NewSchemaMismatchError(header, nil,
				fmt.Sprintf("row %d has %d values", i+1, len(r)))
		}
	}
	return t, nil
}

// Header returns the column names in order.
func (t *Table) Header() []string { return append([]string(nil), t.header...) }

// Target returns the label column name.
func (t *Table) Target() string { return t.header[t.target] }

// NumRows returns the row count.
func (t *Table) NumRows() int { return len(t.rows) }

// NumCols returns the column count.
func (t *Table) NumCols() int { return len(t.header) }

// Row returns row i. The slice is shared with the table.
func (t *Table) Row(i int) []float64 { return t.rows[i] }

// Select returns a table holding the given rows in the given order.
func (t *Table) Select(indices []int) *Table {
	rows := make([][]float64, len(indices))
	for k, i := range indices {
		rows[k] = t.rows[i]
	}
	return &Table{header: t.header, rows: rows, target: t.target}
}

// FeatureNames returns the header without the target column.
func (t *Table) FeatureNames() []string {
	names := make([]string, 0, len(t.header)-1)
	for j, h := range t.header {
		if j != t.target {
			names = append(names, h)
		}
	}
	return names
}

// Features returns the n x (cols-1) matrix of every column but the target.
func (t *Table) Features() *mat.Dense {
	n, p := len(t.rows), len(t.header)-1
	if n == 0 || p == 0 {
		return &mat.Dense{}
	}
	data := make([]float64, 0, n*p)
	for _, r := range t.rows {
		data = append(data, r[:t.target]...)
		data = append(data, r[t.target+1:]...)
	}
	return mat.NewDense(n, p, data)
}

// Labels returns the target column.
func (t *Table) Labels() []float64 {
	y := make([]float64, len(t.rows))
	for i, r := range t.rows {
		y[i] = r[t.target]
	}
	return y
}

// Column returns a copy of the named column.
func (t *Table) Column(name string) ([]float64, error) {
	for j, h := range t.header {
		if h != name {
			continue
		}
		col := make([]float64, len(t.rows))
		for i, r := range t.rows {
			col[i] = r[j]
		}
		return col, nil
	}
	return nil, errors.NewValueError("Column", "no column named "+name)
}

// ClassCounts returns the number of rows per label value.
func (t *Table) ClassCounts() map[float64]int {
	return CountClasses(t.Labels())
}

// CountClasses tallies labels.
func CountClasses(y []float64) map[float64]int {
	counts := make(map[float64]int)
	for _, v := range y {
		counts[v]++
	}
	return counts
}

// SortedClasses returns the keys of counts in ascending order.
func SortedClasses(counts map[float64]int) []float64 {
	keys := make([]float64, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	return keys
}
