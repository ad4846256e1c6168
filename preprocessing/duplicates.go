package preprocessing

import (
	"encoding/binary"
	"math"

	"github.com/YuminosukeSato/diabetesml/dataset"
)

// DropDuplicates removes every row that equals an earlier row in all
// columns. The first occurrence is kept and survivors stay in their original
// order. It returns the reduced table and the number of rows removed.
func DropDuplicates(t *dataset.Table) (*dataset.Table, int) {
	n := t.NumRows()
	seen := make(map[string]struct{}, n)
	keep := make([]int, 0, n)
	buf := make([]byte, 8*t.NumCols())

	for i := 0; i < n; i++ {
		key := rowKey(buf, t.Row(i))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keep = append(keep, i)
	}
	return t.Select(keep), n - len(keep)
}

func rowKey(buf []byte, row []float64) string {
	for j, v := range row {
		if v == 0 {
			// -0 == 0
			v = 0
		}
		binary.LittleEndian.PutUint64(buf[8*j:], math.Float64bits(v))
	}
	return string(buf)
}
