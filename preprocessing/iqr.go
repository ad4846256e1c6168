package preprocessing

import (
	"sort"

	"github.com/YuminosukeSato/diabetesml/core/stats"
	"github.com/YuminosukeSato/diabetesml/dataset"
)

// IQRStat is the interquartile-range outlier summary of one column.
type IQRStat struct {
	Column   string  `json:"column"`
	Q1       float64 `json:"q1"`
	Q3       float64 `json:"q3"`
	IQR      float64 `json:"iqr"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
	Outliers int     `json:"outliers"`
}

// IQRReport computes, for every column of t, the bounds
// [Q1 - 1.5 IQR, Q3 + 1.5 IQR] and how many rows fall outside them. It is a
// diagnostic and does not change t.
func IQRReport(t *dataset.Table) []IQRStat {
	header := t.Header()
	out := make([]IQRStat, 0, len(header))
	for _, name := range header {
		col, err := t.Column(name)
		if err != nil || len(col) == 0 {
			continue
		}
		sort.Float64s(col)
		q1 := stats.QuantileSorted(0.25, col)
		q3 := stats.QuantileSorted(0.75, col)
		iqr := q3 - q1
		st := IQRStat{
			Column: name,
			Q1:     q1,
			Q3:     q3,
			IQR:    iqr,
			Lower:  q1 - 1.5*iqr,
			Upper:  q3 + 1.5*iqr,
		}
		for _, v := range col {
			if v < st.Lower || v > st.Upper {
				st.Outliers++
			}
		}
		out = append(out, st)
	}
	return out
}
