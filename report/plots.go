package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/diabetesml/metrics"
	"github.com/YuminosukeSato/diabetesml/pipeline"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/sklearn/ensemble"
)

// Chart file names inside the output directory.
const (
	ConvergenceFile = "convergence.png"
	ImportanceFile  = "feature_importance.png"
	BalanceFile     = "class_balance.png"
)

// PlotConvergence draws the objective of every tuner evaluation and the
// running best against the evaluation number.
func PlotConvergence(scores []float64, path string) error {
	if len(scores) == 0 {
		return errors.NewValueError("PlotConvergence", "no scores")
	}
	p := plot.New()
	p.Title.Text = "F1 score vs iteration"
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Weighted F1 (3-fold CV)"
	p.Add(plotter.NewGrid())

	observed := make(plotter.XYs, len(scores))
	best := make(plotter.XYs, len(scores))
	for i, s := range scores {
		observed[i] = plotter.XY{X: float64(i + 1), Y: s}
		best[i] = plotter.XY{X: float64(i + 1), Y: s}
		if i > 0 && best[i-1].Y > s {
			best[i].Y = best[i-1].Y
		}
	}
	if err := plotutil.AddLinePoints(p, "observed", observed, "best so far", best); err != nil {
		return errors.Wrap(err, "PlotConvergence")
	}
	return save(p, 8*vg.Inch, 4*vg.Inch, path)
}

// PlotImportances draws the top n features as horizontal bars, the most
// important at the top.
func PlotImportances(imps []ensemble.FeatureImportance, n int, path string) error {
	if len(imps) == 0 {
		return errors.NewValueError("PlotImportances", "no feature importances")
	}
	if n <= 0 || n > len(imps) {
		n = len(imps)
	}
	values := make(plotter.Values, n)
	names := make([]string, n)
	for i := 0; i < n; i++ {
		fi := imps[n-1-i]
		values[i] = fi.Importance
		names[i] = fi.Feature
	}
	bars, err := plotter.NewBarChart(values, vg.Points(12))
	if err != nil {
		return errors.Wrap(err, "PlotImportances")
	}
	bars.Horizontal = true
	bars.Color = plotutil.Color(0)
	bars.LineStyle.Width = 0

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Top %d feature importances", n)
	p.X.Label.Text = "Average gain (normalized)"
	p.Add(bars)
	p.NominalY(names...)
	return save(p, 7*vg.Inch, vg.Length(0.3*float64(n)+1.5)*vg.Inch, path)
}

// PlotBalance draws the train class counts before and after SMOTE side by
// side.
func PlotBalance(before, after []pipeline.ClassCount, path string) error {
	if len(before) == 0 || len(before) != len(after) {
		return errors.NewValueError("PlotBalance", "class counts before and after must be non-empty and aligned")
	}
	names := make([]string, len(before))
	vb := make(plotter.Values, len(before))
	va := make(plotter.Values, len(after))
	for i := range before {
		names[i] = formatLabel(before[i].Label)
		vb[i] = float64(before[i].Count)
		va[i] = float64(after[i].Count)
	}

	w := vg.Points(30)
	b1, err := plotter.NewBarChart(vb, w)
	if err != nil {
		return errors.Wrap(err, "PlotBalance")
	}
	b1.Color = plotutil.Color(0)
	b1.LineStyle.Width = 0
	b1.Offset = -w / 2

	b2, err := plotter.NewBarChart(va, w)
	if err != nil {
		return errors.Wrap(err, "PlotBalance")
	}
	b2.Color = plotutil.Color(1)
	b2.LineStyle.Width = 0
	b2.Offset = w / 2

	p := plot.New()
	p.Title.Text = "Class balance of the training set"
	p.X.Label.Text = "Diabetes_binary"
	p.Y.Label.Text = "Rows"
	p.Add(b1, b2)
	p.Legend.Add("before SMOTE", b1)
	p.Legend.Add("after SMOTE", b2)
	p.Legend.Top = true
	p.NominalX(names...)
	return save(p, 5*vg.Inch, 4*vg.Inch, path)
}

// confusionGrid adapts a confusion matrix to plotter.GridXYZ: column c is
// the predicted label, row r the true label.
type confusionGrid struct {
	cm *metrics.ConfusionMatrix
}

func (g confusionGrid) Dims() (c, r int)   { return len(g.cm.Labels), len(g.cm.Labels) }
func (g confusionGrid) Z(c, r int) float64 { return float64(g.cm.Counts[r][c]) }
func (g confusionGrid) X(c int) float64    { return float64(c) }
func (g confusionGrid) Y(r int) float64    { return float64(r) }

// PlotConfusion draws cm as a heat map with the count printed in each cell.
func PlotConfusion(cm *metrics.ConfusionMatrix, title, path string) error {
	if cm == nil || len(cm.Labels) == 0 {
		return errors.NewValueError("PlotConfusion", "empty confusion matrix")
	}
	grid := confusionGrid{cm: cm}
	pal := moreland.Kindlmann().Palette(255)
	hm := plotter.NewHeatMap(grid, pal)
	if hm.Max == hm.Min {
		hm.Max = hm.Min + 1
	}

	k := len(cm.Labels)
	labels := plotter.XYLabels{XYs: make(plotter.XYs, 0, k*k)}
	names := make([]string, k)
	for r := 0; r < k; r++ {
		names[r] = formatLabel(cm.Labels[r])
		for c := 0; c < k; c++ {
			labels.XYs = append(labels.XYs, plotter.XY{X: float64(c), Y: float64(r)})
			labels.Labels = append(labels.Labels, strconv.Itoa(cm.Counts[r][c]))
		}
	}
	text, err := plotter.NewLabels(labels)
	if err != nil {
		return errors.Wrap(err, "PlotConfusion")
	}
	for i := range text.TextStyle {
		text.TextStyle[i].Color = plotutil.Color(2)
		text.TextStyle[i].XAlign = draw.XCenter
		text.TextStyle[i].YAlign = draw.YCenter
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "True"
	p.Add(hm, text)
	p.NominalX(names...)
	p.NominalY(names...)
	return save(p, 4*vg.Inch, 4*vg.Inch, path)
}

// WritePlots renders every chart of res into dir and returns the files
// written, in a fixed order.
func WritePlots(res *pipeline.Result, dir string, topFeatures int) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", dir)
	}
	var written []string
	add := func(name string, err error) error {
		if err != nil {
			return err
		}
		written = append(written, filepath.Join(dir, name))
		return nil
	}

	if res.Tuning != nil {
		if err := add(ConvergenceFile, PlotConvergence(res.Tuning.Scores(), filepath.Join(dir, ConvergenceFile))); err != nil {
			return written, err
		}
	}
	if len(res.Importances) > 0 {
		if err := add(ImportanceFile, PlotImportances(res.Importances, topFeatures, filepath.Join(dir, ImportanceFile))); err != nil {
			return written, err
		}
	}
	if len(res.Balance.Before) > 0 {
		if err := add(BalanceFile, PlotBalance(res.Balance.Before, res.Balance.After, filepath.Join(dir, BalanceFile))); err != nil {
			return written, err
		}
	}
	models := append([]*pipeline.ModelResult(nil), res.Models...)
	if res.Final != nil {
		models = append(models, res.Final)
	}
	for _, m := range models {
		name := ConfusionFile(m.Name)
		if err := add(name, PlotConfusion(m.Confusion, m.Name, filepath.Join(dir, name))); err != nil {
			return written, err
		}
	}
	return written, nil
}

// ConfusionFile is the chart file name for a model's confusion matrix.
func ConfusionFile(model string) string {
	return "confusion_" + strings.ToLower(model) + ".png"
}

func formatLabel(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func save(p *plot.Plot, w, h vg.Length, path string) error {
	if err := p.Save(w, h, path); err != nil {
		return errors.Wrapf(err, "failed to save plot to %s", path)
	}
	return nil
}
