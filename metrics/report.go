package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/YuminosukeSato/diabetesml/pkg/errors"
)

// Averaging modes for F1Score and PrecisionRecallFScore.
const (
	AverageBinary   = "binary"
	AverageMacro    = "macro"
	AverageWeighted = "weighted"
)

// ConfusionMatrix counts predictions per (true, predicted) label pair.
// Counts[i][j] is the number of samples with true label Labels[i] predicted
// as Labels[j]. Labels is the sorted union of true and predicted labels.
type ConfusionMatrix struct {
	Labels []float64 `json:"labels"`
	Counts [][]int   `json:"counts"`
}

// NewConfusionMatrix builds the confusion matrix of yPred against yTrue.
func NewConfusionMatrix(yTrue, yPred []float64) (*ConfusionMatrix, error) {
	if err := checkLabels("ConfusionMatrix", yTrue, yPred); err != nil {
		return nil, err
	}
	labels := unionLabels(yTrue, yPred)
	index := make(map[float64]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	counts := make([][]int, len(labels))
	for i := range counts {
		counts[i] = make([]int, len(labels))
	}
	for i := range yTrue {
		counts[index[yTrue[i]]][index[yPred[i]]]++
	}
	return &ConfusionMatrix{Labels: labels, Counts: counts}, nil
}

// Total returns the number of samples counted.
func (cm *ConfusionMatrix) Total() int {
	total := 0
	for _, row := range cm.Counts {
		for _, c := range row {
			total += c
		}
	}
	return total
}

func checkLabels(op string, yTrue, yPred []float64) error {
	if len(yTrue) == 0 {
		return errors.NewValueError(op, "empty labels")
	}
	if len(yPred) != len(yTrue) {
		return errors.NewDimensionError(op, len(yTrue), len(yPred), 0)
	}
	return nil
}

func unionLabels(a, b []float64) []float64 {
	seen := make(map[float64]struct{})
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		seen[v] = struct{}{}
	}
	out := make([]float64, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}

// ClassMetrics are the per-label scores of a ClassificationReport.
type ClassMetrics struct {
	Label     float64 `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	Support   int     `json:"support"`
}

// Averages are the macro or support-weighted means over all labels.
type Averages struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	Support   int     `json:"support"`
}

// ClassificationReport mirrors scikit-learn's classification_report.
type ClassificationReport struct {
	Classes     []ClassMetrics `json:"classes"`
	Accuracy    float64        `json:"accuracy"`
	MacroAvg    Averages       `json:"macro_avg"`
	WeightedAvg Averages       `json:"weighted_avg"`
}

// NewClassificationReport computes per-label precision, recall, F1 and
// support plus accuracy and the macro and weighted averages. A zero
// denominator yields 0 and an UndefinedMetricWarning.
func NewClassificationReport(yTrue, yPred []float64) (*ClassificationReport, error) {
	cm, err := NewConfusionMatrix(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	k := len(cm.Labels)
	rep := &ClassificationReport{Classes: make([]ClassMetrics, k)}

	correct, total := 0, len(yTrue)
	for i := 0; i < k; i++ {
		tp := cm.Counts[i][i]
		correct += tp
		support, predicted := 0, 0
		for j := 0; j < k; j++ {
			support += cm.Counts[i][j]
			predicted += cm.Counts[j][i]
		}
		label := cm.Labels[i]
		precision := safeRatio("precision", label, tp, predicted)
		recall := safeRatio("recall", label, tp, support)
		f1 := 0.0
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		rep.Classes[i] = ClassMetrics{
			Label:     label,
			Precision: precision,
			Recall:    recall,
			F1:        f1,
			Support:   support,
		}
	}
	rep.Accuracy = float64(correct) / float64(total)

	for _, c := range rep.Classes {
		rep.MacroAvg.Precision += c.Precision / float64(k)
		rep.MacroAvg.Recall += c.Recall / float64(k)
		rep.MacroAvg.F1 += c.F1 / float64(k)

		w := float64(c.Support) / float64(total)
		rep.WeightedAvg.Precision += c.Precision * w
		rep.WeightedAvg.Recall += c.Recall * w
		rep.WeightedAvg.F1 += c.F1 * w
	}
	rep.MacroAvg.Support = total
	rep.WeightedAvg.Support = total
	return rep, nil
}

func safeRatio(metric string, label float64, num, den int) float64 {
	if den == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning(metric,
			fmt.Sprintf("no samples for label %g", label), 0))
		return 0
	}
	return float64(num) / float64(den)
}

// Class returns the metrics of label, if present.
func (r *ClassificationReport) Class(label float64) (ClassMetrics, bool) {
	for _, c := range r.Classes {
		if c.Label == label {
			return c, true
		}
	}
	return ClassMetrics{}, false
}

// String renders the report in scikit-learn's text layout.
func (r *ClassificationReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%14s %9s %9s %9s %9s\n\n", "", "precision", "recall", "f1-score", "support")
	for _, c := range r.Classes {
		fmt.Fprintf(&b, "%14s %9.2f %9.2f %9.2f %9d\n", fmt.Sprintf("%g", c.Label), c.Precision, c.Recall, c.F1, c.Support)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%14s %9s %9s %9.2f %9d\n", "accuracy", "", "", r.Accuracy, r.MacroAvg.Support)
	fmt.Fprintf(&b, "%14s %9.2f %9.2f %9.2f %9d\n", "macro avg", r.MacroAvg.Precision, r.MacroAvg.Recall, r.MacroAvg.F1, r.MacroAvg.Support)
	fmt.Fprintf(&b, "%14s %9.2f %9.2f %9.2f %9d\n", "weighted avg", r.WeightedAvg.Precision, r.WeightedAvg.Recall, r.WeightedAvg.F1, r.WeightedAvg.Support)
	return b.String()
}

// F1Score returns the F1 score under the given averaging: "weighted" (by
// support), "macro" (unweighted mean over labels) or "binary" (label 1 only).
func F1Score(yTrue, yPred []float64, average string) (float64, error) {
	_, _, f1, err := PrecisionRecallFScore(yTrue, yPred, average)
	return f1, err
}

// PrecisionRecallFScore returns averaged precision, recall and F1.
func PrecisionRecallFScore(yTrue, yPred []float64, average string) (precision, recall, f1 float64, err error) {
	rep, err := NewClassificationReport(yTrue, yPred)
	if err != nil {
		return 0, 0, 0, err
	}
	switch average {
	case AverageWeighted:
		return rep.WeightedAvg.Precision, rep.WeightedAvg.Recall, rep.WeightedAvg.F1, nil
	case AverageMacro:
		return rep.MacroAvg.Precision, rep.MacroAvg.Recall, rep.MacroAvg.F1, nil
	case AverageBinary:
		for _, l := range rep.Classes {
			if l.Label != 0 && l.Label != 1 {
				return 0, 0, 0, errors.NewValueError("F1Score", "binary average needs 0/1 labels")
			}
		}
		c, ok := rep.Class(1)
		if !ok {
			return 0, 0, 0, nil
		}
		return c.Precision, c.Recall, c.F1, nil
	default:
		return 0, 0, 0, errors.NewValidationError("average", "must be binary, macro or weighted", average)
	}
}
