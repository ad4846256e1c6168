// Package report writes the artifacts of a pipeline run: the JSON report,
// a plain-text summary and the PNG charts.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	gojson "github.com/goccy/go-json"

	"github.com/YuminosukeSato/diabetesml/pipeline"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
)

// WriteJSON encodes v as indented JSON into path, creating parent
// directories as needed.
func WriteJSON(path string, v any) error {
	data, err := gojson.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode report")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write report to %s", path)
	}
	return nil
}

// ReadJSON decodes a report previously written by WriteJSON.
func ReadJSON(path string) (*pipeline.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read report %s", path)
	}
	var res pipeline.Result
	if err := gojson.Unmarshal(data, &res); err != nil {
		return nil, errors.Wrapf(err, "failed to decode report %s", path)
	}
	return &res, nil
}

// WriteSummary prints the model comparison and the tuning outcome as an
// aligned table.
func WriteSummary(w io.Writer, res *pipeline.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "rows\t%d\t(duplicates %d, outliers removed %d)\n",
		res.Dataset.Rows, res.Dataset.Duplicates, res.Outliers.Removed)
	fmt.Fprintf(tw, "split\ttrain %d\ttest %d\n", res.Split.Train, res.Split.Test)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "model\taccuracy\tf1_weighted\troc_auc\tlog_loss")
	rows := append([]*pipeline.ModelResult(nil), res.Models...)
	if res.Final != nil {
		rows = append(rows, res.Final)
	}
	for _, m := range rows {
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.4f\t%.4f\n", m.Name, m.Accuracy, m.WeightedF1, m.AUC, m.LogLoss)
	}
	if res.Tuning != nil {
		fmt.Fprintln(tw)
		fmt.Fprintf(tw, "best cv f1\t%.4f\t(evaluation %d of %d, %d failed)\n",
			res.Tuning.Best.Target, res.Tuning.Best.Index, len(res.Tuning.History), res.Tuning.Failures)
		fmt.Fprintf(tw, "best params\t%s\n", res.Tuning.BestParams)
	}
	if len(res.Importances) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "feature\timportance")
		for i, fi := range res.Importances {
			if i == 5 {
				break
			}
			fmt.Fprintf(tw, "%s\t%.4f\n", fi.Feature, fi.Importance)
		}
	}
	return tw.Flush()
}
