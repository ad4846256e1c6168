package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"

	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
)

// LoaderOption configures Load.
type LoaderOption func(*loader)

type loader struct {
	schema Schema
	logger log.Logger
}

// WithSchema replaces the expected header.
func WithSchema(s Schema) LoaderOption {
	return func(l *loader) { l.schema = s }
}

// WithLoaderLogger sets the logger used for load progress.
func WithLoaderLogger(logger log.Logger) LoaderOption {
	return func(l *loader) { l.logger = logger }
}

// Load reads a CSV file with a header row into a Table. Files ending in .gz
// or .lz4 are decompressed on the fly.
//
// A missing file yields DataNotFoundError. A header that differs from the
// schema, a file without data rows, or a cell that is empty or not a number
// yields SchemaMismatchError.
func Load(path string, opts ...LoaderOption) (*Table, error) {
	l := &loader{schema: DefaultSchema()}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = log.GetLoggerWithName("dataset")
	}
	start := time.Now()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewDataNotFoundError(path)
		}
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	r, closer, err := decompress(path, f)
	if err != nil {
		return nil, err
	}
	defer closer()

	t, err := l.read(r)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Dataset loaded",
		log.PathKey, path,
		log.SamplesKey, t.NumRows(),
		log.FeaturesKey, t.NumCols()-1,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return t, nil
}

func decompress(path string, r io.Reader) (io.Reader, func(), error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "gzip %s", path)
		}
		return zr, func() { _ = zr.Close() }, nil
	case ".lz4":
		return lz4.NewReader(r), func() {}, nil
	default:
		return r, func() {}, nil
	}
}

func (l *loader) read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.NewSchemaMismatchError(l.schema.Columns, nil, "empty file")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	header = append([]string(nil), header...)
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if !l.schema.matches(header) {
		return nil, errors.NewSchemaMismatchError(l.schema.Columns, header, "header does not match")
	}

	var rows [][]float64
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewSchemaMismatchError(l.schema.Columns, header, err.Error())
		}
		if len(rec) != len(header) {
			return nil, errors.NewSchemaMismatchError(l.schema.Columns, header,
				fmt.Sprintf("line %d has %d fields", line, len(rec)))
		}
		row := make([]float64, len(rec))
		for j, cell := range rec {
			cell = strings.TrimSpace(cell)
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.NewSchemaMismatchError(l.schema.Columns, header,
					fmt.Sprintf("line %d column %q: not a number: %q", line, header[j], cell))
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errors.NewSchemaMismatchError(l.schema.Columns, header, "no data rows")
	}
	return NewTable(header, rows, l.schema.Target)
}
