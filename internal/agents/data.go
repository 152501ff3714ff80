package agents

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kalambet/orca/internal/worker"
)

const (
	previewRows   = 5
	chartMaxRows  = 20
	chartBarWidth = 40
)

// DataWorker loads, analyses and charts CSV tables.
type DataWorker struct {
	base
}

// NewDataWorker creates the data worker.
func NewDataWorker() *DataWorker {
	w := &DataWorker{base: base{id: worker.Data, logger: slog.Default()}}
	w.handlers = worker.Handlers{
		worker.LoadData:  w.loadData,
		worker.Analyze:   w.analyze,
		worker.Visualize: w.visualize,
	}
	return w
}

// Table is a parsed CSV file.
type Table struct {
	Columns []string
	Rows    [][]string
}

// ColumnStats summarises one numeric column.
type ColumnStats struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Sum    float64 `json:"sum"`
}

// ReadCSV parses path. The first record is the header.
func ReadCSV(path string) (*Table, error) {
	path, err := expandPath(path)
	if err != nil {
		return nil, err
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".csv" {
		return nil, fmt.Errorf("unsupported data file type %q", ext)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening data file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s is empty", filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	t := &Table{Columns: header}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(t.Rows)+1, err)
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

func (t *Table) columnIndex(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(name)) {
			return i
		}
	}
	return -1
}

func (t *Table) cell(row []string, i int) string {
	if i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}

// Stats computes ColumnStats for column i. Blank cells are ignored; ok is
// false when a non-blank cell is not a number or no value is present.
func (t *Table) Stats(i int) (ColumnStats, bool) {
	s := ColumnStats{Column: t.Columns[i], Min: math.Inf(1), Max: math.Inf(-1)}
	for _, row := range t.Rows {
		v := t.cell(row, i)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return ColumnStats{}, false
		}
		s.Count++
		s.Sum += f
		s.Min = math.Min(s.Min, f)
		s.Max = math.Max(s.Max, f)
	}
	if s.Count == 0 {
		return ColumnStats{}, false
	}
	s.Mean = s.Sum / float64(s.Count)
	return s, true
}

func tableParam(st worker.Subtask) (*Table, error) {
	path := worker.String(st.Params, "file_path", "")
	if path == "" {
		return nil, fmt.Errorf("file_path is required")
	}
	return ReadCSV(path)
}

func (w *DataWorker) loadData(_ context.Context, st worker.Subtask) worker.Outcome {
	t, err := tableParam(st)
	if err != nil {
		return worker.Failure("load_data: %v", err)
	}
	preview := t.Rows[:min(previewRows, len(t.Rows))]
	return worker.Success(map[string]any{
		"columns":   t.Columns,
		"row_count": len(t.Rows),
		"preview":   preview,
	})
}

func (w *DataWorker) analyze(_ context.Context, st worker.Subtask) worker.Outcome {
	t, err := tableParam(st)
	if err != nil {
		return worker.Failure("analyze: %v", err)
	}

	if col := worker.String(st.Params, "column", ""); col != "" {
		i := t.columnIndex(col)
		if i < 0 {
			return worker.Failure("analyze: no column %q", col)
		}
		s, ok := t.Stats(i)
		if !ok {
			return worker.Failure("analyze: column %q is not numeric", col)
		}
		return worker.Success(map[string]any{"row_count": len(t.Rows), "stats": []ColumnStats{s}})
	}

	stats := []ColumnStats{}
	for i := range t.Columns {
		if s, ok := t.Stats(i); ok {
			stats = append(stats, s)
		}
	}
	return worker.Success(map[string]any{"row_count": len(t.Rows), "stats": stats})
}

// BarChart renders one bar per row of the numeric column valueCol, labelled
// by labelCol.
func (t *Table) BarChart(labelCol, valueCol, width, maxRows int) (string, error) {
	type bar struct {
		label string
		value float64
	}
	var bars []bar
	peak := 0.0
	labelWidth := 0
	for _, row := range t.Rows {
		if len(bars) == maxRows {
			break
		}
		raw := t.cell(row, valueCol)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", fmt.Errorf("column %q is not numeric", t.Columns[valueCol])
		}
		label := t.cell(row, labelCol)
		bars = append(bars, bar{label, v})
		peak = math.Max(peak, math.Abs(v))
		labelWidth = max(labelWidth, len([]rune(label)))
	}
	if len(bars) == 0 {
		return "", fmt.Errorf("column %q has no values", t.Columns[valueCol])
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", t.Columns[valueCol])
	for _, b := range bars {
		n := 0
		if peak > 0 {
			n = int(math.Round(math.Abs(b.value) / peak * float64(width)))
		}
		pad := labelWidth - len([]rune(b.label))
		fmt.Fprintf(&sb, "%s%s | %s %s\n", b.label, strings.Repeat(" ", pad), strings.Repeat("#", n), strconv.FormatFloat(b.value, 'f', -1, 64))
	}
	return sb.String(), nil
}

func (w *DataWorker) visualize(_ context.Context, st worker.Subtask) worker.Outcome {
	t, err := tableParam(st)
	if err != nil {
		return worker.Failure("visualize: %v", err)
	}

	valueCol := -1
	if col := worker.String(st.Params, "column", ""); col != "" {
		if valueCol = t.columnIndex(col); valueCol < 0 {
			return worker.Failure("visualize: no column %q", col)
		}
	} else {
		for i := range t.Columns {
			if _, ok := t.Stats(i); ok {
				valueCol = i
				break
			}
		}
		if valueCol < 0 {
			return worker.Failure("visualize: no numeric column to chart")
		}
	}
	labelCol := 0
	if labelCol == valueCol && len(t.Columns) > 1 {
		labelCol = 1
	}

	chart, err := t.BarChart(labelCol, valueCol, worker.Int(st.Params, "width", chartBarWidth), chartMaxRows)
	if err != nil {
		return worker.Failure("visualize: %v", err)
	}
	return worker.Success(map[string]any{
		"column": t.Columns[valueCol],
		"chart":  chart,
	})
}
