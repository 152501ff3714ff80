package agents

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/orca/internal/worker"
)

const salesCSV = "region,revenue,notes\nNorth,120,ok\nSouth,80,\nEast,,late\nWest,200,good\n"

func writeSales(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sales.csv")
	writeFile(t, p, salesCSV)
	return p
}

func TestLoadData(t *testing.T) {
	w := NewDataWorker()
	res := mustSucceed(t, w.Execute(t.Context(), subtask(worker.LoadData, map[string]any{"file_path": writeSales(t)})))

	if cols := res["columns"].([]string); strings.Join(cols, ",") != "region,revenue,notes" {
		t.Errorf("columns = %v", cols)
	}
	if res["row_count"].(int) != 4 {
		t.Errorf("row_count = %v", res["row_count"])
	}
}

func TestLoadData_Rejects(t *testing.T) {
	w := NewDataWorker()
	xlsx := filepath.Join(t.TempDir(), "sheet.xlsx")
	writeFile(t, xlsx, "x")
	empty := filepath.Join(t.TempDir(), "empty.csv")
	writeFile(t, empty, "")

	for _, p := range []map[string]any{nil, {"file_path": xlsx}, {"file_path": empty}} {
		mustFail(t, w.Execute(t.Context(), subtask(worker.LoadData, p)), false)
	}
}

func TestAnalyze(t *testing.T) {
	w := NewDataWorker()
	path := writeSales(t)

	res := mustSucceed(t, w.Execute(t.Context(), subtask(worker.Analyze, map[string]any{"file_path": path})))
	stats := res["stats"].([]ColumnStats)
	if len(stats) != 1 {
		t.Fatalf("numeric columns = %+v, want only revenue", stats)
	}
	s := stats[0]
	if s.Column != "revenue" || s.Count != 3 || s.Min != 80 || s.Max != 200 || s.Mean != 400.0/3 {
		t.Errorf("stats = %+v", s)
	}

	mustFail(t, w.Execute(t.Context(), subtask(worker.Analyze, map[string]any{"file_path": path, "column": "notes"})), false)
	mustFail(t, w.Execute(t.Context(), subtask(worker.Analyze, map[string]any{"file_path": path, "column": "profit"})), false)
}

func TestVisualize(t *testing.T) {
	w := NewDataWorker()
	res := mustSucceed(t, w.Execute(t.Context(), subtask(worker.Visualize, map[string]any{
		"file_path": writeSales(t), "width": 10,
	})))

	if res["column"] != "revenue" {
		t.Errorf("column = %v", res["column"])
	}
	lines := strings.Split(strings.TrimSpace(res["chart"].(string)), "\n")
	want := []string{
		"revenue",
		"North | ###### 120",
		"South | #### 80",
		"West  | ########## 200",
	}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("chart:\n%s\nwant:\n%s", strings.Join(lines, "\n"), strings.Join(want, "\n"))
	}
}
