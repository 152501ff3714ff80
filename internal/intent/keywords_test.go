package intent

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"帮我整理下载文件夹", []string{"file"}},
		{"回复张三的邮件", []string{"email"}},
		{"Summarize the quarterly REPORT", []string{"doc"}},
		{"安排下周的会议", []string{"schedule"}},
		{"分析销售数据并画图表", []string{"data"}},
		{"查询知识库", []string{"knowledge"}},
		{"email the report and schedule a meeting", []string{"email", "doc", "schedule"}},
		{"find duplicate files in my data folder", []string{"data", "file"}},
		{"hello there", []string{"knowledge"}},
		{"", []string{"knowledge"}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := Route(tt.input, DefaultKeywords)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Route(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestWorkers(t *testing.T) {
	want := []string{"email", "doc", "schedule", "data", "file", "knowledge"}
	if diff := cmp.Diff(want, Workers(DefaultKeywords)); diff != "" {
		t.Errorf("Workers mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractEntities(t *testing.T) {
	got := ExtractEntities("compare ~/Documents/a.txt with notes.md and sales.csv")
	want := map[string][]string{"file": {"~/Documents/a.txt", "notes.md", "sales.csv"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractEntities mismatch (-want +got):\n%s", diff)
	}

	if got := ExtractEntities("nothing here"); len(got) != 0 {
		t.Errorf("ExtractEntities = %v, want empty", got)
	}
}
