package planner

import (
	"regexp"
	"strings"

	"github.com/kalambet/orca/internal/intent"
	"github.com/kalambet/orca/internal/worker"
)

// DefaultKind is used for workers that have no rule table.
const DefaultKind worker.OperationKind = "default"

type kindRule struct {
	triggers []string
	kind     worker.OperationKind
}

type workerPlan struct {
	rules   []kindRule // first match wins
	def     worker.OperationKind
	extract func(rec intent.Record) map[string]any
}

var plans = map[string]workerPlan{
	worker.Email: {
		rules: []kindRule{
			{[]string{"读", "查", "read", "check", "unread"}, worker.ReadEmails},
			{[]string{"回复", "reply", "respond"}, worker.Reply},
			{[]string{"归档", "archive"}, worker.Archive},
		},
		def:     worker.Classify,
		extract: emailParams,
	},
	worker.File: {
		rules: []kindRule{
			{[]string{"整理", "organize", "tidy"}, worker.Organize},
			{[]string{"重复", "duplicate"}, worker.DetectDuplicates},
			{[]string{"搜索", "search", "find"}, worker.Search},
			{[]string{"分析", "空间", "analyze", "disk usage", "space"}, worker.AnalyzeStorage},
			{[]string{"清理", "临时", "clean", "temp"}, worker.CleanTemp},
		},
		def:     worker.Organize,
		extract: fileParams,
	},
	worker.Data: {
		rules: []kindRule{
			{[]string{"分析", "analy"}, worker.Analyze},
			{[]string{"图表", "可视化", "chart", "visuali", "plot"}, worker.Visualize},
		},
		def:     worker.LoadData,
		extract: dataParams,
	},
	worker.Doc: {
		rules: []kindRule{
			{[]string{"总结", "摘要", "summar"}, worker.Summarize},
			{[]string{"比较", "对比", "compare", "diff"}, worker.Compare},
			{[]string{"转换", "convert"}, worker.Convert},
		},
		def:     worker.Load,
		extract: docParams,
	},
	worker.Schedule: {
		rules: []kindRule{
			{[]string{"建议", "空闲", "suggest", "free time"}, worker.SuggestTime},
			{[]string{"创建", "添加", "新建", "create", "add", "book"}, worker.CreateEvent},
		},
		def:     worker.GetSchedule,
		extract: scheduleParams,
	},
	worker.Knowledge: {
		rules: []kindRule{
			{[]string{"索引", "记住", "index", "remember"}, worker.Index},
		},
		def:     worker.QA,
		extract: knowledgeParams,
	},
}

// InferKind applies the rule table of workerID to input.
func InferKind(workerID, input string) worker.OperationKind {
	plan, ok := plans[workerID]
	if !ok {
		return DefaultKind
	}
	lower := strings.ToLower(input)
	for _, r := range plan.rules {
		for _, t := range r.triggers {
			if strings.Contains(lower, t) {
				return r.kind
			}
		}
	}
	return plan.def
}

// --- Parameter extraction ---

func fileParams(rec intent.Record) map[string]any {
	lower := strings.ToLower(rec.RawInput)
	dir := "."
	switch {
	case strings.Contains(lower, "下载") || strings.Contains(lower, "download"):
		dir = "~/Downloads"
	case strings.Contains(lower, "文档") || strings.Contains(lower, "documents"):
		dir = "~/Documents"
	case strings.Contains(lower, "桌面") || strings.Contains(lower, "desktop"):
		dir = "~/Desktop"
	}
	params := map[string]any{
		"directory": dir,
		"strategy":  "by_type",
		"dry_run":   true,
	}
	if term := quoted(rec.RawInput); term != "" {
		params["keyword"] = term
	}
	return params
}

func docParams(rec intent.Record) map[string]any {
	params := map[string]any{}
	files := rec.Entities[intent.EntityFile]
	if len(files) > 0 {
		params["file_path"] = files[0]
	}
	if len(files) > 1 {
		params["doc1"] = files[0]
		params["doc2"] = files[1]
	}
	if lower := strings.ToLower(rec.RawInput); strings.Contains(lower, "markdown") {
		params["format"] = "markdown"
	}
	return params
}

func dataParams(rec intent.Record) map[string]any {
	params := map[string]any{}
	for _, f := range rec.Entities[intent.EntityFile] {
		if strings.HasSuffix(strings.ToLower(f), ".csv") {
			params["file_path"] = f
			break
		}
	}
	if _, ok := params["file_path"]; !ok && len(rec.Entities[intent.EntityFile]) > 0 {
		params["file_path"] = rec.Entities[intent.EntityFile][0]
	}
	if term := quoted(rec.RawInput); term != "" {
		params["column"] = term
	}
	return params
}

func emailParams(rec intent.Record) map[string]any {
	return map[string]any{"intent": rec.Goal}
}

func scheduleParams(rec intent.Record) map[string]any {
	params := map[string]any{}
	if times := rec.Entities[intent.EntityTime]; len(times) > 0 {
		params["when"] = times[0]
	}
	if people := rec.Entities[intent.EntityPerson]; len(people) > 0 {
		params["attendees"] = append([]string(nil), people...)
	}
	params["title"] = rec.Goal
	return params
}

func knowledgeParams(rec intent.Record) map[string]any {
	return map[string]any{
		"question": rec.RawInput,
		"content":  rec.RawInput,
	}
}

var quotedTerm = regexp.MustCompile(`["“「']([^"”」']+)["”」']`)

func quoted(input string) string {
	m := quotedTerm.FindStringSubmatch(input)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
