package intent

import (
	"regexp"
	"strings"

	"github.com/kalambet/orca/internal/worker"
)

// FallbackWorker handles inputs that match no keyword.
const FallbackWorker = worker.Knowledge

// Rule binds a worker to the substrings that route input to it.
type Rule struct {
	Worker   string
	Triggers []string
}

// DefaultKeywords is the keyword routing table, in routing order. It is the
// single source of truth for deterministic worker selection.
var DefaultKeywords = []Rule{
	{Worker: worker.Email, Triggers: []string{"邮件", "email", "回复", "inbox", "mail"}},
	{Worker: worker.Doc, Triggers: []string{"文档", "document", "合同", "报告", "pdf", "report"}},
	{Worker: worker.Schedule, Triggers: []string{"日程", "schedule", "会议", "安排", "meeting", "calendar"}},
	{Worker: worker.Data, Triggers: []string{"数据", "data", "分析", "图表", "csv", "chart"}},
	{Worker: worker.File, Triggers: []string{"文件", "file", "整理", "重复", "folder", "duplicate", "organize"}},
	{Worker: worker.Knowledge, Triggers: []string{"知识", "问答", "查询", "knowledge", "remember"}},
}

// Route returns the workers whose triggers occur in input (case-insensitive),
// in table order. Input matching nothing routes to FallbackWorker.
func Route(input string, rules []Rule) []string {
	lower := strings.ToLower(input)
	var workers []string
	for _, r := range rules {
		for _, trigger := range r.Triggers {
			if strings.Contains(lower, strings.ToLower(trigger)) {
				workers = append(workers, r.Worker)
				break
			}
		}
	}
	if len(workers) == 0 {
		return []string{FallbackWorker}
	}
	return workers
}

// Workers returns every worker id named by rules, in table order.
func Workers(rules []Rule) []string {
	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.Worker)
	}
	return ids
}

var fileEntity = regexp.MustCompile(`(?i)(?:~|\.{1,2})?/[^\s"'，。]+|[^\s/"'，。]+\.(?:pdf|docx?|txt|md|markdown|csv|html?|xlsx?|json)\b`)

// ExtractEntities pulls deterministic entities out of input. Only file paths
// are recognised.
func ExtractEntities(input string) map[string][]string {
	entities := map[string][]string{}
	seen := map[string]bool{}
	for _, m := range fileEntity.FindAllString(input, -1) {
		if seen[m] {
			continue
		}
		seen[m] = true
		entities[EntityFile] = append(entities[EntityFile], m)
	}
	return entities
}
