package agents

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/kalambet/orca/internal/worker"
)

const defaultSummaryLength = 200

// DocWorker loads, summarises, compares and converts documents.
type DocWorker struct {
	base
}

// NewDocWorker creates the document worker.
func NewDocWorker() *DocWorker {
	w := &DocWorker{base: base{id: worker.Doc, logger: slog.Default()}}
	w.handlers = worker.Handlers{
		worker.Load:      w.load,
		worker.Summarize: w.summarize,
		worker.Compare:   w.compare,
		worker.Convert:   w.convert,
	}
	return w
}

// Document is a loaded file.
type Document struct {
	Content  string           `json:"content"`
	Metadata DocumentMetadata `json:"metadata"`
}

// DocumentMetadata describes the source of a Document.
type DocumentMetadata struct {
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	FileType string `json:"file_type"`
}

// LoadDocument reads path and extracts its text. PDF and HTML are parsed;
// anything else is read as UTF-8 text.
func LoadDocument(path string) (Document, error) {
	path, err := expandPath(path)
	if err != nil {
		return Document{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Document{}, fmt.Errorf("opening document: %w", err)
	}
	if info.IsDir() {
		return Document{}, fmt.Errorf("%s is a directory", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	var content string
	switch ext {
	case ".pdf":
		content, err = pdfText(path)
	case ".html", ".htm":
		content, err = htmlFileText(path, false)
	default:
		var raw []byte
		raw, err = os.ReadFile(path)
		if err == nil && !utf8.Valid(raw) {
			err = fmt.Errorf("%s is not a text document", filepath.Base(path))
		}
		content = string(raw)
	}
	if err != nil {
		return Document{}, err
	}

	return Document{
		Content: content,
		Metadata: DocumentMetadata{
			FileName: filepath.Base(path),
			FileSize: info.Size(),
			FileType: strings.TrimPrefix(ext, "."),
		},
	}, nil
}

func pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		if f != nil {
			f.Close()
		}
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func htmlFileText(path string, markdown bool) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return htmlText(f, markdown)
}

var (
	multiNewline = regexp.MustCompile(`\n{3,}`)
	multiSpace   = regexp.MustCompile(`[ \t]{2,}`)
)

// htmlText extracts readable text from an HTML document. With markdown set,
// headings and list items keep their markdown markers.
func htmlText(r io.Reader, markdown bool) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	var sb strings.Builder
	walkHTML(doc, &sb, markdown)

	s := multiSpace.ReplaceAllString(sb.String(), " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = multiNewline.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(s), nil
}

func walkHTML(n *html.Node, sb *strings.Builder, markdown bool) {
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			sb.WriteString(t)
			sb.WriteString(" ")
		}
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "svg", "head":
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n")
			if markdown {
				sb.WriteString(strings.Repeat("#", int(n.Data[1]-'0')) + " ")
			}
		case "p", "div", "section", "article", "table", "tr":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n")
			if markdown {
				sb.WriteString("- ")
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, sb, markdown)
	}
}

// contentParam returns the "content" parameter, or loads "file_path".
func contentParam(st worker.Subtask) (string, error) {
	if c := worker.String(st.Params, "content", ""); c != "" {
		return c, nil
	}
	path := worker.String(st.Params, "file_path", "")
	if path == "" {
		return "", fmt.Errorf("content or file_path is required")
	}
	doc, err := LoadDocument(path)
	if err != nil {
		return "", err
	}
	return doc.Content, nil
}

func (w *DocWorker) load(_ context.Context, st worker.Subtask) worker.Outcome {
	path := worker.String(st.Params, "file_path", "")
	if path == "" {
		return worker.Failure("load: file_path is required")
	}
	doc, err := LoadDocument(path)
	if err != nil {
		return worker.Failure("load: %v", err)
	}
	return worker.Success(doc)
}

// Summarize truncates content to maxLen runes, appending an ellipsis when
// anything was cut.
func Summarize(content string, maxLen int) string {
	content = strings.TrimSpace(content)
	if maxLen <= 0 || utf8.RuneCountInString(content) <= maxLen {
		return content
	}
	runes := []rune(content)
	return string(runes[:maxLen]) + "..."
}

func (w *DocWorker) summarize(_ context.Context, st worker.Subtask) worker.Outcome {
	content, err := contentParam(st)
	if err != nil {
		return worker.Failure("summarize: %v", err)
	}
	n := worker.Int(st.Params, "max_length", defaultSummaryLength)
	return worker.Success(map[string]any{
		"summary":        Summarize(content, n),
		"original_chars": utf8.RuneCountInString(content),
	})
}

// Comparison reports line-level differences between two documents.
type Comparison struct {
	Added      []string `json:"added"`
	Removed    []string `json:"removed"`
	Common     int      `json:"common"`
	Similarity float64  `json:"similarity"`
}

// CompareText diffs a and b as sets of non-blank lines.
func CompareText(a, b string) Comparison {
	left := lineCounts(a)
	right := lineCounts(b)
	c := Comparison{Added: []string{}, Removed: []string{}}

	for _, l := range nonBlankLines(a) {
		if right[l] > 0 {
			right[l]--
			c.Common++
		} else {
			c.Removed = append(c.Removed, l)
		}
	}
	for _, l := range nonBlankLines(b) {
		if left[l] > 0 {
			left[l]--
		} else {
			c.Added = append(c.Added, l)
		}
	}

	total := max(len(nonBlankLines(a)), len(nonBlankLines(b)))
	if total == 0 {
		c.Similarity = 1
	} else {
		c.Similarity = float64(c.Common) / float64(total)
	}
	return c
}

func nonBlankLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func lineCounts(s string) map[string]int {
	m := map[string]int{}
	for _, l := range nonBlankLines(s) {
		m[l]++
	}
	return m
}

func (w *DocWorker) compare(_ context.Context, st worker.Subtask) worker.Outcome {
	p1 := worker.String(st.Params, "doc1", "")
	p2 := worker.String(st.Params, "doc2", "")
	if p1 == "" || p2 == "" {
		return worker.Failure("compare: doc1 and doc2 are required")
	}
	d1, err := LoadDocument(p1)
	if err != nil {
		return worker.Failure("compare: %v", err)
	}
	d2, err := LoadDocument(p2)
	if err != nil {
		return worker.Failure("compare: %v", err)
	}
	return worker.Success(CompareText(d1.Content, d2.Content))
}

func (w *DocWorker) convert(_ context.Context, st worker.Subtask) worker.Outcome {
	path := worker.String(st.Params, "file_path", "")
	if path == "" {
		return worker.Failure("convert: file_path is required")
	}
	format := strings.ToLower(worker.String(st.Params, "format", "markdown"))
	var ext string
	switch format {
	case "markdown", "md":
		format, ext = "markdown", ".md"
	case "text", "txt":
		format, ext = "text", ".txt"
	default:
		return worker.Failure("convert: unsupported target format %q", format)
	}

	expanded, err := expandPath(path)
	if err != nil {
		return worker.Failure("convert: %v", err)
	}
	var content string
	srcExt := strings.ToLower(filepath.Ext(expanded))
	if srcExt == ".html" || srcExt == ".htm" {
		content, err = htmlFileText(expanded, format == "markdown")
	} else {
		var doc Document
		doc, err = LoadDocument(expanded)
		content = doc.Content
	}
	if err != nil {
		return worker.Failure("convert: %v", err)
	}

	target := strings.TrimSuffix(expanded, filepath.Ext(expanded)) + ext
	if target == expanded {
		return worker.Failure("convert: %s is already %s", filepath.Base(expanded), format)
	}
	written := false
	if worker.Bool(st.Params, "write", false) {
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			return worker.Failure("convert: writing %s: %v", target, err)
		}
		written = true
	}
	return worker.Success(map[string]any{
		"source":      expanded,
		"target_path": target,
		"format":      format,
		"content":     content,
		"written":     written,
	})
}
