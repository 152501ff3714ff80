package agents

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kalambet/orca/internal/worker"
)

// fileCategories maps organize target folders to the extensions they take.
// Anything unmatched goes to "Others".
var fileCategories = []struct {
	name string
	exts []string
}{
	{"Documents", []string{".pdf", ".doc", ".docx", ".txt", ".md", ".rtf", ".odt", ".pages"}},
	{"Spreadsheets", []string{".xls", ".xlsx", ".csv", ".numbers", ".ods"}},
	{"Presentations", []string{".ppt", ".pptx", ".key", ".odp"}},
	{"Images", []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".svg", ".webp", ".heic"}},
	{"Videos", []string{".mp4", ".avi", ".mkv", ".mov", ".wmv", ".webm"}},
	{"Audio", []string{".mp3", ".wav", ".flac", ".aac", ".m4a", ".ogg"}},
	{"Archives", []string{".zip", ".rar", ".7z", ".tar", ".gz", ".bz2", ".xz"}},
	{"Code", []string{".go", ".py", ".js", ".ts", ".java", ".c", ".cpp", ".h", ".rs", ".sh"}},
}

var defaultTempPatterns = []string{"*.tmp", "*.temp", "*.cache", "*~", ".DS_Store"}

func categoryFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	for _, c := range fileCategories {
		if slices.Contains(c.exts, ext) {
			return c.name
		}
	}
	return "Others"
}

// FileWorker manages files on the local filesystem.
type FileWorker struct {
	base
}

// NewFileWorker creates the file worker.
func NewFileWorker() *FileWorker {
	w := &FileWorker{base: base{id: worker.File, logger: slog.Default()}}
	w.handlers = worker.Handlers{
		worker.Organize:         w.organize,
		worker.DetectDuplicates: w.detectDuplicates,
		worker.Search:           w.search,
		worker.AnalyzeStorage:   w.analyzeStorage,
		worker.CleanTemp:        w.cleanTemp,
	}
	return w
}

// Move is one planned or performed organize step.
type Move struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Category string `json:"category"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// DuplicateGroup lists files with identical content.
type DuplicateGroup struct {
	Hash  string   `json:"hash"`
	Size  int64    `json:"size"`
	Files []string `json:"files"`
}

// ExtensionUsage aggregates storage by extension.
type ExtensionUsage struct {
	Extension string `json:"extension"`
	Count     int    `json:"count"`
	Bytes     int64  `json:"bytes"`
}

// FileInfo is a file reported by search and analyze_storage.
type FileInfo struct {
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

func directoryParam(st worker.Subtask) (string, error) {
	dir, err := expandPath(worker.String(st.Params, "directory", "."))
	if err != nil {
		return "", err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("opening directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	return dir, nil
}

// walkFiles calls fn for every regular file under dir. Hidden directories
// are skipped and unreadable entries are ignored.
func walkFiles(ctx context.Context, dir string, fn func(path string, info fs.FileInfo) error) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		return fn(path, info)
	})
}

func (w *FileWorker) organize(ctx context.Context, st worker.Subtask) worker.Outcome {
	dir, err := directoryParam(st)
	if err != nil {
		return worker.Failure("organize: %v", err)
	}
	strategy := worker.String(st.Params, "strategy", "by_type")
	if strategy != "by_type" {
		return worker.Failure("organize: unsupported strategy %q", strategy)
	}
	dryRun := worker.Bool(st.Params, "dry_run", true)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return worker.Failure("organize: reading %s: %v", dir, err)
	}

	moves := []Move{}
	counts := map[string]int{}
	moved := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		cat := categoryFor(e.Name())
		m := Move{
			From:     filepath.Join(dir, e.Name()),
			To:       filepath.Join(dir, cat, e.Name()),
			Category: cat,
		}
		counts[cat]++
		if !dryRun {
			if err := moveFile(m.From, m.To); err != nil {
				m.Error = err.Error()
				w.logger.Warn("organize move failed", "from", m.From, "error", err)
			} else {
				m.Done = true
				moved++
			}
		}
		moves = append(moves, m)
	}

	return worker.Success(map[string]any{
		"directory":  dir,
		"strategy":   strategy,
		"dry_run":    dryRun,
		"moves":      moves,
		"moved":      moved,
		"categories": counts,
	})
}

func moveFile(from, to string) error {
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	if _, err := os.Lstat(to); err == nil {
		return fmt.Errorf("%s already exists", to)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(from, to)
}

func (w *FileWorker) detectDuplicates(ctx context.Context, st worker.Subtask) worker.Outcome {
	dir, err := directoryParam(st)
	if err != nil {
		return worker.Failure("detect_duplicates: %v", err)
	}

	bySize := map[int64][]string{}
	err = walkFiles(ctx, dir, func(path string, info fs.FileInfo) error {
		if info.Size() > 0 {
			bySize[info.Size()] = append(bySize[info.Size()], path)
		}
		return nil
	})
	if err != nil {
		return worker.Failure("detect_duplicates: %v", err)
	}

	groups := []DuplicateGroup{}
	for size, paths := range bySize {
		if len(paths) < 2 {
			continue
		}
		byHash := map[string][]string{}
		for _, p := range paths {
			sum, err := hashFile(p)
			if err != nil {
				w.logger.Warn("hashing file failed", "path", p, "error", err)
				continue
			}
			byHash[sum] = append(byHash[sum], p)
		}
		for sum, files := range byHash {
			if len(files) > 1 {
				slices.Sort(files)
				groups = append(groups, DuplicateGroup{Hash: sum, Size: size, Files: files})
			}
		}
	}
	slices.SortFunc(groups, func(a, b DuplicateGroup) int { return cmp.Compare(a.Files[0], b.Files[0]) })

	var wasted int64
	for _, g := range groups {
		wasted += g.Size * int64(len(g.Files)-1)
	}
	return worker.Success(map[string]any{
		"directory":    dir,
		"duplicates":   groups,
		"groups_count": len(groups),
		"wasted_bytes": wasted,
	})
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (w *FileWorker) search(ctx context.Context, st worker.Subtask) worker.Outcome {
	keyword := strings.ToLower(worker.String(st.Params, "keyword", ""))
	if keyword == "" {
		return worker.Failure("search: keyword is required")
	}
	dir, err := directoryParam(st)
	if err != nil {
		return worker.Failure("search: %v", err)
	}
	var types []string
	for _, t := range worker.Strings(st.Params, "file_types") {
		if !strings.HasPrefix(t, ".") {
			t = "." + t
		}
		types = append(types, strings.ToLower(t))
	}

	files := []FileInfo{}
	err = walkFiles(ctx, dir, func(path string, info fs.FileInfo) error {
		name := strings.ToLower(info.Name())
		if !strings.Contains(name, keyword) {
			return nil
		}
		if len(types) > 0 && !slices.Contains(types, filepath.Ext(name)) {
			return nil
		}
		files = append(files, FileInfo{Path: path, Bytes: info.Size()})
		return nil
	})
	if err != nil {
		return worker.Failure("search: %v", err)
	}
	return worker.Success(map[string]any{"files": files, "count": len(files)})
}

func (w *FileWorker) analyzeStorage(ctx context.Context, st worker.Subtask) worker.Outcome {
	dir, err := directoryParam(st)
	if err != nil {
		return worker.Failure("analyze_storage: %v", err)
	}
	top := worker.Int(st.Params, "top", 10)

	usage := map[string]*ExtensionUsage{}
	var all []FileInfo
	var total int64
	err = walkFiles(ctx, dir, func(path string, info fs.FileInfo) error {
		ext := strings.ToLower(filepath.Ext(info.Name()))
		if ext == "" {
			ext = "(none)"
		}
		u, ok := usage[ext]
		if !ok {
			u = &ExtensionUsage{Extension: ext}
			usage[ext] = u
		}
		u.Count++
		u.Bytes += info.Size()
		total += info.Size()
		all = append(all, FileInfo{Path: path, Bytes: info.Size()})
		return nil
	})
	if err != nil {
		return worker.Failure("analyze_storage: %v", err)
	}

	byExt := make([]ExtensionUsage, 0, len(usage))
	for _, u := range usage {
		byExt = append(byExt, *u)
	}
	slices.SortFunc(byExt, func(a, b ExtensionUsage) int {
		return cmp.Or(cmp.Compare(b.Bytes, a.Bytes), cmp.Compare(a.Extension, b.Extension))
	})
	slices.SortFunc(all, func(a, b FileInfo) int {
		return cmp.Or(cmp.Compare(b.Bytes, a.Bytes), cmp.Compare(a.Path, b.Path))
	})
	if len(all) > top {
		all = all[:top]
	}
	if all == nil {
		all = []FileInfo{}
	}

	return worker.Success(map[string]any{
		"directory":    dir,
		"total_files":  countFiles(byExt),
		"total_bytes":  total,
		"by_extension": byExt,
		"largest":      all,
	})
}

func countFiles(usage []ExtensionUsage) int {
	n := 0
	for _, u := range usage {
		n += u.Count
	}
	return n
}

func (w *FileWorker) cleanTemp(ctx context.Context, st worker.Subtask) worker.Outcome {
	dir, err := directoryParam(st)
	if err != nil {
		return worker.Failure("clean_temp: %v", err)
	}
	dryRun := worker.Bool(st.Params, "dry_run", true)
	patterns := worker.Strings(st.Params, "patterns")
	if len(patterns) == 0 {
		patterns = defaultTempPatterns
	}
	for _, p := range patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return worker.Failure("clean_temp: bad pattern %q: %v", p, err)
		}
	}

	matched := []FileInfo{}
	var freed int64
	removed := 0
	err = walkFiles(ctx, dir, func(path string, info fs.FileInfo) error {
		if !matchesAny(patterns, info.Name()) {
			return nil
		}
		matched = append(matched, FileInfo{Path: path, Bytes: info.Size()})
		if dryRun {
			return nil
		}
		if err := os.Remove(path); err != nil {
			w.logger.Warn("removing temp file failed", "path", path, "error", err)
			return nil
		}
		removed++
		freed += info.Size()
		return nil
	})
	if err != nil {
		return worker.Failure("clean_temp: %v", err)
	}

	return worker.Success(map[string]any{
		"directory":   dir,
		"dry_run":     dryRun,
		"matched":     matched,
		"removed":     removed,
		"freed_bytes": freed,
	})
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
