package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/internal/tools"
	"github.com/dyike/TradingAgentsGo/models"
)

const (
	MetadataFile = "analysis_metadata.json"
	ReportsDir   = "reports"
	ToolLogFile  = "message_tool.log"
)

// ResultsWriter lays out finished runs under
// <root>/<ticker>/<analysis_date>/.
type ResultsWriter struct {
	root string
}

func NewResultsWriter(root string) *ResultsWriter {
	return &ResultsWriter{root: root}
}

func (w *ResultsWriter) Root() string { return w.root }

// Dir returns the directory of one ticker and day.
func (w *ResultsWriter) Dir(ticker, date string) string {
	return filepath.Join(w.root, ticker, date)
}

// Write persists a bundle and returns its directory. Each file is replaced
// atomically; a later run for the same ticker and day overwrites it and
// removes reports it did not produce.
func (w *ResultsWriter) Write(b *models.ReportBundle) (string, error) {
	if b == nil || b.Ticker == "" || b.AnalysisDate == "" {
		return "", fmt.Errorf("bundle needs ticker and analysis date")
	}
	dir := w.Dir(b.Ticker, b.AnalysisDate)
	if err := os.MkdirAll(filepath.Join(dir, ReportsDir), 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}

	meta, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, MetadataFile), meta); err != nil {
		return "", err
	}

	for _, slot := range consts.ReportFiles {
		path := filepath.Join(dir, ReportsDir, slot+".md")
		text, ok := b.Reports[slot]
		if !ok {
			// A report left by an earlier run of the same day is not ours.
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return "", fmt.Errorf("remove stale report %s: %w", slot, err)
			}
			continue
		}
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		if err := writeAtomic(path, []byte(text)); err != nil {
			return "", err
		}
	}

	if err := writeAtomic(filepath.Join(dir, ToolLogFile), tools.Render(b.ToolLog)); err != nil {
		return "", err
	}
	return dir, nil
}

// LoadBundle reads a results directory back into a bundle. The tool log is
// not parsed.
func LoadBundle(dir string) (*models.ReportBundle, error) {
	raw, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var b models.ReportBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	b.Reports = make(map[string]string)
	for _, slot := range consts.ReportFiles {
		text, err := os.ReadFile(filepath.Join(dir, ReportsDir, slot+".md"))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read report %s: %w", slot, err)
		}
		b.Reports[slot] = string(text)
	}
	return &b, nil
}

func writeAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".write-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(target), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(target), err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(target), err)
	}
	return nil
}

// Summary is one finished run found on disk.
type Summary struct {
	Dir    string
	Bundle *models.ReportBundle
}

// ListResults scans root for result directories, newest completion first.
// Directories with unreadable metadata are skipped.
func ListResults(root string, limit int) ([]Summary, error) {
	matches, err := filepath.Glob(filepath.Join(root, "*", "*", MetadataFile))
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(matches))
	for _, m := range matches {
		dir := filepath.Dir(m)
		b, err := LoadBundle(dir)
		if err != nil {
			continue
		}
		out = append(out, Summary{Dir: dir, Bundle: b})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Bundle.CompletedAt.After(out[j].Bundle.CompletedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
