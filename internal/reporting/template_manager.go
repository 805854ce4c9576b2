package reporting

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

const SummaryTemplate = "summary.tmpl"

const defaultSummaryTemplate = `═══════════════════════════════════════════════════════════════
 {{ .Title }}
═══════════════════════════════════════════════════════════════
Generated:	{{ .GeneratedAt.Format "2006-01-02 15:04:05" }} in {{ .GetDurationString }}
Score column:	{{ .Metadata.ScoreColumn }}
Grouped by:	{{ join .Metadata.GroupBy ", " }}
Previous scans:	{{ .Metadata.HistoryDepth }}
Findings:	{{ .Summary.TotalFindings }}
Summary rows:	{{ .Summary.SummaryRows }}
{{- if .Summary.AmbiguousKeys }}
Ambiguous keys:	{{ .Summary.AmbiguousKeys }}
{{- end }}

By priority
{{- range $p := priorities }}
  {{ $p }}:	{{ index $.Summary.ByPriority $p }}
{{- end }}

By status
{{- range $s := statuses }}
  {{ $s }}:	{{ index $.Summary.ByStatus $s }}
{{- end }}
{{- if .Summary.Trend }}

Scan trend (newest first)
  Scan	Findings	Mean score
{{- range .Summary.Trend }}
  {{ .Label }}	{{ .Findings }}	{{ printf "%.2f" .MeanScore }}
{{- end }}
{{- end }}
{{- with sheet . "CVE Scan" }}{{ if not .IsPlaceholder }}

Most urgent findings
  {{ join (head .Columns 6) "\t" }}
{{- range (headRows .Rows 20) }}
  {{ join (cells (head . 6)) "\t" }}
{{- end }}
{{- end }}{{ end }}
`

type TemplateManager struct {
	templates map[string]*template.Template
	mu        sync.RWMutex
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"join": strings.Join,
		"priorities": func() []string {
			return []string{"P1", "P2", "P3", "P4", "P5", "P6"}
		},
		"statuses": func() []string {
			return []string{string(models.StatusNew), string(models.StatusKnown), string(models.StatusUpdated), string(models.StatusFixed)}
		},
		"sheet": func(r *models.Report, name string) *models.Table {
			return r.Sheet(name)
		},
		"head": func(s interface{}, n int) interface{} {
			switch v := s.(type) {
			case []string:
				if len(v) > n {
					return v[:n]
				}
				return v
			case []models.Value:
				if len(v) > n {
					return v[:n]
				}
				return v
			}
			return s
		},
		"headRows": func(rows [][]models.Value, n int) [][]models.Value {
			if len(rows) > n {
				return rows[:n]
			}
			return rows
		},
		"cells": func(v interface{}) []string {
			vals, _ := v.([]models.Value)
			out := make([]string, len(vals))
			for i, c := range vals {
				out[i] = c.String()
			}
			return out
		},
		"keys": func(m map[string]int) []string {
			out := make([]string, 0, len(m))
			for k := range m {
				out = append(out, k)
			}
			sort.Strings(out)
			return out
		},
	}
}

func NewTemplateManager() *TemplateManager {
	tm := &TemplateManager{
		templates: make(map[string]*template.Template),
	}
	_ = tm.Register(SummaryTemplate, defaultSummaryTemplate)
	return tm
}

func (tm *TemplateManager) Register(name, tpl string) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	parsed, err := template.New(name).Funcs(templateFuncs()).Parse(tpl)
	if err != nil {
		return fmt.Errorf("parse %q: %w", name, err)
	}
	tm.templates[name] = parsed
	return nil
}

// LoadDir registers every .tmpl file under dir, replacing built-ins of the same name.
func (tm *TemplateManager) LoadDir(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(d.Name()) != ".tmpl" {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %q: %w", path, err)
		}
		return tm.Register(d.Name(), string(b))
	})
}

func (tm *TemplateManager) Get(name string) (*template.Template, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	t, ok := tm.templates[name]
	return t, ok
}

func (tm *TemplateManager) MustGet(name string) *template.Template {
	if t, ok := tm.Get(name); ok {
		return t
	}
	panic("template not found: " + name)
}
