package formatters

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

// Artifact is one output file of a formatter. Part is empty for formats that
// produce a single file, and names the sheet otherwise.
type Artifact struct {
	Part string
	Data []byte
}

type JSONFormatter struct{}

func (JSONFormatter) FileExtension() string { return "json" }

func (JSONFormatter) Format(report *models.Report) ([]Artifact, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return []Artifact{{Data: data}}, nil
}

type YAMLFormatter struct{}

func (YAMLFormatter) FileExtension() string { return "yaml" }

func (YAMLFormatter) Format(report *models.Report) ([]Artifact, error) {
	data, err := yaml.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}
	return []Artifact{{Data: data}}, nil
}

// CSVFormatter writes one delimited file per sheet, in the same dialect the
// scanner exports use.
type CSVFormatter struct {
	Delimiter    rune
	DecimalComma bool
}

func (CSVFormatter) FileExtension() string { return "csv" }

func (c CSVFormatter) Format(report *models.Report) ([]Artifact, error) {
	out := make([]Artifact, 0, len(report.Sheets))
	for _, sheet := range report.Sheets {
		data, err := c.FormatTable(sheet)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sheet.Name, err)
		}
		out = append(out, Artifact{Part: models.SheetFileName(sheet.Name), Data: data})
	}
	return out, nil
}

func (c CSVFormatter) FormatTable(t *models.Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if c.Delimiter != 0 {
		w.Comma = c.Delimiter
	}
	if err := w.Write(t.Columns); err != nil {
		return nil, err
	}
	rec := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range rec {
			rec[i] = ""
			if i < len(row) {
				rec[i] = c.cell(row[i])
			}
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func (c CSVFormatter) cell(v models.Value) string {
	if v.Kind != models.KindNumber {
		return v.String()
	}
	s := strconv.FormatFloat(v.Number, 'f', -1, 64)
	if c.DecimalComma {
		s = strings.Replace(s, ".", ",", 1)
	}
	return s
}

// TXTFormatter renders the summary template through a tabwriter.
type TXTFormatter struct {
	Template *template.Template
}

func (TXTFormatter) FileExtension() string { return "txt" }

func (t TXTFormatter) Format(report *models.Report) ([]Artifact, error) {
	if t.Template == nil {
		return nil, fmt.Errorf("txt formatter has no template")
	}
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	if err := t.Template.Execute(w, report); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return []Artifact{{Data: buf.Bytes()}}, nil
}
