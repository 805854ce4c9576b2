package models

import (
	"encoding/json"
	"strconv"
)

const NoDataMessage = "No data to display"

type ValueKind int

const (
	KindEmpty ValueKind = iota
	KindText
	KindNumber
)

type Value struct {
	Kind   ValueKind
	Text   string
	Number float64
}

func Text(s string) Value {
	if s == "" {
		return Value{}
	}
	return Value{Kind: KindText, Text: s}
}

func Number(f float64) Value {
	return Value{Kind: KindNumber, Number: f}
}

func Empty() Value {
	return Value{}
}

func (v Value) IsEmpty() bool {
	return v.Kind == KindEmpty
}

func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	}
	return ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindText:
		return json.Marshal(v.Text)
	case KindNumber:
		return json.Marshal(v.Number)
	}
	return []byte("null"), nil
}

func (v Value) MarshalYAML() (interface{}, error) {
	switch v.Kind {
	case KindText:
		return v.Text, nil
	case KindNumber:
		return v.Number, nil
	}
	return nil, nil
}

// Table is the tabular exchange shape: ordered columns and rows aligned to them.
type Table struct {
	Name    string    `json:"name" yaml:"name"`
	Columns []string  `json:"columns" yaml:"columns"`
	Rows    [][]Value `json:"rows" yaml:"rows"`
}

func NewTable(name string, columns []string) *Table {
	return &Table{Name: name, Columns: append([]string{}, columns...)}
}

// PlaceholderTable is what an empty scan renders as: a single row whose
// first cell carries NoDataMessage.
func PlaceholderTable(name string, columns []string) *Table {
	if len(columns) == 0 {
		columns = []string{"Info"}
	}
	t := NewTable(name, columns)
	row := make([]Value, len(columns))
	row[0] = Text(NoDataMessage)
	t.Rows = append(t.Rows, row)
	return t
}

func (t *Table) Index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

func (t *Table) HasColumn(column string) bool {
	return t.Index(column) >= 0
}

func (t *Table) Get(row int, column string) Value {
	i := t.Index(column)
	if i < 0 || row < 0 || row >= len(t.Rows) || i >= len(t.Rows[row]) {
		return Empty()
	}
	return t.Rows[row][i]
}

func (t *Table) Len() int {
	return len(t.Rows)
}

func (t *Table) IsPlaceholder() bool {
	return len(t.Rows) == 1 && len(t.Rows[0]) > 0 && t.Rows[0][0].Text == NoDataMessage
}
