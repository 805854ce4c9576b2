package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingColumn      = errors.New("missing required column")
	ErrUnknownScoreColumn = errors.New("unknown score column")
	ErrScanNotFound       = errors.New("scan not found")
)

type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingColumn, strings.Join(e.Columns, ", "))
}

func (e *MissingColumnsError) Unwrap() error {
	return ErrMissingColumn
}
