package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// PostgreSQL error codes the hosted backend forwards for schema drift.
const (
	CodeUndefinedTable  = "42P01"
	CodeUndefinedColumn = "42703"
	// CodeNoRows is the row service's code for a single-row write that matched nothing.
	CodeNoRows = "PGRST116"
)

// Error is the error body returned by the row service.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("gateway error (status %d): %s", e.Status, e.Message)
	}
	return e.Message
}

// MissingRelation builds the error the backend returns for an unknown entity set.
func MissingRelation(table string) *Error {
	return &Error{
		Status:  404,
		Code:    CodeUndefinedTable,
		Message: fmt.Sprintf("relation \"public.%s\" does not exist", table),
	}
}

// MissingColumn builds the error the backend returns for an unknown column.
func MissingColumn(table, column string) *Error {
	return &Error{
		Status:  400,
		Code:    CodeUndefinedColumn,
		Message: fmt.Sprintf("column %s.%s does not exist", table, column),
	}
}

// NoRows builds the error returned when an update matches no row.
func NoRows(table string) *Error {
	return &Error{
		Status:  404,
		Code:    CodeNoRows,
		Message: fmt.Sprintf("no %s row matched the filter", table),
	}
}

// Kind is the schema-drift category of a gateway failure.
type Kind int

const (
	KindOther Kind = iota
	KindMissingRelation
	KindMissingColumn
)

func (k Kind) String() string {
	switch k {
	case KindMissingRelation:
		return "missing_relation"
	case KindMissingColumn:
		return "missing_column"
	default:
		return "other"
	}
}

// Classify maps err to a schema-drift category for the given table.
//
// This is the only place that inspects backend error text. The matching is a
// heuristic over PostgreSQL messages and may misclassify unrelated errors that
// happen to contain the same words.
func Classify(err error, table string) Kind {
	if err == nil {
		return KindOther
	}

	code := ""
	msg := err.Error()
	var gwErr *Error
	if errors.As(err, &gwErr) {
		code = gwErr.Code
		msg = gwErr.Message
	}
	lower := strings.ToLower(msg)

	switch {
	case code == CodeUndefinedTable:
		return KindMissingRelation
	case code == CodeUndefinedColumn:
		return KindMissingColumn
	}

	if !strings.Contains(lower, "does not exist") {
		return KindOther
	}
	// `column "x" of relation "t" does not exist` is a column problem.
	if strings.Contains(lower, "column") {
		return KindMissingColumn
	}
	if strings.Contains(lower, "relation") && (table == "" || strings.Contains(lower, strings.ToLower(table))) {
		return KindMissingRelation
	}
	return KindOther
}

// Message returns the user-facing text of err.
func Message(err error) string {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
