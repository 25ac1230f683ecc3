package sqlbatch

import (
	"fmt"
	"strings"
)

// Statement is one parameterized SQL statement using numbered placeholders
// (?1, ?2, ...), ready to be bound verbatim by a DB executor.
type Statement struct {
	Text   string
	Params []Value
}

// New builds a Statement from literal SQL text and its bound params.
func New(text string, params ...Value) Statement {
	return Statement{Text: text, Params: params}
}

// placeholder renders the numbered placeholder for a 1-based index.
func placeholder(i int) string { return fmt.Sprintf("?%d", i) }

// InClause renders a parameterized "IN (?n, ?n+1, ...)" expression for the
// given values, numbering placeholders starting at startIndex (1-based).
// Returns the clause text and the next free placeholder index; the caller
// appends the values to its own params. An empty values slice renders
// "IN (NULL)" so the containing WHERE clause is always valid SQL and never
// matches any row — callers that want the clause erased instead pass an
// empty clause to ReplaceTemplate below.
func InClause(startIndex int, values []Value) (clause string, next int) {
	if len(values) == 0 {
		return "IN (NULL)", startIndex
	}
	placeholders := make([]string, len(values))
	for i := range values {
		placeholders[i] = placeholder(startIndex + i)
	}
	return "IN (" + strings.Join(placeholders, ", ") + ")", startIndex + len(values)
}

// ReplaceTemplate substitutes the first occurrence of a templated marker
// (e.g. "/*OWNERS_CLAUSE*/") with the given parameterized clause. When
// clause is empty, the marker and any immediately preceding "AND"/"WHERE"
// glue on the same line are erased entirely ("erased when
// the list is empty").
func ReplaceTemplate(sql, marker, clause string) string {
	if clause == "" {
		return eraseMarkerLine(sql, marker)
	}
	return strings.Replace(sql, marker, clause, 1)
}

func eraseMarkerLine(sql, marker string) string {
	lines := strings.Split(sql, "\n")
	var out []string
	for _, line := range lines {
		if strings.Contains(line, marker) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
