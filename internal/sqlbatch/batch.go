package sqlbatch

import (
	"errors"
	"strings"
)

// ErrAlreadyTransaction is returned by IntoTransaction when the batch's
// first or last statement is already BEGIN/COMMIT.
var ErrAlreadyTransaction = errors.New("sqlbatch: statement batch is already wrapped in a transaction")

// Batch is an ordered list of statements executed together.
type Batch struct {
	Statements []Statement
}

// NewBatch returns an empty batch.
func NewBatch() *Batch { return &Batch{} }

// Add appends one statement and returns the batch for chaining.
func (b *Batch) Add(s Statement) *Batch {
	b.Statements = append(b.Statements, s)
	return b
}

// Extend appends another batch's statements and returns the batch for chaining.
func (b *Batch) Extend(other *Batch) *Batch {
	if other != nil {
		b.Statements = append(b.Statements, other.Statements...)
	}
	return b
}

// IntoTransaction wraps the batch in BEGIN TRANSACTION / COMMIT, refusing to
// double-wrap an already-transactional batch.
func (b *Batch) IntoTransaction() (*Batch, error) {
	if len(b.Statements) > 0 {
		if isBegin(b.Statements[0].Text) || isCommit(b.Statements[len(b.Statements)-1].Text) {
			return nil, ErrAlreadyTransaction
		}
	}
	wrapped := &Batch{Statements: make([]Statement, 0, len(b.Statements)+2)}
	wrapped.Add(New("BEGIN TRANSACTION"))
	wrapped.Statements = append(wrapped.Statements, b.Statements...)
	wrapped.Add(New("COMMIT"))
	return wrapped, nil
}

func isBegin(sql string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(sql)), "BEGIN")
}

func isCommit(sql string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(sql)), "COMMIT")
}
