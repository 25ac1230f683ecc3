// Package dbexec implements the DB executor abstraction: a
// narrow surface — execute a transaction-wrapped batch, read a query as
// JSON, read a query as raw text — behind which a native SQLite connection
// or a host JS callback can sit interchangeably.
package dbexec

import (
	"context"
	"errors"

	"github.com/rainlanguage/raindex/internal/sqlbatch"
)

// ErrWriteOutsideTransaction is returned when a caller attempts to execute a
// multi-statement batch that was not wrapped via (*sqlbatch.Batch).IntoTransaction.
var ErrWriteOutsideTransaction = errors.New("dbexec: write batch must be wrapped in a transaction")

// Executor is the minimal DB surface the sync engine and query layer depend
// on. Every write path goes through ExecuteBatch on a transaction-wrapped
// batch; QueryJSON and QueryText are read-only.
type Executor interface {
	// ExecuteBatch runs every statement in batch as a single unit of work.
	// Implementations reject batches of more than one statement unless the
	// batch is wrapped in BEGIN/COMMIT (see sqlbatch.Batch.IntoTransaction),
	// returning ErrWriteOutsideTransaction otherwise.
	ExecuteBatch(ctx context.Context, batch *sqlbatch.Batch) error

	// QueryJSON runs a single read-only statement and decodes the resulting
	// rows (as a JSON array of objects keyed by column name) into out.
	QueryJSON(ctx context.Context, stmt sqlbatch.Statement, out interface{}) error

	// QueryText runs a single read-only statement and returns its JSON-array
	// encoding as a string, for callers that want the raw wire form.
	QueryText(ctx context.Context, stmt sqlbatch.Statement) (string, error)
}
