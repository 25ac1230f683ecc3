package dbexec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rainlanguage/raindex/internal/sqlbatch"
)

// HostCallback is the shape of the function a JS host exposes: given SQL
// text and its bound parameters (already unwrapped to plain Go values via
// sqlbatch.Value.Any), it returns the query result's JSON-array encoding as
// a string, resolving through whatever Promise/WasmEncodedResult plumbing
// the host uses — by the time it reaches this package that's collapsed to
// a plain (string, error).
type HostCallback func(ctx context.Context, sql string, params []interface{}) (string, error)

// JSCallback is the DB executor backend that defers every statement to a
// host-supplied function instead of holding its own connection — the shape
// a WASM/JS embedding needs, mirrored from the native SQLite executor's
// same single-writer discipline.
type JSCallback struct {
	call HostCallback
}

func NewJSCallback(call HostCallback) *JSCallback {
	return &JSCallback{call: call}
}

func (j *JSCallback) ExecuteBatch(ctx context.Context, batch *sqlbatch.Batch) error {
	if len(batch.Statements) == 0 {
		return nil
	}
	if len(batch.Statements) > 1 && !isTransactionWrapped(batch) {
		return ErrWriteOutsideTransaction
	}

	for _, stmt := range batch.Statements {
		args := make([]interface{}, len(stmt.Params))
		for i, p := range stmt.Params {
			args[i] = p.Any()
		}
		if _, err := j.call(ctx, stmt.Text, args); err != nil {
			return fmt.Errorf("dbexec: host callback for %q: %w", stmt.Text, err)
		}
	}
	return nil
}

func (j *JSCallback) QueryJSON(ctx context.Context, stmt sqlbatch.Statement, out interface{}) error {
	text, err := j.QueryText(ctx, stmt)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(text), out)
}

func (j *JSCallback) QueryText(ctx context.Context, stmt sqlbatch.Statement) (string, error) {
	args := make([]interface{}, len(stmt.Params))
	for i, p := range stmt.Params {
		args[i] = p.Any()
	}
	text, err := j.call(ctx, stmt.Text, args)
	if err != nil {
		return "", fmt.Errorf("dbexec: host callback for %q: %w", stmt.Text, err)
	}
	if text == "" {
		return "[]", nil
	}
	return text, nil
}
