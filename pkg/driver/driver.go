// Package driver defines the protocol client the query endpoint talks to and
// ships two implementations: Bolt, over the official Neo4j Go driver, and
// HTTP, over the Neo4j transactional HTTP endpoint.
//
// Both adapters normalise result cells to the same small set of Go types so
// the materialiser does not care which protocol produced them:
//
//	nil, bool, int64, float64, string, []any, map[string]any,
//	graph.Node, graph.Relationship
package driver

import (
	"context"
	"errors"
	"fmt"
)

// Errors returned by protocol clients.
var (
	ErrTxClosed = errors.New("driver: transaction already closed")
	ErrClosed   = errors.New("driver: client closed")
)

// Result is a tabular response.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Runner sends one statement and returns its complete result.
type Runner interface {
	Run(ctx context.Context, statement string) (*Result, error)
}

// Tx is an explicit backend transaction.
type Tx interface {
	Runner
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Client runs autocommit statements and opens explicit transactions.
type Client interface {
	Runner
	Begin(ctx context.Context) (Tx, error)
	Close(ctx context.Context) error
}

// Error is a failure reported by the server, such as a syntax error.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
