package endpoint

import (
	"context"
	"fmt"
	"iter"

	"github.com/orneryd/fluentcypher/pkg/cypher"
	"github.com/orneryd/fluentcypher/pkg/graph"
	"github.com/orneryd/fluentcypher/pkg/txscope"
)

// Rows is the materialised result of one Fetch. Every row is a fresh
// instance owned by the caller.
type Rows[T any] struct {
	statement string
	columns   []cypher.Column
	rows      []T
}

// All yields the rows in response order.
func (r *Rows[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i, row := range r.rows {
			if !yield(i, row) {
				return
			}
		}
	}
}

// Collect returns the rows as a slice.
func (r *Rows[T]) Collect() []T {
	return append([]T(nil), r.rows...)
}

// First returns the first row.
func (r *Rows[T]) First() (T, bool) {
	if len(r.rows) == 0 {
		var zero T
		return zero, false
	}
	return r.rows[0], true
}

// Len returns the number of rows.
func (r *Rows[T]) Len() int { return len(r.rows) }

// Statement returns the executed statement text.
func (r *Rows[T]) Statement() string { return r.statement }

// Columns returns the declared result columns.
func (r *Rows[T]) Columns() []cypher.Column {
	return append([]cypher.Column(nil), r.columns...)
}

// Fetch compiles q if needed, runs it and decodes the response into T.
//
// Declaration and compilation errors are returned before any request is
// sent, as is a ResultShapeError when T cannot hold the projection. A
// response that does not match the projection yields a ResultShapeError
// and no rows. Writes are enlisted in the scope carried by ctx. Every call
// sends a new request.
func Fetch[T any](ctx context.Context, q *Query) (*Rows[T], error) {
	stmt, err := q.Compile()
	if err != nil {
		return nil, err
	}
	cols := stmt.Columns()
	decode, err := planRows[T](cols)
	if err != nil {
		return nil, err
	}

	kind := kindRead
	var mut *txscope.Mutation
	if stmt.Mutating() {
		kind = kindWrite
		mut = &txscope.Mutation{Kind: txscope.MutationSet}
		if q.decl.Creates() {
			mut.Kind = txscope.MutationCreate
		}
	}

	res, err := q.ep.execute(ctx, stmt.Text, kind, mut)
	if err != nil {
		return nil, err
	}
	rows, err := materialize(decode, cols, res)
	if err != nil {
		q.ep.logger.Warn("result does not match projection", "statement", stmt.Text, "error", err)
		return nil, err
	}
	return &Rows[T]{statement: stmt.Text, columns: cols, rows: rows}, nil
}

// CreateNode creates one node and returns it as stored.
func (e *Endpoint) CreateNode(ctx context.Context, props map[string]any, labels ...string) (graph.Node, error) {
	q := e.NewQuery()
	n, err := q.Node("node")
	if err != nil {
		return graph.Node{}, err
	}
	q.Create(cypher.NewNode(n, props, labels...)).Return(n)

	rows, err := Fetch[graph.Node](ctx, q)
	if err != nil {
		return graph.Node{}, err
	}
	node, ok := rows.First()
	if !ok {
		return graph.Node{}, fmt.Errorf("create node: %w", ErrNotFound)
	}
	return node, nil
}

// CreateRelationship creates a relationship of relType from the node
// fromID to the node toID. ErrNotFound is returned when either node does
// not exist.
func (e *Endpoint) CreateRelationship(ctx context.Context, fromID int64, relType string, props map[string]any, toID int64) (graph.Relationship, error) {
	q := e.NewQuery()
	source, err := q.Node("source")
	if err != nil {
		return graph.Relationship{}, err
	}
	target, err := q.Node("target")
	if err != nil {
		return graph.Relationship{}, err
	}
	rel, err := q.Rel("rel")
	if err != nil {
		return graph.Relationship{}, err
	}
	q.Start(cypher.At(source, fromID).At(target, toID)).
		Create(cypher.Relationship(source, rel, relType, target).WithProps(props)).
		Return(rel)

	rows, err := Fetch[graph.Relationship](ctx, q)
	if err != nil {
		return graph.Relationship{}, err
	}
	r, ok := rows.First()
	if !ok {
		return graph.Relationship{}, fmt.Errorf("relationship %d-[:%s]->%d: %w", fromID, relType, toID, ErrNotFound)
	}
	return r, nil
}

// GetNode fetches one node by id.
func (e *Endpoint) GetNode(ctx context.Context, id int64) (graph.Node, error) {
	q := e.NewQuery()
	n, err := q.Node("node")
	if err != nil {
		return graph.Node{}, err
	}
	q.Start(cypher.At(n, id)).Return(n)

	rows, err := Fetch[graph.Node](ctx, q)
	if err != nil {
		return graph.Node{}, err
	}
	node, ok := rows.First()
	if !ok {
		return graph.Node{}, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return node, nil
}
