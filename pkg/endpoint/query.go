package endpoint

import (
	"github.com/orneryd/fluentcypher/pkg/cypher"
)

// Query is a declaration bound to an endpoint. Steps return the receiver;
// the first invalid step is reported by Fetch.
type Query struct {
	ep   *Endpoint
	decl *cypher.Declaration
}

// BeginQuery starts a query whose variables are the *cypher.NodeVar and
// *cypher.RelVar fields of V.
func BeginQuery[V any](ep *Endpoint) (*Query, *V, error) {
	b := cypher.NewBinder()
	vars, err := cypher.Bind[V](b)
	if err != nil {
		return nil, nil, err
	}
	return &Query{ep: ep, decl: cypher.NewDeclaration(b)}, vars, nil
}

// NewQuery starts a query with an empty context. Variables are added with
// Node and Rel.
func (e *Endpoint) NewQuery() *Query {
	return &Query{ep: e, decl: cypher.NewDeclaration(cypher.NewBinder())}
}

// Node declares a node variable.
func (q *Query) Node(name string) (*cypher.NodeVar, error) { return q.decl.Binder().Node(name) }

// Rel declares a relationship variable.
func (q *Query) Rel(name string) (*cypher.RelVar, error) { return q.decl.Binder().Rel(name) }

// Declaration returns the underlying declaration.
func (q *Query) Declaration() *cypher.Declaration { return q.decl }

// Err returns the first declaration error.
func (q *Query) Err() error { return q.decl.Err() }

func (q *Query) Start(points ...cypher.Starts) *Query {
	q.decl.Start(points...)
	return q
}

func (q *Query) Match(paths ...cypher.PathSpec) *Query {
	q.decl.Match(paths...)
	return q
}

func (q *Query) Where(e cypher.Expr) *Query {
	q.decl.Where(e)
	return q
}

func (q *Query) Create(specs ...cypher.CreateSpec) *Query {
	q.decl.Create(specs...)
	return q
}

func (q *Query) Update(items ...cypher.SetItem) *Query {
	q.decl.Update(items...)
	return q
}

func (q *Query) Return(items ...cypher.Projection) *Query {
	q.decl.Return(items...)
	return q
}

func (q *Query) OrderBy(keys ...cypher.Orderable) *Query {
	q.decl.OrderBy(keys...)
	return q
}

func (q *Query) Skip(n int) *Query {
	q.decl.Skip(n)
	return q
}

func (q *Query) Limit(n int) *Query {
	q.decl.Limit(n)
	return q
}

// Compile renders the statement through the endpoint's cache without
// running it.
func (q *Query) Compile() (*cypher.Statement, error) {
	stmt, err := q.decl.Compile(q.ep.cache)
	if err != nil {
		return nil, err
	}
	q.ep.metrics.ObserveCache(stmt.CacheHit)
	return stmt, nil
}
