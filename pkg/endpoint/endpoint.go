// Package endpoint executes compiled declarations through a protocol
// client and materialises the responses into typed rows.
//
// Example:
//
//	ep := endpoint.New(client, endpoint.WithQueryTimeout(5*time.Second))
//
//	type vars struct {
//		Movie *cypher.NodeVar
//		Actor *cypher.NodeVar
//	}
//	q, v, err := endpoint.BeginQuery[vars](ep)
//	if err != nil {
//		return err
//	}
//	q.Start(cypher.At(v.Movie, 1)).
//		Match(cypher.Path(cypher.N(v.Movie)).In(cypher.Rel("ACTED_IN"), cypher.N(v.Actor))).
//		Return(v.Actor)
//
//	rows, err := endpoint.Fetch[graph.Node](ctx, q)
//	for _, actor := range rows.All() {
//		fmt.Println(actor.Properties)
//	}
package endpoint

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/orneryd/fluentcypher/pkg/cypher"
	"github.com/orneryd/fluentcypher/pkg/driver"
	"github.com/orneryd/fluentcypher/pkg/metrics"
	"github.com/orneryd/fluentcypher/pkg/txscope"
)

// Endpoint runs fluent queries against one protocol client.
type Endpoint struct {
	client  driver.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	cache   *cypher.QueryCache
	timeout time.Duration
	tx      *txscope.Manager
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithLogger sets the logger. Statements are logged at DEBUG and failures
// at WARN.
func WithLogger(l *slog.Logger) Option {
	return func(e *Endpoint) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records queries, cache lookups and scope outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Endpoint) { e.metrics = m }
}

// WithCache replaces the process-wide compiled query cache.
func WithCache(c *cypher.QueryCache) Option {
	return func(e *Endpoint) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithQueryTimeout bounds every round trip. Zero disables the bound.
func WithQueryTimeout(d time.Duration) Option {
	return func(e *Endpoint) { e.timeout = d }
}

// WithTxManager sets the transaction scope manager. It must wrap the same
// client.
func WithTxManager(m *txscope.Manager) Option {
	return func(e *Endpoint) { e.tx = m }
}

// New returns an Endpoint over client.
func New(client driver.Client, opts ...Option) *Endpoint {
	e := &Endpoint{
		client: client,
		logger: slog.Default(),
		cache:  cypher.DefaultCache(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tx == nil {
		e.tx = txscope.NewManager(client,
			txscope.WithLogger(e.logger),
			txscope.WithObserver(func(ev txscope.Event) {
				e.metrics.ObserveScope(ev.Scope.String(), ev.State.String())
			}),
		)
	}
	return e
}

// Tx returns the transaction scope manager.
func (e *Endpoint) Tx() *txscope.Manager { return e.tx }

// Cache returns the compiled query cache.
func (e *Endpoint) Cache() *cypher.QueryCache { return e.cache }

// Close closes the protocol client.
func (e *Endpoint) Close(ctx context.Context) error { return e.client.Close(ctx) }

const (
	kindRead  = "read"
	kindWrite = "write"
	kindRaw   = "raw"
)

// execute sends text through the runner of the current scope. Writes are
// enlisted in the innermost scope.
func (e *Endpoint) execute(ctx context.Context, text, kind string, mut *txscope.Mutation) (*driver.Result, error) {
	var (
		runner driver.Runner
		err    error
	)
	if mut != nil {
		mut.Statement = text
		runner, _, err = e.tx.Enlist(ctx, *mut)
	} else {
		runner, err = e.tx.RunnerFor(ctx)
	}
	if err != nil {
		return nil, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := runner.Run(ctx, text)
	elapsed := time.Since(start)
	e.metrics.ObserveQuery(kind, elapsed, err)

	if err != nil {
		timeout := errors.Is(err, context.DeadlineExceeded)
		e.logger.Warn("statement failed", "kind", kind, "statement", text, "timeout", timeout, "error", err)
		return nil, &ExecutionError{Statement: text, Timeout: timeout, Err: err}
	}
	if res == nil {
		res = &driver.Result{}
	}
	e.logger.Debug("statement executed", "kind", kind, "statement", text, "rows", res.Len(), "duration", elapsed)
	return res, nil
}

// Run sends a raw statement with no materialisation. Inside a scope it
// runs in the scope's transaction.
func (e *Endpoint) Run(ctx context.Context, statement string) (*driver.Result, error) {
	return e.execute(ctx, statement, kindRaw, nil)
}
