package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// BoltConfig holds Bolt connection settings.
type BoltConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Bolt is a Client backed by the official Neo4j driver. Connection pooling
// is left to the driver; every autocommit Run uses a fresh session.
type Bolt struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewBolt connects and verifies connectivity.
func NewBolt(ctx context.Context, cfg BoltConfig) (*Bolt, error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}
	drv, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := drv.VerifyConnectivity(ctx); err != nil {
		_ = drv.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}
	return &Bolt{driver: drv, database: cfg.Database}, nil
}

func (b *Bolt) session(ctx context.Context) neo4j.SessionWithContext {
	return b.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: b.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
}

// Run executes statement in an autocommit transaction.
func (b *Bolt) Run(ctx context.Context, statement string) (*Result, error) {
	session := b.session(ctx)
	defer session.Close(ctx)

	res, err := session.Run(ctx, statement, nil)
	if err != nil {
		return nil, boltError(err)
	}
	return collect(ctx, res)
}

// Begin opens an explicit transaction on a dedicated session.
func (b *Bolt) Begin(ctx context.Context) (Tx, error) {
	session := b.session(ctx)
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		_ = session.Close(ctx)
		return nil, boltError(err)
	}
	return &boltTx{session: session, tx: tx}, nil
}

// Close releases the driver and its connection pool.
func (b *Bolt) Close(ctx context.Context) error {
	return b.driver.Close(ctx)
}

type boltTx struct {
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
	done    bool
}

func (t *boltTx) Run(ctx context.Context, statement string) (*Result, error) {
	if t.done {
		return nil, ErrTxClosed
	}
	res, err := t.tx.Run(ctx, statement, nil)
	if err != nil {
		return nil, boltError(err)
	}
	return collect(ctx, res)
}

func (t *boltTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxClosed
	}
	t.done = true
	defer t.session.Close(ctx)
	if err := t.tx.Commit(ctx); err != nil {
		return boltError(err)
	}
	return nil
}

func (t *boltTx) Rollback(ctx context.Context) error {
	if t.done {
		return ErrTxClosed
	}
	t.done = true
	defer t.session.Close(ctx)
	if err := t.tx.Rollback(ctx); err != nil {
		return boltError(err)
	}
	return nil
}

func collect(ctx context.Context, res neo4j.ResultWithContext) (*Result, error) {
	keys, err := res.Keys()
	if err != nil {
		return nil, boltError(err)
	}
	out := &Result{Columns: keys}
	for res.Next(ctx) {
		rec := res.Record()
		row := make([]any, len(rec.Values))
		for i, v := range rec.Values {
			cell, err := normalizeBolt(v)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", keys[i], err)
			}
			row[i] = cell
		}
		out.Rows = append(out.Rows, row)
	}
	if err := res.Err(); err != nil {
		return nil, boltError(err)
	}
	return out, nil
}

// boltError surfaces server failures as *Error and passes the rest through.
func boltError(err error) error {
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		return &Error{Code: neoErr.Code, Message: neoErr.Msg}
	}
	return err
}
