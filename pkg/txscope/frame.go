package txscope

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/orneryd/fluentcypher/pkg/driver"
)

// txn is a backend transaction shared by an owning frame and the Required
// frames that joined it.
type txn struct {
	client driver.Client

	mu     sync.Mutex
	tx     driver.Tx
	done   bool
	doomed bool
	joined []*Frame
}

var _ driver.Runner = (*txn)(nil)

// Run sends statement through the backend transaction, beginning it on
// first use.
func (t *txn) Run(ctx context.Context, statement string) (*driver.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, ErrScopeClosed
	}
	if t.tx == nil {
		tx, err := t.client.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("begin transaction: %w", err)
		}
		t.tx = tx
	}
	return t.tx.Run(ctx, statement)
}

func (t *txn) finish(ctx context.Context, commit bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	if t.tx == nil {
		return nil
	}
	if commit {
		return t.tx.Commit(ctx)
	}
	return t.tx.Rollback(ctx)
}

func (t *txn) discardJoined() {
	t.mu.Lock()
	joined := t.joined
	t.joined = nil
	t.mu.Unlock()
	for _, f := range joined {
		f.discarded = true
	}
}

// Frame is one transaction scope. Frames are not reused after resolution.
type Frame struct {
	manager *Manager
	id      string
	scope   Scope
	parent  *Frame
	stack   *stack
	txn     *txn
	owns    bool
	ctx     context.Context
	started time.Time
	stop    func() bool

	// guarded by stack.mu
	state     State
	mutations []Mutation
	discarded bool
	// cancelErr is the context error of a frame resolved by cancellation.
	cancelErr error
}

// ID returns the frame id.
func (f *Frame) ID() string { return f.id }

// Scope returns the scope the frame was entered with.
func (f *Frame) Scope() Scope { return f.scope }

// State returns the lifecycle state.
func (f *Frame) State() State {
	f.stack.mu.Lock()
	defer f.stack.mu.Unlock()
	return f.state
}

// Mutations returns the operations enlisted in this frame.
func (f *Frame) Mutations() []Mutation {
	f.stack.mu.Lock()
	defer f.stack.mu.Unlock()
	return append([]Mutation(nil), f.mutations...)
}

// Discarded reports whether a provisional commit was undone by the
// enclosing transaction rolling back.
func (f *Frame) Discarded() bool {
	f.stack.mu.Lock()
	defer f.stack.mu.Unlock()
	return f.discarded
}

// Commit resolves the frame. A frame owning its transaction commits it; a
// joined frame commits provisionally. If the frame's context is done the
// transaction is rolled back and the context error returned.
func (f *Frame) Commit() error {
	f.stack.mu.Lock()
	ev, err := f.commit()
	f.stack.mu.Unlock()
	f.notify(ev)
	return err
}

func (f *Frame) commit() (*Event, error) {
	if err := f.resolvable(); err != nil {
		return nil, err
	}

	if err := f.ctx.Err(); err != nil {
		_ = f.rollbackLocked()
		return f.resolve(StateRolledBack, err)
	}

	if !f.owns {
		f.txn.mu.Lock()
		f.txn.joined = append(f.txn.joined, f)
		f.txn.mu.Unlock()
		return f.resolve(StateCommitted, nil)
	}

	f.txn.mu.Lock()
	doomed := f.txn.doomed
	f.txn.mu.Unlock()
	if doomed {
		_ = f.rollbackLocked()
		return f.resolve(StateRolledBack, ErrAborted)
	}

	if err := f.txn.finish(context.WithoutCancel(f.ctx), true); err != nil {
		f.txn.discardJoined()
		return f.resolve(StateRolledBack, fmt.Errorf("commit: %w", err))
	}
	return f.resolve(StateCommitted, nil)
}

// Rollback resolves the frame without committing. Rolling back a joined
// frame dooms the enclosing transaction.
func (f *Frame) Rollback() error {
	f.stack.mu.Lock()
	ev, err := f.rollback()
	f.stack.mu.Unlock()
	f.notify(ev)
	return err
}

func (f *Frame) rollback() (*Event, error) {
	if err := f.resolvable(); err != nil {
		return nil, err
	}
	return f.resolve(StateRolledBack, f.rollbackLocked())
}

// Close rolls back a frame that is still active and is a no-op otherwise.
// It is meant for defer.
func (f *Frame) Close() error {
	f.stack.mu.Lock()
	if f.state != StateActive {
		f.stack.mu.Unlock()
		return nil
	}
	ev, err := f.rollback()
	f.stack.mu.Unlock()
	f.notify(ev)
	return err
}

func (f *Frame) resolvable() error {
	if f.state != StateActive {
		if f.cancelErr != nil {
			return f.cancelErr
		}
		return ErrScopeClosed
	}
	if f.stack.top() != f {
		return ErrOutOfOrder
	}
	return nil
}

func (f *Frame) rollbackLocked() error {
	if !f.owns {
		f.txn.mu.Lock()
		f.txn.doomed = true
		f.txn.mu.Unlock()
		return nil
	}
	err := f.txn.finish(context.WithoutCancel(f.ctx), false)
	f.txn.discardJoined()
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// cancelled runs once the frame's context is done. The frame and every
// frame still active above it are rolled back, innermost first, so the
// enclosing frames stay resolvable.
func (f *Frame) cancelled() {
	f.stack.mu.Lock()
	if f.state != StateActive {
		f.stack.mu.Unlock()
		return
	}
	cause := f.ctx.Err()
	var events []*Event
	for {
		top := f.stack.top()
		top.cancelErr = cause
		_ = top.rollbackLocked()
		ev, _ := top.resolve(StateRolledBack, cause)
		events = append(events, ev)
		if top == f {
			break
		}
	}
	f.stack.mu.Unlock()

	for _, ev := range events {
		f.notify(ev)
	}
}

// resolve records the terminal state and pops the frame. err is returned
// unchanged alongside the event to publish once the stack is unlocked.
func (f *Frame) resolve(state State, err error) (*Event, error) {
	f.state = state
	f.stack.pop()
	if f.stop != nil {
		f.stop()
	}

	e := &Event{
		FrameID:   f.id,
		Scope:     f.scope,
		State:     state,
		Mutations: len(f.mutations),
		Joined:    !f.owns,
		Err:       err,
		Duration:  time.Since(f.started),
	}
	if f.parent != nil {
		e.ParentID = f.parent.id
	}
	return e, err
}

func (f *Frame) notify(e *Event) {
	if e == nil {
		return
	}
	if e.Err != nil && !errors.Is(e.Err, ErrAborted) {
		f.manager.logger.Warn("scope resolution failed", "frame", e.FrameID, "error", e.Err)
	}
	f.manager.emit(*e)
}
