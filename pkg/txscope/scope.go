// Package txscope tracks nested transaction scopes for mutating queries.
//
// A scope is entered with Manager.Enter and resolved with Frame.Commit or
// Frame.Rollback. Frames form a stack per call chain that must be resolved
// strictly last-in first-out. Each frame delegates to a native backend
// transaction that is begun lazily on first use:
//
//	ctx, frame, err := mgr.Enter(ctx, txscope.Required)
//	if err != nil {
//		return err
//	}
//	defer frame.Close()
//	// ... run mutations with ctx ...
//	return frame.Commit()
//
// A Required frame nested in an active frame joins the enclosing backend
// transaction: its commit is provisional and is discarded when the
// enclosing frame rolls back, and its rollback dooms the enclosing
// transaction. A RequiresNew frame always owns an independent transaction
// whose commit is durable.
package txscope

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by scope operations.
var (
	// ErrOutOfOrder is returned when a frame is resolved while a frame
	// entered after it is still active.
	ErrOutOfOrder = errors.New("txscope: scope resolved out of order")

	// ErrScopeClosed is returned for work against an already resolved frame.
	ErrScopeClosed = errors.New("txscope: scope already resolved")

	// ErrAborted is returned by Commit when a joined inner scope rolled back.
	ErrAborted = errors.New("txscope: transaction aborted by inner scope rollback")
)

// Scope selects how a new frame relates to the enclosing one.
type Scope int

const (
	// Required joins the enclosing transaction, or starts one if there is
	// none.
	Required Scope = iota
	// RequiresNew always starts an independent transaction.
	RequiresNew
)

func (s Scope) String() string {
	switch s {
	case Required:
		return "required"
	case RequiresNew:
		return "requires_new"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

// State is the lifecycle state of a frame.
type State int

const (
	StateActive State = iota
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MutationKind classifies an enlisted operation.
type MutationKind int

const (
	MutationCreate MutationKind = iota
	MutationSet
)

func (k MutationKind) String() string {
	if k == MutationSet {
		return "set"
	}
	return "create"
}

// Mutation is a write operation tagged with the frame it ran in.
type Mutation struct {
	Kind      MutationKind
	Statement string
	FrameID   string
}

// Event describes a resolved frame.
type Event struct {
	FrameID   string
	ParentID  string
	Scope     Scope
	State     State
	Mutations int
	// Joined is true when the frame shared its parent's transaction.
	Joined   bool
	Err      error
	Duration time.Duration
}

// Observer receives an Event for every resolved frame.
type Observer func(Event)
