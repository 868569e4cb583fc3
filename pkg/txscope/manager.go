package txscope

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/fluentcypher/pkg/driver"
)

// Manager creates frames over one protocol client.
type Manager struct {
	client    driver.Client
	logger    *slog.Logger
	observers []Observer
	newID     func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithObserver registers fn for resolution events.
func WithObserver(fn Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, fn) }
}

// WithLogger sets the logger. Frames are logged at DEBUG.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithIDGenerator replaces the default UUID frame ids.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// NewManager returns a Manager running transactions on client.
func NewManager(client driver.Client, opts ...Option) *Manager {
	m := &Manager{
		client: client,
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Client returns the underlying protocol client.
func (m *Manager) Client() driver.Client { return m.client }

type frameKey struct{}

// stack holds the frames of one call chain.
type stack struct {
	mu     sync.Mutex
	frames []*Frame
}

func (s *stack) top() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

func (s *stack) pop() {
	s.frames = s.frames[:len(s.frames)-1]
}

// FrameFrom returns the frame carried by ctx, or nil.
func FrameFrom(ctx context.Context) *Frame {
	f, _ := ctx.Value(frameKey{}).(*Frame)
	return f
}

// Enter opens a frame and returns a context carrying it. The frame nests
// under the frame already carried by ctx, if that frame is still active.
func (m *Manager) Enter(ctx context.Context, scope Scope) (context.Context, *Frame, error) {
	if err := ctx.Err(); err != nil {
		return ctx, nil, err
	}

	parent := FrameFrom(ctx)
	st := &stack{}
	if parent != nil {
		st = parent.stack
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if parent != nil && parent.state != StateActive {
		return ctx, nil, ErrScopeClosed
	}

	f := &Frame{
		manager: m,
		id:      m.newID(),
		scope:   scope,
		stack:   st,
		ctx:     ctx,
		started: time.Now(),
	}
	if parent != nil {
		f.parent = parent
	}
	if scope == Required && parent != nil {
		f.txn = parent.txn
	} else {
		f.txn = &txn{client: m.client}
		f.owns = true
	}
	st.frames = append(st.frames, f)
	f.stop = context.AfterFunc(ctx, f.cancelled)

	m.logger.Debug("scope entered", "frame", f.id, "scope", scope.String(), "depth", len(st.frames), "joined", !f.owns)
	return context.WithValue(ctx, frameKey{}, f), f, nil
}

// Enlist tags mut with the frame carried by ctx and returns the runner the
// mutation must be sent through. Outside any scope the client itself is
// returned and the frame is nil.
func (m *Manager) Enlist(ctx context.Context, mut Mutation) (driver.Runner, *Frame, error) {
	f := FrameFrom(ctx)
	if f == nil {
		return m.client, nil, nil
	}

	f.stack.mu.Lock()
	defer f.stack.mu.Unlock()
	if f.state != StateActive {
		return nil, f, ErrScopeClosed
	}
	mut.FrameID = f.id
	f.mutations = append(f.mutations, mut)
	return f.txn, f, nil
}

// RunnerFor returns the runner reads in ctx should use, so they see the
// writes of the enclosing scope.
func (m *Manager) RunnerFor(ctx context.Context) (driver.Runner, error) {
	f := FrameFrom(ctx)
	if f == nil {
		return m.client, nil
	}

	f.stack.mu.Lock()
	defer f.stack.mu.Unlock()
	if f.state != StateActive {
		return nil, ErrScopeClosed
	}
	return f.txn, nil
}

func (m *Manager) emit(e Event) {
	m.logger.Debug("scope resolved",
		"frame", e.FrameID,
		"scope", e.Scope.String(),
		"state", e.State.String(),
		"mutations", e.Mutations,
		"joined", e.Joined,
		"duration", e.Duration,
	)
	for _, fn := range m.observers {
		fn(e)
	}
}
