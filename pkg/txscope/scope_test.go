package txscope

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/fluentcypher/pkg/driver"
	"github.com/orneryd/fluentcypher/pkg/driver/drivertest"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.FrameID + ":" + e.State.String()
	}
	return out
}

func newTestManager(t *testing.T) (*Manager, *drivertest.Memory, *recorder) {
	t.Helper()
	mem := drivertest.New()
	rec := &recorder{}
	n := 0
	m := NewManager(mem,
		WithObserver(rec.observe),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("f%d", n)
		}),
	)
	return m, mem, rec
}

func create(t *testing.T, m *Manager, ctx context.Context, label string) {
	t.Helper()
	stmt := "CREATE (n:" + label + ")"
	runner, _, err := m.Enlist(ctx, Mutation{Kind: MutationCreate, Statement: stmt})
	require.NoError(t, err)
	_, err = runner.Run(ctx, stmt)
	require.NoError(t, err)
}

func labels(mem *drivertest.Memory) []string {
	var out []string
	for _, n := range mem.Nodes() {
		out = append(out, n.Labels...)
	}
	return out
}

func TestEnlist_OutsideScopeUsesClient(t *testing.T) {
	m, mem, _ := newTestManager(t)
	runner, frame, err := m.Enlist(context.Background(), Mutation{Statement: "CREATE (n)"})
	require.NoError(t, err)
	assert.Nil(t, frame)
	assert.Same(t, driver.Runner(mem), runner)
}

func TestFrame_CommitPersists(t *testing.T) {
	m, mem, rec := newTestManager(t)
	ctx, frame, err := m.Enter(context.Background(), Required)
	require.NoError(t, err)

	create(t, m, ctx, "a")
	assert.Empty(t, labels(mem), "writes stay inside the transaction until commit")

	require.NoError(t, frame.Commit())
	assert.Equal(t, []string{"a"}, labels(mem))
	assert.Equal(t, StateCommitted, frame.State())
	assert.Equal(t, []Mutation{{Kind: MutationCreate, Statement: "CREATE (n:a)", FrameID: "f1"}}, frame.Mutations())
	assert.Equal(t, []string{"f1:committed"}, rec.states())
	assert.ErrorIs(t, frame.Commit(), ErrScopeClosed)
}

func TestFrame_NeverCommittedIsAbsent(t *testing.T) {
	m, mem, _ := newTestManager(t)

	func() {
		ctx, frame, err := m.Enter(context.Background(), Required)
		require.NoError(t, err)
		defer frame.Close()
		create(t, m, ctx, "lost")
	}()

	res, err := mem.Run(context.Background(), "MATCH (n:lost) RETURN id(n) as id")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Len())
	assert.Equal(t, 1, mem.Stats().RolledBack)
}

func TestFrame_NoBackendTransactionWithoutWork(t *testing.T) {
	m, mem, _ := newTestManager(t)
	_, frame, err := m.Enter(context.Background(), Required)
	require.NoError(t, err)
	require.NoError(t, frame.Commit())
	assert.Equal(t, 0, mem.Stats().Begun)
}

func TestFrame_RequiresNewSurvivesOuterRollback(t *testing.T) {
	m, mem, _ := newTestManager(t)

	outerCtx, outer, err := m.Enter(context.Background(), Required)
	require.NoError(t, err)
	create(t, m, outerCtx, "outer")

	innerCtx, inner, err := m.Enter(outerCtx, RequiresNew)
	require.NoError(t, err)
	create(t, m, innerCtx, "inner")
	require.NoError(t, inner.Commit())

	require.NoError(t, outer.Rollback())

	assert.Equal(t, []string{"inner"}, labels(mem))
	assert.False(t, inner.Discarded())
}

func TestFrame_RequiredJoinsAndIsDiscarded(t *testing.T) {
	m, mem, rec := newTestManager(t)

	outerCtx, outer, err := m.Enter(context.Background(), Required)
	require.NoError(t, err)

	innerCtx, inner, err := m.Enter(outerCtx, Required)
	require.NoError(t, err)
	create(t, m, innerCtx, "joined")
	require.NoError(t, inner.Commit())
	assert.Empty(t, labels(mem), "joined commit is provisional")

	require.NoError(t, outer.Rollback())
	assert.Empty(t, labels(mem))
	assert.True(t, inner.Discarded())
	assert.Equal(t, 1, mem.Stats().Begun, "joined frames share one backend transaction")
	assert.Equal(t, []string{"f2:committed", "f1:rolled_back"}, rec.states())
}

func TestFrame_RequiredJoinedCommitLandsWithOuter(t *testing.T) {
	m, mem, _ := newTestManager(t)

	outerCtx, outer, err := m.Enter(context.Background(), Required)
	require.NoError(t, err)
	innerCtx, inner, err := m.Enter(outerCtx, Required)
	require.NoError(t, err)
	create(t, m, innerCtx, "joined")
	require.NoError(t, inner.Commit())
	require.NoError(t, outer.Commit())

	assert.Equal(t, []string{"joined"}, labels(mem))
	assert.False(t, inner.Discarded())
}

func TestFrame_InnerRollbackDoomsOuter(t *testing.T) {
	m, mem, _ := newTestManager(t)

	outerCtx, outer, err := m.Enter(context.Background(), Required)
	require.NoError(t, err)
	create(t, m, outerCtx, "outer")

	_, inner, err := m.Enter(outerCtx, Required)
	require.NoError(t, err)
	require.NoError(t, inner.Rollback())

	assert.ErrorIs(t, outer.Commit(), ErrAborted)
	assert.Equal(t, StateRolledBack, outer.State())
	assert.Empty(t, labels(mem))
}

func TestFrame_OutOfOrder(t *testing.T) {
	m, _, _ := newTestManager(t)

	outerCtx, outer, err := m.Enter(context.Background(), Required)
	require.NoError(t, err)
	_, inner, err := m.Enter(outerCtx, RequiresNew)
	require.NoError(t, err)

	assert.ErrorIs(t, outer.Commit(), ErrOutOfOrder)
	assert.ErrorIs(t, outer.Rollback(), ErrOutOfOrder)
	assert.Equal(t, StateActive, outer.State())

	require.NoError(t, inner.Commit())
	require.NoError(t, outer.Commit())
}

func TestFrame_ResolvedScopeRejectsWork(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx, frame, err := m.Enter(context.Background(), Required)
	require.NoError(t, err)
	require.NoError(t, frame.Commit())

	_, _, err = m.Enlist(ctx, Mutation{Statement: "CREATE (n)"})
	assert.ErrorIs(t, err, ErrScopeClosed)
	_, err = m.RunnerFor(ctx)
	assert.ErrorIs(t, err, ErrScopeClosed)
	_, _, err = m.Enter(ctx, Required)
	assert.ErrorIs(t, err, ErrScopeClosed)
	assert.NoError(t, frame.Close())
}

func TestFrame_CancelledContextRollsBack(t *testing.T) {
	m, mem, rec := newTestManager(t)
	parent, cancel := context.WithCancel(context.Background())

	ctx, frame, err := m.Enter(parent, Required)
	require.NoError(t, err)
	create(t, m, ctx, "cancelled")
	cancel()

	err = frame.Commit()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateRolledBack, frame.State())
	assert.Empty(t, labels(mem))
	require.Eventually(t, func() bool { return len(rec.states()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"f1:rolled_back"}, rec.states())
}

func TestFrame_CancelWithoutResolvingRollsBack(t *testing.T) {
	m, mem, _ := newTestManager(t)

	outerCtx, outer, err := m.Enter(context.Background(), RequiresNew)
	require.NoError(t, err)

	parent, cancel := context.WithCancel(outerCtx)
	innerCtx, inner, err := m.Enter(parent, RequiresNew)
	require.NoError(t, err)
	create(t, m, innerCtx, "abandoned")
	cancel()

	require.Eventually(t, func() bool { return inner.State() == StateRolledBack }, time.Second, time.Millisecond)
	assert.Equal(t, 1, mem.Stats().RolledBack)
	assert.ErrorIs(t, inner.Commit(), context.Canceled)

	create(t, m, outerCtx, "kept")
	require.NoError(t, outer.Commit())
	assert.Equal(t, []string{"kept"}, labels(mem))
}

func TestFrame_CancelRollsBackFramesAbove(t *testing.T) {
	m, mem, rec := newTestManager(t)
	parent, cancel := context.WithCancel(context.Background())

	outerCtx, outer, err := m.Enter(parent, Required)
	require.NoError(t, err)
	innerCtx, inner, err := m.Enter(outerCtx, Required)
	require.NoError(t, err)
	create(t, m, innerCtx, "joined")
	cancel()

	require.Eventually(t, func() bool {
		return outer.State() == StateRolledBack && inner.State() == StateRolledBack
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.states()) == 2 }, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []string{"f1:rolled_back", "f2:rolled_back"}, rec.states())
	assert.Empty(t, labels(mem))
	assert.Equal(t, 1, mem.Stats().RolledBack)
}

func TestFrame_ReadsSeeScopeWrites(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx, frame, err := m.Enter(context.Background(), Required)
	require.NoError(t, err)
	defer frame.Close()

	create(t, m, ctx, "visible")
	runner, err := m.RunnerFor(ctx)
	require.NoError(t, err)
	res, err := runner.Run(ctx, "MATCH (n:visible) RETURN id(n) as id")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Len())
}

type failingClient struct {
	*drivertest.Memory
}

func (f failingClient) Begin(context.Context) (driver.Tx, error) {
	return nil, errors.New("no transactions today")
}

func TestFrame_BeginFailureSurfaces(t *testing.T) {
	m := NewManager(failingClient{drivertest.New()})
	ctx, frame, err := m.Enter(context.Background(), RequiresNew)
	require.NoError(t, err)
	defer frame.Close()

	runner, _, err := m.Enlist(ctx, Mutation{Statement: "CREATE (n)"})
	require.NoError(t, err)
	_, err = runner.Run(ctx, "CREATE (n)")
	assert.ErrorContains(t, err, "no transactions today")
}
