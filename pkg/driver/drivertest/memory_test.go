package drivertest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/fluentcypher/pkg/driver"
	"github.com/orneryd/fluentcypher/pkg/graph"
)

func TestMemory_CreateAndFetch(t *testing.T) {
	mem := New()
	ctx := context.Background()

	res, err := mem.Run(ctx, `CREATE (n:person {"age": 33, "name": "mark"}) RETURN n as n, id(n) as n__Id`)
	require.NoError(t, err)
	assert.Equal(t, []string{"n", "n__Id"}, res.Columns)
	require.Equal(t, 1, res.Len())

	created := res.Rows[0][0].(graph.Node)
	assert.Equal(t, []string{"person"}, created.Labels)
	assert.Equal(t, created.ID, res.Rows[0][1])

	res, err = mem.Run(ctx, "START n=node(1) RETURN n.name as name, n.missing as missing")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"mark", nil}}, res.Rows)

	stored, ok := mem.Node(created.ID)
	require.True(t, ok)
	age, err := stored.Properties.Int("age")
	require.NoError(t, err)
	assert.Equal(t, int64(33), age)
}

func TestMemory_Relationships(t *testing.T) {
	mem := New()
	ctx := context.Background()
	a, err := mem.AddNode(map[string]any{"name": "a"}, "person")
	require.NoError(t, err)
	b, err := mem.AddNode(map[string]any{"name": "b"}, "person")
	require.NoError(t, err)

	res, err := mem.Run(ctx, `START a=node(1), b=node(2) CREATE (a)-[r:KNOWS {"since": 1999}]->(b) RETURN r as r, id(r) as r__Id, type(r) as r__Type`)
	require.NoError(t, err)
	rel := res.Rows[0][0].(graph.Relationship)
	assert.Equal(t, a.ID, rel.StartID)
	assert.Equal(t, b.ID, rel.EndID)
	assert.Equal(t, "KNOWS", res.Rows[0][2])

	rels := mem.Relationships()
	require.Len(t, rels, 1)
	since, err := rels[0].Properties.Int("since")
	require.NoError(t, err)
	assert.Equal(t, int64(1999), since)
}

func TestMemory_MatchSetSkipLimit(t *testing.T) {
	mem := New()
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		_, err := mem.AddNode(map[string]any{"name": name}, "person")
		require.NoError(t, err)
	}
	_, err := mem.AddNode(map[string]any{"name": "m"}, "movie")
	require.NoError(t, err)

	res, err := mem.Run(ctx, "MATCH (p:person) RETURN p.name as name SKIP 1 LIMIT 1")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"b"}}, res.Rows)

	_, err = mem.Run(ctx, `START n=node(*) SET n.seen = true`)
	require.NoError(t, err)
	for _, n := range mem.Nodes() {
		seen, err := n.Properties.Bool("seen")
		require.NoError(t, err)
		assert.True(t, seen)
	}
}

func TestMemory_StartMissingID(t *testing.T) {
	mem := New()
	res, err := mem.Run(context.Background(), "START n=node(42) RETURN n as n")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Len())
	assert.Equal(t, []string{"n"}, res.Columns)
}

func TestMemory_TransactionBuffering(t *testing.T) {
	mem := New()
	ctx := context.Background()

	tx, err := mem.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Run(ctx, `CREATE (n:temp {"k": 1})`)
	require.NoError(t, err)

	assert.Empty(t, mem.Nodes(), "uncommitted writes are invisible")
	res, err := tx.Run(ctx, "MATCH (n:temp) RETURN id(n) as id")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Len(), "transaction sees its own writes")

	require.NoError(t, tx.Rollback(ctx))
	assert.Empty(t, mem.Nodes())
	assert.ErrorIs(t, tx.Commit(ctx), driver.ErrTxClosed)

	tx, err = mem.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Run(ctx, `CREATE (n:kept)`)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.Len(t, mem.Nodes(), 1)

	assert.Equal(t, Stats{Statements: 3, Begun: 2, Committed: 1, RolledBack: 1}, mem.Stats())
}

func TestMemory_CancelledCommitRollsBack(t *testing.T) {
	mem := New()
	tx, err := mem.Begin(context.Background())
	require.NoError(t, err)
	_, err = tx.Run(context.Background(), "CREATE (n)")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tx.Commit(ctx), context.Canceled)
	assert.Empty(t, mem.Nodes())
	assert.Equal(t, 1, mem.Stats().RolledBack)
}

func TestMemory_FailedStatementLeavesNoTrace(t *testing.T) {
	mem := New()
	_, err := mem.Run(context.Background(), `CREATE (a) CREATE (a)-[:R]->(missing)`)
	require.Error(t, err)
	assert.Empty(t, mem.Nodes())
}

func TestMemory_Stubs(t *testing.T) {
	mem := New()
	ctx := context.Background()
	boom := errors.New("boom")

	mem.Stub("MATCH (a)-->(b) RETURN a as a", &driver.Result{Columns: []string{"a"}, Rows: [][]any{{int64(1)}}})
	mem.StubError("BROKEN", boom)

	res, err := mem.Run(ctx, "MATCH (a)-->(b) RETURN a as a")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1)}}, res.Rows)

	_, err = mem.Run(ctx, "BROKEN")
	assert.ErrorIs(t, err, boom)

	_, err = mem.Run(ctx, "MATCH (a)-->(b) RETURN count(*) as c")
	assert.ErrorIs(t, err, ErrUnsupported)

	assert.Equal(t, []string{
		"MATCH (a)-->(b) RETURN a as a",
		"BROKEN",
		"MATCH (a)-->(b) RETURN count(*) as c",
	}, mem.Statements())
}

func TestSplitClauses_IgnoresQuotedKeywords(t *testing.T) {
	clauses, err := splitClauses(`CREATE (n {"note": "RETURN me"}) RETURN n.note as note`)
	require.NoError(t, err)
	require.Len(t, clauses, 2)
	assert.Equal(t, clause{keyword: "CREATE", body: `(n {"note": "RETURN me"})`}, clauses[0])
	assert.Equal(t, clause{keyword: "RETURN", body: "n.note as note"}, clauses[1])
}
