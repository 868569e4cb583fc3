package cypher

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type movieVars struct {
	Actor      *NodeVar
	Movie      *NodeVar
	Director   *NodeVar
	ActedIn    *RelVar
	DirectedBy *RelVar
}

func newMovieVars(t *testing.T) (*Binder, *movieVars) {
	t.Helper()
	b := NewBinder()
	v, err := Bind[movieVars](b)
	require.NoError(t, err)
	return b, v
}

func compile(t *testing.T, d *Declaration) *Statement {
	t.Helper()
	stmt, err := d.Compile(nil)
	require.NoError(t, err)
	return stmt
}

func TestCompile_VariableLengthMatch(t *testing.T) {
	b, v := newMovieVars(t)

	stmt := compile(t, NewDeclaration(b).
		Start(At(v.Movie, 1)).
		Match(Path(N(v.Movie)).In(Rel("STARED_IN").Hops(1, 5), N(v.Actor))).
		Return(v.Actor, v.Movie))

	assert.Equal(t,
		"START movie=node(1) MATCH (movie)<-[:STARED_IN*1..5]-(actor) "+
			"RETURN actor as actor, id(actor) as actor__Id, movie as movie, id(movie) as movie__Id",
		stmt.Text)
	assert.False(t, stmt.Mutating())
}

func TestCompile_SetWithLabelMatch(t *testing.T) {
	b, v := newMovieVars(t)

	// actor is never matched but still belongs to the query context
	stmt := compile(t, NewDeclaration(b).
		Match(Path(N(v.Movie, "arthouse"))).
		Update(v.Movie.Set("requiresSubtitles", "yes")).
		Return(v.Actor, v.Movie))

	assert.Equal(t,
		`MATCH (movie:arthouse) SET movie.requiresSubtitles = "yes" `+
			"RETURN actor as actor, id(actor) as actor__Id, movie as movie, id(movie) as movie__Id",
		stmt.Text)
	assert.True(t, stmt.Mutating())
}

func TestCompile_CreateRelationship(t *testing.T) {
	b, v := newMovieVars(t)

	stmt := compile(t, NewDeclaration(b).
		Start(At(v.Actor, 1), At(v.Movie, 2)).
		Create(Relationship(v.Actor, v.ActedIn, "ACTED_IN", v.Movie)).
		Return(v.ActedIn))

	assert.Equal(t,
		"START actor=node(1), movie=node(2) CREATE (actor)-[actedIn:ACTED_IN]->(movie) "+
			"RETURN actedIn as actedIn, id(actedIn) as actedIn__Id, type(actedIn) as actedIn__Type",
		stmt.Text)
}

func TestCompile_CreateRelationshipWithProps(t *testing.T) {
	b, v := newMovieVars(t)

	stmt := compile(t, NewDeclaration(b).
		Start(At(v.Actor, 1).At(v.Movie, 2)).
		Create(Relationship(v.Actor, v.ActedIn, "ACTED_IN", v.Movie).WithProps(Props{"name": "mark"})).
		Return(v.ActedIn))

	assert.Equal(t,
		`START actor=node(1), movie=node(2) CREATE (actor)-[actedIn:ACTED_IN {"name": "mark"}]->(movie) `+
			"RETURN actedIn as actedIn, id(actedIn) as actedIn__Id, type(actedIn) as actedIn__Type",
		stmt.Text)
}

func TestCompile_WhereDisjunction(t *testing.T) {
	b, v := newMovieVars(t)

	stmt := compile(t, NewDeclaration(b).
		Start(AnyOf(v.Movie)).
		Match(Path(N(v.Movie)).In(Rel("STARED_IN"), N(v.Actor))).
		Where(Or(
			v.Actor.Prop("name").Eq("Bob Dinero"),
			v.Actor.Prop("role").Eq("Keyser Söze"),
		)).
		Return(v.Actor, v.Movie))

	assert.Equal(t,
		"START movie=node(*) MATCH (movie)<-[:STARED_IN]-(actor) "+
			"WHERE ((actor.name = 'Bob Dinero') OR (actor.role = 'Keyser Söze')) "+
			"RETURN actor as actor, id(actor) as actor__Id, movie as movie, id(movie) as movie__Id",
		stmt.Text)
}

func TestCompile_AnonymousIntermediateNode(t *testing.T) {
	b, v := newMovieVars(t)

	stmt := compile(t, NewDeclaration(b).
		Match(Path(N(v.Actor, "METHOD_ACTOR")).
			Out(Rel("STARED_IN"), Anon()).
			Out(Rel("DIRECTED_BY").As(v.DirectedBy), N(v.Director))).
		Return(v.Director))

	assert.Equal(t,
		"MATCH (actor:METHOD_ACTOR)-[:STARED_IN]->()-[directedBy:DIRECTED_BY]->(director) "+
			"RETURN director as director, id(director) as director__Id",
		stmt.Text)
}

func TestCompile_OrderSkipLimit(t *testing.T) {
	b, v := newMovieVars(t)

	stmt := compile(t, NewDeclaration(b).
		Start(At(v.Actor, 1)).
		Return(v.Actor).
		OrderBy(v.ActedIn.Prop("fgds"), v.ActedIn.Prop("name")).
		Skip(2).
		Limit(1))

	assert.Equal(t,
		"START actor=node(1) RETURN actor as actor, id(actor) as actor__Id "+
			"ORDER BY actedIn.fgds, actedIn.name SKIP 2 LIMIT 1",
		stmt.Text)
}

func TestCompile_ReturnOwnedUnboundVariable(t *testing.T) {
	b, v := newMovieVars(t)

	stmt := compile(t, NewDeclaration(b).
		Start(At(v.Actor, 1)).
		Return(v.Actor, v.Movie))

	assert.Equal(t,
		"START actor=node(1) RETURN actor as actor, id(actor) as actor__Id, movie as movie, id(movie) as movie__Id",
		stmt.Text)
}

func TestCompile_OrderDescending(t *testing.T) {
	b, v := newMovieVars(t)

	stmt := compile(t, NewDeclaration(b).
		Match(Path(N(v.Actor))).
		Return(v.Actor).
		OrderBy(Desc(v.Actor.Prop("age")), v.Actor.ID()))

	assert.Equal(t,
		"MATCH (actor) RETURN actor as actor, id(actor) as actor__Id ORDER BY actor.age DESC, id(actor)",
		stmt.Text)
}

func TestCompile_CreateNode(t *testing.T) {
	b := NewBinder()
	n, err := b.Node("n")
	require.NoError(t, err)

	stmt := compile(t, NewDeclaration(b).
		Create(NewNode(n, Props{"name": "mark", "age": 33}, "person")).
		Return(As("NewNode", n)))

	assert.Equal(t,
		`CREATE (n:person {"age": 33, "name": "mark"}) RETURN n as NewNode, id(n) as NewNode__Id`,
		stmt.Text)
	assert.Equal(t, []Column{{Alias: "NewNode", Kind: KindNode}}, stmt.Columns())
	assert.Equal(t, []string{"NewNode", "NewNode__Id"}, stmt.Columns()[0].Names())
}

func TestCompile_CreateWithoutReturn(t *testing.T) {
	b := NewBinder()
	n, _ := b.Node("n")

	stmt := compile(t, NewDeclaration(b).Create(NewNode(n, nil)))
	assert.Equal(t, "CREATE (n)", stmt.Text)
	assert.Empty(t, stmt.Columns())
}

func TestCompile_ScalarProjections(t *testing.T) {
	b, v := newMovieVars(t)

	stmt := compile(t, NewDeclaration(b).
		Match(Path(N(v.Movie)).In(Rel("STARED_IN"), N(v.Actor))).
		Return(
			Property[string](v.Movie, "title"),
			As("actors", Count(v.Actor)),
			As("avgAge", Avg(v.Actor.Prop("age"))),
		))

	assert.Equal(t,
		"MATCH (movie)<-[:STARED_IN]-(actor) "+
			"RETURN movie.title as title, count(actor) as actors, avg(actor.age) as avgAge",
		stmt.Text)
	assert.Equal(t, []Column{
		{Alias: "title", Kind: KindScalar, Type: TypeString},
		{Alias: "actors", Kind: KindScalar, Type: TypeInteger},
		{Alias: "avgAge", Kind: KindScalar, Type: TypeFloat},
	}, stmt.Columns())
}

func TestCompile_PathMerging(t *testing.T) {
	b := NewBinder()
	a, _ := b.Node("a")
	m, _ := b.Node("m")
	c, _ := b.Node("c")

	chained := compile(t, NewDeclaration(b).
		Match(
			Path(N(a)).Out(Rel("X"), N(m)),
			Path(N(m)).Out(Rel("Y"), N(c)),
		).
		Return(c))
	assert.Equal(t, "MATCH (a)-[:X]->(m)-[:Y]->(c) RETURN c as c, id(c) as c__Id", chained.Text)

	b2 := NewBinder()
	a2, _ := b2.Node("a")
	m2, _ := b2.Node("m")
	c2, _ := b2.Node("c")
	forked := compile(t, NewDeclaration(b2).
		Match(
			Path(N(a2)).Out(Rel("X"), N(m2)),
			Path(N(a2)).Both(Rel(), N(c2)),
		).
		Return(c2))
	assert.Equal(t, "MATCH (a)-[:X]->(m), (a)--(c) RETURN c as c, id(c) as c__Id", forked.Text)
}

func TestCompile_RelationshipStart(t *testing.T) {
	b, v := newMovieVars(t)

	stmt := compile(t, NewDeclaration(b).
		Start(At(v.ActedIn, 4, 5)).
		Return(v.ActedIn))

	assert.Equal(t,
		"START actedIn=relationship(4, 5) "+
			"RETURN actedIn as actedIn, id(actedIn) as actedIn__Id, type(actedIn) as actedIn__Type",
		stmt.Text)
}

func TestRelSpec_Render(t *testing.T) {
	b := NewBinder()
	r, _ := b.Rel("r")

	tests := []struct {
		name string
		spec RelSpec
		dir  Direction
		want string
	}{
		{"bare outgoing", Rel(), Outgoing, "-->"},
		{"bare incoming", Rel(), Incoming, "<--"},
		{"bare either", Rel(), Either, "--"},
		{"typed", Rel("KNOWS"), Outgoing, "-[:KNOWS]->"},
		{"alternatives", Rel("A", "B"), Incoming, "<-[:A|B]-"},
		{"quoted type", Rel("has space"), Outgoing, "-[:`has space`]->"},
		{"bound", Rel("KNOWS").As(r), Outgoing, "-[r:KNOWS]->"},
		{"range", Rel("KNOWS").Hops(1, 3), Outgoing, "-[:KNOWS*1..3]->"},
		{"exact", Rel("KNOWS").Hops(2, 2), Outgoing, "-[:KNOWS*2]->"},
		{"single hop range", Rel("KNOWS").Hops(1, 1), Outgoing, "-[:KNOWS]->"},
		{"lower bound", Rel().AtLeast(3), Either, "-[*3..]-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.render(tt.dir))
		})
	}
}

func TestCompile_Literals(t *testing.T) {
	b := NewBinder()
	n, _ := b.Node("n")

	stmt := compile(t, NewDeclaration(b).
		Start(At(n, 1)).
		Where(And(
			n.Prop("name").Eq(`O'Brien\`),
			n.Prop("score").Ge(2.0),
			n.Prop("nick!").Ne(nil),
		)).
		Update(
			n.Set("active", true),
			n.Set("tags", []string{"a", "b"}),
			n.Set("ratio", 0.25),
		).
		Return(n))

	assert.Equal(t,
		`START n=node(1) WHERE ((((n.name = 'O\'Brien\\') AND (n.score >= 2.0))) AND (n.nick! <> null)) `+
			`SET n.active = true, n.tags = ["a", "b"], n.ratio = 0.25 `+
			"RETURN n as n, id(n) as n__Id",
		stmt.Text)
}

func TestCompile_TypeMismatch(t *testing.T) {
	b := NewBinder()
	n, _ := b.Node("n")

	_, err := NewDeclaration(b).
		Match(Path(N(n))).
		Where(Property[int](n, "age").Eq("old")).
		Return(n).
		Compile(nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	var ce *CompilationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "WHERE", ce.Clause)

	// integers widen to float properties
	_, err = NewDeclaration(b).
		Match(Path(N(n))).
		Where(Property[float64](n, "score").Gt(3)).
		Return(n).
		Compile(nil)
	assert.NoError(t, err)

	_, err = NewDeclaration(b).
		Match(Path(N(n))).
		Where(n.ID().Eq("1")).
		Return(n).
		Compile(nil)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

type foreignExpr struct{}

func (foreignExpr) ExprKind() ExprKind { return ExprKind(99) }

func TestCompile_UnsupportedExpression(t *testing.T) {
	b := NewBinder()
	n, _ := b.Node("n")

	_, err := NewDeclaration(b).Match(Path(N(n))).Where(foreignExpr{}).Return(n).Compile(nil)
	assert.ErrorIs(t, err, ErrUnsupportedExpression)

	_, err = NewDeclaration(b).Match(Path(N(n))).Where(Compare(Count(n), OpGt, 1)).Return(n).Compile(nil)
	assert.ErrorIs(t, err, ErrUnsupportedExpression)

	_, err = NewDeclaration(b).Match(Path(N(n))).Where(n.Prop("x").Eq(map[string]int{})).Return(n).Compile(nil)
	assert.ErrorIs(t, err, ErrUnsupportedLiteral)

	injected := CompareOp("= 'x' OR 1=1 OR n.name")
	_, err = NewDeclaration(b).Start(At(n, 1)).Where(Compare(n.Prop("name"), injected, "y")).Return(n).Compile(nil)
	assert.ErrorIs(t, err, ErrUnsupportedExpression)
	var cerr *CompilationError
	require.ErrorAs(t, err, &cerr)
}

func TestDeclaration_Errors(t *testing.T) {
	b, v := newMovieVars(t)
	other := NewBinder()
	stranger, _ := other.Node("stranger")

	tests := []struct {
		name string
		decl *Declaration
	}{
		{"second return", NewDeclaration(b).Match(Path(N(v.Actor))).Return(v.Actor).Return(v.Movie)},
		{"duplicate alias", NewDeclaration(b).Match(Path(N(v.Actor))).Return(v.Actor, As("actor", v.Movie))},
		{"reserved alias", NewDeclaration(b).Match(Path(N(v.Actor))).Return(As("a__b", v.Actor))},
		{"negative skip", NewDeclaration(b).Match(Path(N(v.Actor))).Return(v.Actor).Skip(-1)},
		{"negative limit", NewDeclaration(b).Match(Path(N(v.Actor))).Return(v.Actor).Limit(-5)},
		{"foreign variable", NewDeclaration(b).Match(Path(N(stranger))).Return(stranger)},
		{"foreign projection", NewDeclaration(b).Match(Path(N(v.Actor))).Return(stranger)},
		{"foreign predicate", NewDeclaration(b).Match(Path(N(v.Actor))).Where(stranger.Prop("x").Eq(1)).Return(v.Actor)},
		{"disconnected pattern", NewDeclaration(b).Start(At(v.Actor, 1)).Match(Path(N(v.Movie)).Out(Rel("X"), N(v.Director))).Return(v.Movie)},
		{"unbound create endpoint", NewDeclaration(b).Start(At(v.Actor, 1)).Create(Relationship(v.Actor, v.ActedIn, "ACTED_IN", v.Movie))},
		{"empty relationship type", NewDeclaration(b).Start(At(v.Actor, 1), At(v.Movie, 2)).Create(Relationship(v.Actor, nil, "", v.Movie))},
		{"set on unbound", NewDeclaration(b).Match(Path(N(v.Actor))).Update(v.Movie.Set("x", 1))},
		{"empty hop range", NewDeclaration(b).Match(Path(N(v.Actor)).Out(Rel().Hops(3, 1), N(v.Movie))).Return(v.Actor)},
		{"start without ids", NewDeclaration(b).Start(At(v.Actor)).Return(v.Actor)},
		{"read without return", NewDeclaration(b).Match(Path(N(v.Actor)))},
		{"empty query", NewDeclaration(b).Return(v.Actor)},
		{"relationship on two hops", NewDeclaration(b).Start(At(v.Actor, 1)).
			Match(Path(N(v.Actor)).Out(Rel("X").As(v.ActedIn), Anon()).Out(Rel("Y").As(v.ActedIn), N(v.Actor))).Return(v.Actor)},
		{"relationship reused across paths", NewDeclaration(b).Start(At(v.Actor, 1)).
			Match(Path(N(v.Actor)).Out(Rel("X").As(v.ActedIn), N(v.Movie))).
			Match(Path(N(v.Movie)).Out(Rel("Y").As(v.ActedIn), N(v.Director))).Return(v.Actor)},
		{"count of nil variable", NewDeclaration(b).Match(Path(N(v.Actor))).Return(Count((*NodeVar)(nil)))},
		{"count of unsupported argument", NewDeclaration(b).Match(Path(N(v.Actor))).Return(Count(42))},
		{"order by invalid count", NewDeclaration(b).Match(Path(N(v.Actor))).Return(v.Actor).OrderBy(Count("actor"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.decl.Compile(nil)
			require.Error(t, err)
			var de *DeclarationError
			assert.True(t, errors.As(err, &de), "want DeclarationError, got %T: %v", err, err)
		})
	}
}

func TestDeclaration_FirstErrorWins(t *testing.T) {
	b, v := newMovieVars(t)

	d := NewDeclaration(b).Match(Path(N(v.Actor))).Skip(-1).Limit(-2).Return(v.Actor)
	require.Error(t, d.Err())
	var de *DeclarationError
	require.True(t, errors.As(d.Err(), &de))
	assert.Equal(t, "SKIP", de.Clause)
}

func TestCompile_LiteralIndependentTemplate(t *testing.T) {
	cache := NewQueryCache(16)
	b, v := newMovieVars(t)

	build := func(name string, ids ...int64) *Declaration {
		return NewDeclaration(b).
			Start(At(v.Movie, ids...)).
			Match(Path(N(v.Movie)).In(Rel("STARED_IN"), N(v.Actor))).
			Where(v.Actor.Prop("name").Eq(name)).
			Return(v.Actor).
			Limit(len(ids))
	}

	first, err := build("Bob", 1).Compile(cache)
	require.NoError(t, err)
	second, err := build("Alice", 7, 8).Compile(cache)
	require.NoError(t, err)

	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.Same(t, first.Query, second.Query)
	assert.Equal(t, first.Query.Fingerprint(), second.Query.Fingerprint())

	assert.Equal(t,
		"START movie=node($0) MATCH (movie)<-[:STARED_IN]-(actor) WHERE actor.name = $1 "+
			"RETURN actor as actor, id(actor) as actor__Id LIMIT $2",
		first.Query.Template())
	assert.Equal(t, 3, first.Query.Slots())

	assert.Contains(t, first.Text, "node(1)")
	assert.Contains(t, first.Text, "'Bob'")
	assert.Contains(t, second.Text, "node(7, 8)")
	assert.Contains(t, second.Text, "'Alice'")
	assert.Contains(t, second.Text, "LIMIT 2")

	hits, misses, size := cache.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
	assert.Equal(t, 1, size)
}

func TestCompile_DistinctShapesDoNotCollide(t *testing.T) {
	cache := NewQueryCache(16)
	b, v := newMovieVars(t)

	untyped, err := NewDeclaration(b).Match(Path(N(v.Actor))).Return(v.Actor.Prop("age")).Compile(cache)
	require.NoError(t, err)
	typed, err := NewDeclaration(b).Match(Path(N(v.Actor))).Return(Property[int64](v.Actor, "age")).Compile(cache)
	require.NoError(t, err)

	assert.Equal(t, untyped.Text, typed.Text)
	assert.NotEqual(t, untyped.Query.Fingerprint(), typed.Query.Fingerprint())
	assert.Equal(t, TypeInteger, typed.Columns()[0].Type)
}
