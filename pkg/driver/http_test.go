package driver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/fluentcypher/pkg/graph"
)

type recordedRequest struct {
	Method     string
	Path       string
	Statements []string
	User       string
}

type fakeServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func (f *fakeServer) record(r *http.Request) recordedRequest {
	rec := recordedRequest{Method: r.Method, Path: r.URL.Path}
	rec.User, _, _ = r.BasicAuth()
	if r.Body != nil {
		var body httpRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, s := range body.Statements {
			rec.Statements = append(rec.Statements, s.Statement)
		}
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()
	return rec
}

func (f *fakeServer) log() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

const nodeRowResponse = `{
  "results": [{
    "columns": ["n", "n__Id", "score"],
    "data": [{
      "row": [{"name": "mark"}, 3, 9.5],
      "meta": [{"id": 3, "type": "node", "deleted": false}, null, null],
      "graph": {
        "nodes": [{"id": "3", "labels": ["person"], "properties": {"name": "mark", "age": 33}}],
        "relationships": []
      }
    }]
  }],
  "errors": []
}`

const relRowResponse = `{
  "results": [{
    "columns": ["r", "r__Id", "r__Type"],
    "data": [{
      "row": [{"since": 1999}, 9, "KNOWS"],
      "meta": [{"id": 9, "type": "relationship", "deleted": false}, null, null],
      "graph": {
        "nodes": [],
        "relationships": [{"id": "9", "type": "KNOWS", "startNode": "1", "endNode": "2", "properties": {"since": 1999}}]
      }
    }]
  }],
  "errors": []
}`

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{}
	r := chi.NewRouter()

	writeRows := func(w http.ResponseWriter, rec recordedRequest) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case len(rec.Statements) == 0:
			_, _ = w.Write([]byte(`{"results": [], "errors": []}`))
		case rec.Statements[0] == "BROKEN":
			_, _ = w.Write([]byte(`{"results": [], "errors": [{"code": "Neo.ClientError.Statement.SyntaxError", "message": "Invalid input"}]}`))
		case rec.Statements[0] == "REL":
			_, _ = w.Write([]byte(relRowResponse))
		default:
			_, _ = w.Write([]byte(nodeRowResponse))
		}
	}

	r.Post("/db/{db}/tx/commit", func(w http.ResponseWriter, r *http.Request) {
		writeRows(w, f.record(r))
	})
	r.Post("/db/{db}/tx", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Location", "/db/"+chi.URLParam(r, "db")+"/tx/42")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"results": [], "errors": [], "commit": "/db/neo4j/tx/42/commit"}`))
	})
	r.Post("/db/{db}/tx/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeRows(w, f.record(r))
	})
	r.Post("/db/{db}/tx/{id}/commit", func(w http.ResponseWriter, r *http.Request) {
		writeRows(w, f.record(r))
	})
	r.Delete("/db/{db}/tx/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		_, _ = w.Write([]byte(`{"results": [], "errors": []}`))
	})

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Close)
	return f
}

func newHTTPClient(t *testing.T, f *fakeServer) *HTTP {
	t.Helper()
	c, err := NewHTTP(HTTPConfig{BaseURL: f.URL, Username: "neo4j", Password: "secret", Database: "movies"})
	require.NoError(t, err)
	return c
}

func TestHTTP_RunAutocommit(t *testing.T) {
	f := newFakeServer(t)
	c := newHTTPClient(t, f)

	res, err := c.Run(context.Background(), "START n=node(3) RETURN n as n, id(n) as n__Id")
	require.NoError(t, err)

	assert.Equal(t, []string{"n", "n__Id", "score"}, res.Columns)
	require.Equal(t, 1, res.Len())

	node, ok := res.Rows[0][0].(graph.Node)
	require.True(t, ok, "cell is %T", res.Rows[0][0])
	assert.Equal(t, int64(3), node.ID)
	assert.Equal(t, []string{"person"}, node.Labels)
	age, err := node.Properties.Int("age")
	require.NoError(t, err)
	assert.Equal(t, int64(33), age)

	assert.Equal(t, int64(3), res.Rows[0][1])
	assert.Equal(t, 9.5, res.Rows[0][2])

	reqs := f.log()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/db/movies/tx/commit", reqs[0].Path)
	assert.Equal(t, "neo4j", reqs[0].User)
	assert.Equal(t, []string{"START n=node(3) RETURN n as n, id(n) as n__Id"}, reqs[0].Statements)
}

func TestHTTP_RelationshipCells(t *testing.T) {
	f := newFakeServer(t)
	c := newHTTPClient(t, f)

	res, err := c.Run(context.Background(), "REL")
	require.NoError(t, err)

	rel, ok := res.Rows[0][0].(graph.Relationship)
	require.True(t, ok)
	assert.Equal(t, graph.Relationship{
		ID:         9,
		Type:       "KNOWS",
		StartID:    1,
		EndID:      2,
		Properties: graph.Properties{"since": graph.IntegerValue(1999)},
	}, rel)
	assert.Equal(t, "KNOWS", res.Rows[0][2])
}

func TestHTTP_ServerError(t *testing.T) {
	f := newFakeServer(t)
	c := newHTTPClient(t, f)

	_, err := c.Run(context.Background(), "BROKEN")
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Neo.ClientError.Statement.SyntaxError", se.Code)
}

func TestHTTP_Transaction(t *testing.T) {
	f := newFakeServer(t)
	c := newHTTPClient(t, f)
	ctx := context.Background()

	tx, err := c.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Run(ctx, "CREATE (n) RETURN n as n, id(n) as n__Id")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.ErrorIs(t, tx.Commit(ctx), ErrTxClosed)

	tx, err = c.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	_, err = tx.Run(ctx, "CREATE (n)")
	assert.ErrorIs(t, err, ErrTxClosed)

	var calls []string
	for _, r := range f.log() {
		calls = append(calls, r.Method+" "+r.Path)
	}
	assert.Equal(t, []string{
		"POST /db/movies/tx",
		"POST /db/movies/tx/42",
		"POST /db/movies/tx/42/commit",
		"POST /db/movies/tx",
		"DELETE /db/movies/tx/42",
	}, calls)
}

func TestNewHTTP_RejectsBadURL(t *testing.T) {
	_, err := NewHTTP(HTTPConfig{BaseURL: "bolt://localhost:7687"})
	assert.Error(t, err)
}
