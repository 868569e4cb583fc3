package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/orneryd/fluentcypher/pkg/graph"
)

// HTTPConfig holds transactional HTTP endpoint settings.
type HTTPConfig struct {
	// BaseURL is the server root, e.g. http://localhost:7474.
	BaseURL  string
	Username string
	Password string
	Database string
	// Client defaults to an http.Client with a 30s timeout.
	Client *http.Client
}

// HTTP is a Client speaking the Neo4j transactional HTTP API.
// Autocommit statements go to /db/{database}/tx/commit; explicit
// transactions are opened with POST /db/{database}/tx and addressed through
// the returned Location.
type HTTP struct {
	base     *url.URL
	database string
	username string
	password string
	client   *http.Client
}

// NewHTTP validates cfg and returns a client. No request is sent.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", cfg.BaseURL)
	}
	db := cfg.Database
	if db == "" {
		db = "neo4j"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTP{base: base, database: db, username: cfg.Username, password: cfg.Password, client: client}, nil
}

func (h *HTTP) txURL(suffix string) string {
	return h.base.String() + "/db/" + url.PathEscape(h.database) + "/tx" + suffix
}

// Run executes statement in an implicit transaction.
func (h *HTTP) Run(ctx context.Context, statement string) (*Result, error) {
	resp, _, err := h.do(ctx, http.MethodPost, h.txURL("/commit"), []string{statement})
	if err != nil {
		return nil, err
	}
	return firstResult(resp)
}

// Begin opens an explicit transaction.
func (h *HTTP) Begin(ctx context.Context) (Tx, error) {
	_, header, err := h.do(ctx, http.MethodPost, h.txURL(""), nil)
	if err != nil {
		return nil, err
	}
	loc := header.Get("Location")
	if loc == "" {
		return nil, fmt.Errorf("driver: open transaction response has no Location header")
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("driver: invalid transaction location %q: %w", loc, err)
	}
	return &httpTx{client: h, url: h.base.ResolveReference(ref).String()}, nil
}

// Close is a no-op; idle connections belong to the http.Client.
func (h *HTTP) Close(context.Context) error { return nil }

type httpTx struct {
	client *HTTP
	url    string
	done   bool
}

func (t *httpTx) Run(ctx context.Context, statement string) (*Result, error) {
	if t.done {
		return nil, ErrTxClosed
	}
	resp, _, err := t.client.do(ctx, http.MethodPost, t.url, []string{statement})
	if err != nil {
		return nil, err
	}
	return firstResult(resp)
}

func (t *httpTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxClosed
	}
	t.done = true
	_, _, err := t.client.do(ctx, http.MethodPost, t.url+"/commit", nil)
	return err
}

func (t *httpTx) Rollback(ctx context.Context) error {
	if t.done {
		return ErrTxClosed
	}
	t.done = true
	_, _, err := t.client.do(ctx, http.MethodDelete, t.url, nil)
	return err
}

type httpStatement struct {
	Statement          string   `json:"statement"`
	ResultDataContents []string `json:"resultDataContents,omitempty"`
}

type httpRequest struct {
	Statements []httpStatement `json:"statements"`
}

type httpResponse struct {
	Results []httpResult `json:"results"`
	Errors  []httpError  `json:"errors"`
	Commit  string       `json:"commit,omitempty"`
}

type httpResult struct {
	Columns []string  `json:"columns"`
	Data    []httpRow `json:"data"`
}

type httpRow struct {
	Row   []any      `json:"row"`
	Meta  []any      `json:"meta,omitempty"`
	Graph *httpGraph `json:"graph,omitempty"`
}

type httpGraph struct {
	Nodes         []httpNode `json:"nodes"`
	Relationships []httpRel  `json:"relationships"`
}

type httpNode struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

type httpRel struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	StartNode  string         `json:"startNode"`
	EndNode    string         `json:"endNode"`
	Properties map[string]any `json:"properties"`
}

type httpError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *HTTP) do(ctx context.Context, method, target string, statements []string) (*httpResponse, http.Header, error) {
	var body io.Reader
	if method != http.MethodDelete {
		req := httpRequest{Statements: make([]httpStatement, 0, len(statements))}
		for _, s := range statements {
			req.Statements = append(req.Statements, httpStatement{
				Statement:          s,
				ResultDataContents: []string{"row", "graph"},
			})
		}
		data, err := json.Marshal(req)
		if err != nil {
			return nil, nil, fmt.Errorf("driver: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, nil, fmt.Errorf("driver: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.username != "" {
		req.SetBasicAuth(h.username, h.password)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var out httpResponse
	if err := dec.Decode(&out); err != nil && err != io.EOF {
		if resp.StatusCode >= 300 {
			return nil, nil, fmt.Errorf("driver: %s %s: status %d", method, target, resp.StatusCode)
		}
		return nil, nil, fmt.Errorf("driver: decode response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, nil, &Error{Code: out.Errors[0].Code, Message: out.Errors[0].Message}
	}
	if resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("driver: %s %s: status %d", method, target, resp.StatusCode)
	}
	return &out, resp.Header, nil
}

func firstResult(resp *httpResponse) (*Result, error) {
	if len(resp.Results) == 0 {
		return &Result{}, nil
	}
	r := resp.Results[0]
	out := &Result{Columns: r.Columns, Rows: make([][]any, 0, len(r.Data))}
	for _, d := range r.Data {
		row, err := decodeRow(d)
		if err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// decodeRow uses the row meta to turn entity cells into graph types. Labels,
// relationship types and endpoints come from the row's graph section.
func decodeRow(d httpRow) ([]any, error) {
	row := make([]any, len(d.Row))
	for i, cell := range d.Row {
		var meta map[string]any
		if i < len(d.Meta) && len(d.Meta) == len(d.Row) {
			meta, _ = d.Meta[i].(map[string]any)
		}
		if meta == nil {
			row[i] = normalizeJSON(cell)
			continue
		}
		id, ok := parseID(meta["id"])
		if !ok {
			row[i] = normalizeJSON(cell)
			continue
		}
		props, _ := normalizeJSON(cell).(map[string]any)

		switch meta["type"] {
		case "node":
			n := graph.Node{ID: id}
			if gn := d.Graph.node(id); gn != nil {
				n.Labels = gn.Labels
				props = normalizeJSON(gn.Properties).(map[string]any)
			}
			p, err := graph.PropertiesOf(props)
			if err != nil {
				return nil, fmt.Errorf("node %d: %w", id, err)
			}
			n.Properties = p
			row[i] = n
		case "relationship":
			r := graph.Relationship{ID: id}
			if gr := d.Graph.rel(id); gr != nil {
				r.Type = gr.Type
				r.StartID, _ = parseID(gr.StartNode)
				r.EndID, _ = parseID(gr.EndNode)
				props = normalizeJSON(gr.Properties).(map[string]any)
			}
			p, err := graph.PropertiesOf(props)
			if err != nil {
				return nil, fmt.Errorf("relationship %d: %w", id, err)
			}
			r.Properties = p
			row[i] = r
		default:
			row[i] = normalizeJSON(cell)
		}
	}
	return row, nil
}

func (g *httpGraph) node(id int64) *httpNode {
	if g == nil {
		return nil
	}
	for i := range g.Nodes {
		if nid, ok := parseID(g.Nodes[i].ID); ok && nid == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

func (g *httpGraph) rel(id int64) *httpRel {
	if g == nil {
		return nil
	}
	for i := range g.Relationships {
		if rid, ok := parseID(g.Relationships[i].ID); ok && rid == id {
			return &g.Relationships[i]
		}
	}
	return nil
}
