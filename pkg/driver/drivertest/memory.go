// Package drivertest provides an in-memory driver.Client for tests.
//
// Memory interprets the subset of statements the query endpoint emits for
// single-node work (START by id, MATCH on a single labelled node, CREATE of
// nodes and relationships, SET, RETURN with entity, id, type and property
// projections, SKIP and LIMIT) against an in-memory graph. Explicit
// transactions buffer their writes until Commit; Rollback discards them.
// Anything else must be stubbed:
//
//	mem := drivertest.New()
//	mem.Stub("MATCH (a)-->(b) RETURN ...", &driver.Result{...})
package drivertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/orneryd/fluentcypher/pkg/driver"
	"github.com/orneryd/fluentcypher/pkg/graph"
)

// ErrUnsupported is returned for statements outside the interpreted subset
// that have no stub.
var ErrUnsupported = errors.New("drivertest: unsupported statement")

// Stats counts client activity.
type Stats struct {
	Statements int
	Begun      int
	Committed  int
	RolledBack int
}

type stub struct {
	match func(statement string) bool
	run   func(ctx context.Context, statement string) (*driver.Result, error)
}

// Memory is an in-memory driver.Client. It is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	store  *store
	nextID int64
	stubs  []stub
	log    []string
	stats  Stats
}

var _ driver.Client = (*Memory)(nil)

// New returns an empty graph. Entity ids start at 1.
func New() *Memory {
	return &Memory{store: newStore(), nextID: 1}
}

// Stub answers statement with res instead of interpreting it.
func (m *Memory) Stub(statement string, res *driver.Result) {
	m.StubFunc(func(s string) bool { return s == statement }, func(context.Context, string) (*driver.Result, error) {
		return res, nil
	})
}

// StubError fails statement with err.
func (m *Memory) StubError(statement string, err error) {
	m.StubFunc(func(s string) bool { return s == statement }, func(context.Context, string) (*driver.Result, error) {
		return nil, err
	})
}

// StubFunc answers every statement accepted by match with run. Later stubs
// take precedence.
func (m *Memory) StubFunc(match func(statement string) bool, run func(ctx context.Context, statement string) (*driver.Result, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stub{match: match, run: run})
}

// AddNode inserts a committed node and returns it.
func (m *Memory) AddNode(props map[string]any, labels ...string) (graph.Node, error) {
	p, err := graph.PropertiesOf(props)
	if err != nil {
		return graph.Node{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := graph.Node{ID: m.allocLocked(), Labels: append([]string(nil), labels...), Properties: p}
	m.store.nodes[n.ID] = n
	return n.Clone(), nil
}

// Node returns a committed node.
func (m *Memory) Node(id int64) (graph.Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.store.nodes[id]
	return n.Clone(), ok
}

// Nodes returns every committed node ordered by id.
func (m *Memory) Nodes() []graph.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.sortedNodes()
}

// Relationships returns every committed relationship ordered by id.
func (m *Memory) Relationships() []graph.Relationship {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.store.rels))
	for id := range m.store.rels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]graph.Relationship, len(ids))
	for i, id := range ids {
		out[i] = m.store.rels[id].Clone()
	}
	return out
}

// Statements returns every statement received, in order.
func (m *Memory) Statements() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.log...)
}

// Stats returns activity counters.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Memory) allocLocked() int64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *Memory) alloc() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocLocked()
}

func (m *Memory) receive(statement string) *stub {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, statement)
	m.stats.Statements++
	for i := len(m.stubs) - 1; i >= 0; i-- {
		if m.stubs[i].match(statement) {
			s := m.stubs[i]
			return &s
		}
	}
	return nil
}

// Run executes statement in an autocommit transaction.
func (m *Memory) Run(ctx context.Context, statement string) (*driver.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s := m.receive(statement); s != nil {
		return s.run(ctx, statement)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.store.clone()
	res, _, err := execute(work, statement, m.allocLocked)
	if err != nil {
		return nil, err
	}
	m.store = work
	return res, nil
}

// Begin opens a transaction that sees committed state as of now plus its
// own writes.
func (m *Memory) Begin(ctx context.Context) (driver.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Begun++
	return &memoryTx{mem: m, work: m.store.clone()}, nil
}

// Close is a no-op.
func (m *Memory) Close(context.Context) error { return nil }

type memoryTx struct {
	mem     *Memory
	mu      sync.Mutex
	work    *store
	effects []effect
	done    bool
}

func (t *memoryTx) Run(ctx context.Context, statement string) (*driver.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, driver.ErrTxClosed
	}
	if s := t.mem.receive(statement); s != nil {
		return s.run(ctx, statement)
	}

	work := t.work.clone()
	res, effects, err := execute(work, statement, t.mem.alloc)
	if err != nil {
		return nil, err
	}
	t.work = work
	t.effects = append(t.effects, effects...)
	return res, nil
}

func (t *memoryTx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return driver.ErrTxClosed
	}
	t.done = true
	if err := ctx.Err(); err != nil {
		t.mem.mu.Lock()
		t.mem.stats.RolledBack++
		t.mem.mu.Unlock()
		return err
	}

	t.mem.mu.Lock()
	defer t.mem.mu.Unlock()
	for _, e := range t.effects {
		e.apply(t.mem.store)
	}
	t.mem.stats.Committed++
	return nil
}

func (t *memoryTx) Rollback(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return driver.ErrTxClosed
	}
	t.done = true
	t.effects = nil
	t.mem.mu.Lock()
	t.mem.stats.RolledBack++
	t.mem.mu.Unlock()
	return nil
}

type store struct {
	nodes map[int64]graph.Node
	rels  map[int64]graph.Relationship
}

func newStore() *store {
	return &store{nodes: make(map[int64]graph.Node), rels: make(map[int64]graph.Relationship)}
}

func (s *store) clone() *store {
	cp := newStore()
	for id, n := range s.nodes {
		cp.nodes[id] = n.Clone()
	}
	for id, r := range s.rels {
		cp.rels[id] = r.Clone()
	}
	return cp
}

func (s *store) sortedNodes() []graph.Node {
	ids := make([]int64, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]graph.Node, len(ids))
	for i, id := range ids {
		out[i] = s.nodes[id].Clone()
	}
	return out
}

// effect is a committed write: the full state of one entity.
type effect struct {
	node *graph.Node
	rel  *graph.Relationship
}

func (e effect) apply(s *store) {
	if e.node != nil {
		s.nodes[e.node.ID] = e.node.Clone()
	}
	if e.rel != nil {
		s.rels[e.rel.ID] = e.rel.Clone()
	}
}

var (
	startRe     = regexp.MustCompile(`^(\w+)=(node|relationship)\((\*|[0-9, ]+)\)$`)
	nodeRe      = regexp.MustCompile(`^\((\w*)((?::\w+)*)(?:\s*(\{.*\}))?\)$`)
	relCreateRe = regexp.MustCompile(`^\((\w+)\)-\[(\w*):(\w+)(?:\s*(\{.*\}))?\]->\((\w+)\)$`)
	setRe       = regexp.MustCompile(`^(\w+)\.(\w+) = (.+)$`)
	returnRe    = regexp.MustCompile(`^(.+) as (\w+)$`)
	varRe       = regexp.MustCompile(`^\w+$`)
	idRe        = regexp.MustCompile(`^id\((\w+)\)$`)
	typeRe      = regexp.MustCompile(`^type\((\w+)\)$`)
	propRe      = regexp.MustCompile(`^(\w+)\.(\w+)$`)
)

var keywords = []string{"START", "MATCH", "WHERE", "CREATE", "SET", "RETURN", "ORDER BY", "SKIP", "LIMIT"}

type clause struct {
	keyword string
	body    string
}

type row map[string]any

// execute interprets statement against s, mutating it, and returns the
// result with the writes it made.
func execute(s *store, statement string, alloc func() int64) (*driver.Result, []effect, error) {
	clauses, err := splitClauses(statement)
	if err != nil {
		return nil, nil, err
	}

	rows := []row{{}}
	var effects []effect
	res := &driver.Result{}
	var skip, limit = 0, -1

	for _, c := range clauses {
		switch c.keyword {
		case "START":
			rows, err = applyStart(s, rows, c.body)
		case "MATCH":
			rows, err = applyMatch(s, rows, c.body)
		case "CREATE":
			var eff []effect
			rows, eff, err = applyCreate(s, rows, c.body, alloc)
			effects = append(effects, eff...)
		case "SET":
			var eff []effect
			eff, err = applySet(s, rows, c.body)
			effects = append(effects, eff...)
		case "RETURN":
			err = applyReturn(res, rows, c.body)
		case "SKIP":
			skip, err = strconv.Atoi(c.body)
		case "LIMIT":
			limit, err = strconv.Atoi(c.body)
		default:
			err = fmt.Errorf("%w: %s clause", ErrUnsupported, c.keyword)
		}
		if err != nil {
			return nil, nil, err
		}
	}

	if skip > 0 {
		if skip >= len(res.Rows) {
			res.Rows = nil
		} else {
			res.Rows = res.Rows[skip:]
		}
	}
	if limit >= 0 && limit < len(res.Rows) {
		res.Rows = res.Rows[:limit]
	}
	return res, effects, nil
}

// topLevel marks the bytes of s outside quotes and brackets.
func topLevel(s string) []bool {
	mask := make([]bool, len(s))
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		default:
			mask[i] = depth == 0
		}
	}
	return mask
}

func splitClauses(statement string) ([]clause, error) {
	s := strings.TrimSpace(statement)
	mask := topLevel(s)

	type hit struct {
		at int
		kw string
	}
	var hits []hit
	for i := 0; i < len(s); i++ {
		if !mask[i] || (i > 0 && s[i-1] != ' ') {
			continue
		}
		for _, kw := range keywords {
			end := i + len(kw)
			if end > len(s) || s[i:end] != kw || (end < len(s) && s[end] != ' ') {
				continue
			}
			hits = append(hits, hit{at: i, kw: kw})
			i = end - 1
			break
		}
	}
	if len(hits) == 0 || hits[0].at != 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, statement)
	}

	out := make([]clause, len(hits))
	for i, h := range hits {
		end := len(s)
		if i+1 < len(hits) {
			end = hits[i+1].at
		}
		out[i] = clause{keyword: h.kw, body: strings.TrimSpace(s[h.at+len(h.kw) : end])}
	}
	return out, nil
}

func splitList(s string) []string {
	mask := topLevel(s)
	var parts []string
	last := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' && mask[i] {
			parts = append(parts, strings.TrimSpace(s[last:i]))
			last = i + 1
		}
	}
	return append(parts, strings.TrimSpace(s[last:]))
}

func applyStart(s *store, rows []row, body string) ([]row, error) {
	for _, item := range splitList(body) {
		m := startRe.FindStringSubmatch(item)
		if m == nil {
			return nil, fmt.Errorf("%w: start item %q", ErrUnsupported, item)
		}
		name, fn, spec := m[1], m[2], m[3]

		var candidates []any
		if spec == "*" {
			if fn == "node" {
				for _, n := range s.sortedNodes() {
					candidates = append(candidates, n)
				}
			} else {
				for _, r := range s.rels {
					candidates = append(candidates, r.Clone())
				}
			}
		} else {
			for _, raw := range strings.Split(spec, ",") {
				id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: start id %q", ErrUnsupported, raw)
				}
				if fn == "node" {
					if n, ok := s.nodes[id]; ok {
						candidates = append(candidates, n.Clone())
					}
				} else if r, ok := s.rels[id]; ok {
					candidates = append(candidates, r.Clone())
				}
			}
		}

		next := make([]row, 0, len(rows)*len(candidates))
		for _, r := range rows {
			for _, c := range candidates {
				nr := copyRow(r)
				nr[name] = c
				next = append(next, nr)
			}
		}
		rows = next
	}
	return rows, nil
}

func applyMatch(s *store, rows []row, body string) ([]row, error) {
	m := nodeRe.FindStringSubmatch(body)
	if m == nil || m[1] == "" || m[3] != "" {
		return nil, fmt.Errorf("%w: match pattern %q", ErrUnsupported, body)
	}
	name, labels := m[1], parseLabels(m[2])

	var next []row
	for _, r := range rows {
		if bound, ok := r[name]; ok {
			if n, isNode := bound.(graph.Node); isNode && hasLabels(n, labels) {
				next = append(next, r)
			}
			continue
		}
		for _, n := range s.sortedNodes() {
			if hasLabels(n, labels) {
				nr := copyRow(r)
				nr[name] = n
				next = append(next, nr)
			}
		}
	}
	return next, nil
}

func applyCreate(s *store, rows []row, body string, alloc func() int64) ([]row, []effect, error) {
	var effects []effect
	for _, item := range splitList(body) {
		if m := nodeRe.FindStringSubmatch(item); m != nil {
			props, err := parseProps(m[3])
			if err != nil {
				return nil, nil, err
			}
			for _, r := range rows {
				n := graph.Node{ID: alloc(), Labels: parseLabels(m[2]), Properties: props.Clone()}
				s.nodes[n.ID] = n
				effects = append(effects, effect{node: ptr(n.Clone())})
				if m[1] != "" {
					r[m[1]] = n.Clone()
				}
			}
			continue
		}

		m := relCreateRe.FindStringSubmatch(item)
		if m == nil {
			return nil, nil, fmt.Errorf("%w: create item %q", ErrUnsupported, item)
		}
		from, relName, relType, rawProps, to := m[1], m[2], m[3], m[4], m[5]
		props, err := parseProps(rawProps)
		if err != nil {
			return nil, nil, err
		}
		for _, r := range rows {
			start, ok1 := r[from].(graph.Node)
			end, ok2 := r[to].(graph.Node)
			if !ok1 || !ok2 {
				return nil, nil, fmt.Errorf("drivertest: create endpoints %s and %s must be bound nodes", from, to)
			}
			rel := graph.Relationship{ID: alloc(), Type: relType, StartID: start.ID, EndID: end.ID, Properties: props.Clone()}
			s.rels[rel.ID] = rel
			effects = append(effects, effect{rel: ptr(rel.Clone())})
			if relName != "" {
				r[relName] = rel.Clone()
			}
		}
	}
	return rows, effects, nil
}

func applySet(s *store, rows []row, body string) ([]effect, error) {
	var effects []effect
	for _, item := range splitList(body) {
		m := setRe.FindStringSubmatch(item)
		if m == nil {
			return nil, fmt.Errorf("%w: set item %q", ErrUnsupported, item)
		}
		name, prop := m[1], m[2]
		val, err := parseJSONValue(m[3])
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			switch e := r[name].(type) {
			case graph.Node:
				n := s.nodes[e.ID].Clone()
				n.Properties[prop] = val
				s.nodes[n.ID] = n
				r[name] = n.Clone()
				effects = append(effects, effect{node: ptr(n.Clone())})
			case graph.Relationship:
				rel := s.rels[e.ID].Clone()
				rel.Properties[prop] = val
				s.rels[rel.ID] = rel
				r[name] = rel.Clone()
				effects = append(effects, effect{rel: ptr(rel.Clone())})
			default:
				return nil, fmt.Errorf("drivertest: set on unbound variable %s", name)
			}
		}
	}
	return effects, nil
}

func applyReturn(res *driver.Result, rows []row, body string) error {
	type column struct {
		alias string
		eval  func(row) any
	}
	var cols []column
	for _, item := range splitList(body) {
		m := returnRe.FindStringSubmatch(item)
		if m == nil {
			return fmt.Errorf("%w: return item %q", ErrUnsupported, item)
		}
		expr, alias := m[1], m[2]
		var eval func(row) any
		switch {
		case varRe.MatchString(expr):
			eval = func(r row) any { return r[expr] }
		case idRe.MatchString(expr):
			name := idRe.FindStringSubmatch(expr)[1]
			eval = func(r row) any {
				switch e := r[name].(type) {
				case graph.Node:
					return e.ID
				case graph.Relationship:
					return e.ID
				}
				return nil
			}
		case typeRe.MatchString(expr):
			name := typeRe.FindStringSubmatch(expr)[1]
			eval = func(r row) any {
				if rel, ok := r[name].(graph.Relationship); ok {
					return rel.Type
				}
				return nil
			}
		case propRe.MatchString(expr):
			pm := propRe.FindStringSubmatch(expr)
			name, prop := pm[1], pm[2]
			eval = func(r row) any {
				var props graph.Properties
				switch e := r[name].(type) {
				case graph.Node:
					props = e.Properties
				case graph.Relationship:
					props = e.Properties
				}
				if v, ok := props[prop]; ok {
					return v.Interface()
				}
				return nil
			}
		default:
			return fmt.Errorf("%w: return expression %q", ErrUnsupported, expr)
		}
		cols = append(cols, column{alias: alias, eval: eval})
	}

	res.Columns = make([]string, len(cols))
	for i, c := range cols {
		res.Columns[i] = c.alias
	}
	for _, r := range rows {
		out := make([]any, len(cols))
		for i, c := range cols {
			out[i] = c.eval(r)
		}
		res.Rows = append(res.Rows, out)
	}
	return nil
}

func parseLabels(spec string) []string {
	if spec == "" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(spec, ":"), ":")
}

func hasLabels(n graph.Node, labels []string) bool {
	for _, l := range labels {
		if !n.HasLabel(l) {
			return false
		}
	}
	return true
}

func parseProps(raw string) (graph.Properties, error) {
	if raw == "" {
		return graph.Properties{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("drivertest: property map %s: %w", raw, err)
	}
	return graph.PropertiesOf(m)
}

func parseJSONValue(raw string) (graph.Value, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return graph.Value{}, fmt.Errorf("drivertest: value %s: %w", raw, err)
	}
	return graph.ValueOf(v)
}

func copyRow(r row) row {
	cp := make(row, len(r)+1)
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

func ptr[T any](v T) *T { return &v }
