package cypher

// Declaration accumulates the clauses of one query. Each step is validated
// when it is declared; the first invalid step is recorded and every later
// step is ignored. The error surfaces from Err and Compile.
//
// Clauses are always emitted in the order START, MATCH, WHERE, CREATE, SET,
// RETURN, ORDER BY, SKIP, LIMIT regardless of the order they are declared.
type Declaration struct {
	binder   *Binder
	starts   []StartPoint
	paths    []PathSpec
	where    Expr
	creates  []CreateSpec
	sets     []SetItem
	returns  []projected
	returned bool
	order    []OrderKey
	skip     *int64
	limit    *int64
	bound    map[*Var]bool
	err      error
}

// NewDeclaration starts a declaration over the variables of b.
func NewDeclaration(b *Binder) *Declaration {
	return &Declaration{binder: b, bound: make(map[*Var]bool)}
}

// Binder returns the query context.
func (d *Declaration) Binder() *Binder { return d.binder }

// Err returns the first declaration error.
func (d *Declaration) Err() error { return d.err }

// Mutates reports whether the declaration contains CREATE or SET.
func (d *Declaration) Mutates() bool {
	return len(d.creates) > 0 || len(d.sets) > 0
}

// Creates reports whether the declaration contains CREATE.
func (d *Declaration) Creates() bool { return len(d.creates) > 0 }

func (d *Declaration) fail(err error) *Declaration {
	if d.err == nil {
		d.err = err
	}
	return d
}

func (d *Declaration) owned(clause string, vars []*Var) *DeclarationError {
	for _, v := range vars {
		if !d.binder.owns(v) {
			if v == nil {
				return declErr(clause, "reference to nil variable")
			}
			return declErr(clause, "variable %q belongs to another query context", v.name)
		}
	}
	return nil
}

// Start binds variables to explicit ids or to every entity.
func (d *Declaration) Start(points ...Starts) *Declaration {
	if d.err != nil {
		return d
	}
	for _, group := range points {
		for _, p := range group {
			if err := d.owned("START", []*Var{p.Var}); err != nil {
				return d.fail(err)
			}
			if d.bound[p.Var] {
				return d.fail(declErr("START", "variable %q is already bound", p.Var.name))
			}
			if !p.All && len(p.IDs) == 0 {
				return d.fail(declErr("START", "variable %q has no ids", p.Var.name))
			}
			for _, id := range p.IDs {
				if id < 0 {
					return d.fail(declErr("START", "variable %q has negative id %d", p.Var.name, id))
				}
			}
			d.bound[p.Var] = true
			d.starts = append(d.starts, p)
		}
	}
	return d
}

// Match adds path patterns. Every path after the first bound variable must
// share a named variable with START bindings or earlier paths.
func (d *Declaration) Match(paths ...PathSpec) *Declaration {
	if d.err != nil {
		return d
	}
	for _, p := range paths {
		if err := p.validate(d.binder); err != nil {
			return d.fail(err)
		}
		if err := d.uniqueRels(p); err != nil {
			return d.fail(err)
		}
		vars := p.vars()
		if len(d.bound) > 0 {
			connected := false
			for _, v := range vars {
				if d.bound[v] {
					connected = true
					break
				}
			}
			if !connected {
				return d.fail(declErr("MATCH", "pattern %s shares no variable with the query", p.Start.render()))
			}
		}
		for _, v := range vars {
			d.bound[v] = true
		}
		d.paths = append(d.paths, p)
	}
	return d
}

// uniqueRels rejects a relationship variable that already names a hop of
// p or of an earlier MATCH path. Node variables may repeat.
func (d *Declaration) uniqueRels(p PathSpec) error {
	used := make(map[*Var]bool)
	for _, prev := range d.paths {
		for _, s := range prev.Segments {
			if s.Rel.Var != nil {
				used[s.Rel.Var] = true
			}
		}
	}
	for _, s := range p.Segments {
		r := s.Rel.Var
		if r == nil {
			continue
		}
		if used[r] {
			return declErr("MATCH", "relationship %q is bound to more than one hop", r.name)
		}
		used[r] = true
	}
	return nil
}

// Where adds a predicate. A second Where is conjoined with the first.
func (d *Declaration) Where(e Expr) *Declaration {
	if d.err != nil {
		return d
	}
	if e == nil {
		return d.fail(declErr("WHERE", "nil predicate"))
	}
	if err := d.owned("WHERE", exprVars(e, nil)); err != nil {
		return d.fail(err)
	}
	if d.where == nil {
		d.where = e
	} else {
		d.where = And(d.where, e)
	}
	return d
}

// Create adds node or relationship creations. Endpoints must already be
// bound; created variables become bound.
func (d *Declaration) Create(specs ...CreateSpec) *Declaration {
	if d.err != nil {
		return d
	}
	for _, c := range specs {
		if c == nil {
			return d.fail(declErr("CREATE", "nil element"))
		}
		if err := c.validateCreate(d); err != nil {
			return d.fail(err)
		}
		d.creates = append(d.creates, c)
	}
	return d
}

// Update adds SET assignments on bound variables.
func (d *Declaration) Update(items ...SetItem) *Declaration {
	if d.err != nil {
		return d
	}
	for _, s := range items {
		if err := d.owned("SET", []*Var{s.Var}); err != nil {
			return d.fail(err)
		}
		if !d.bound[s.Var] {
			return d.fail(declErr("SET", "variable %q is not bound", s.Var.name))
		}
		if s.Prop == "" {
			return d.fail(declErr("SET", "empty property name on %q", s.Var.name))
		}
		d.sets = append(d.sets, s)
	}
	return d
}

// Return sets the projection. It may be declared once.
func (d *Declaration) Return(items ...Projection) *Declaration {
	if d.err != nil {
		return d
	}
	if d.returned {
		return d.fail(declErr("RETURN", "projection already declared"))
	}
	if len(items) == 0 {
		return d.fail(declErr("RETURN", "empty projection"))
	}
	seen := make(map[string]bool, len(items))
	out := make([]projected, 0, len(items))
	for _, item := range items {
		if item == nil {
			return d.fail(declErr("RETURN", "nil projection"))
		}
		p := item.projected()
		if p.err != nil {
			return d.fail(p.err)
		}
		if validName(p.alias) != nil {
			return d.fail(declErr("RETURN", "alias %q is not a valid column name", p.alias))
		}
		if seen[p.alias] {
			return d.fail(declErr("RETURN", "duplicate alias %q", p.alias))
		}
		seen[p.alias] = true
		vars := exprVars(p.expr, nil)
		if p.entity != nil {
			vars = append(vars, p.entity)
		}
		if err := d.owned("RETURN", vars); err != nil {
			return d.fail(err)
		}
		out = append(out, p)
	}
	d.returns = out
	d.returned = true
	return d
}

// OrderBy appends sort keys.
func (d *Declaration) OrderBy(keys ...Orderable) *Declaration {
	if d.err != nil {
		return d
	}
	for _, k := range keys {
		if k == nil {
			return d.fail(declErr("ORDER BY", "nil key"))
		}
		key := k.orderKey()
		if key.Expr == nil {
			return d.fail(declErr("ORDER BY", "nil key"))
		}
		if a, ok := key.Expr.(AggregateExpr); ok && a.err != nil {
			return d.fail(a.err)
		}
		if err := d.owned("ORDER BY", exprVars(key.Expr, nil)); err != nil {
			return d.fail(err)
		}
		d.order = append(d.order, key)
	}
	return d
}

// Skip sets the number of rows to skip.
func (d *Declaration) Skip(n int) *Declaration {
	if d.err != nil {
		return d
	}
	if n < 0 {
		return d.fail(declErr("SKIP", "negative count %d", n))
	}
	v := int64(n)
	d.skip = &v
	return d
}

// Limit caps the number of rows returned.
func (d *Declaration) Limit(n int) *Declaration {
	if d.err != nil {
		return d
	}
	if n < 0 {
		return d.fail(declErr("LIMIT", "negative count %d", n))
	}
	v := int64(n)
	d.limit = &v
	return d
}

// Columns returns the logical result columns declared so far.
func (d *Declaration) Columns() []Column {
	cols := make([]Column, len(d.returns))
	for i, p := range d.returns {
		cols[i] = Column{Alias: p.alias, Kind: p.kind(), Type: p.typ}
	}
	return cols
}

func (d *Declaration) complete() error {
	if d.err != nil {
		return d.err
	}
	if len(d.starts) == 0 && len(d.paths) == 0 && len(d.creates) == 0 {
		return declErr("query", "no START, MATCH or CREATE clause")
	}
	if !d.returned && !d.Mutates() {
		return declErr("query", "read query without RETURN")
	}
	if len(d.order) > 0 && !d.returned {
		return declErr("ORDER BY", "ordering requires a RETURN clause")
	}
	return nil
}

// emit writes the full statement.
func (d *Declaration) emit(w writer) error {
	sep := false
	clause := func(kw string) {
		if sep {
			w.text(" ")
		}
		w.text(kw + " ")
		sep = true
	}

	if len(d.starts) > 0 {
		clause("START")
		for i, p := range d.starts {
			if i > 0 {
				w.text(", ")
			}
			if err := writeStart(w, p); err != nil {
				return compileErr("START", err)
			}
		}
	}

	if len(d.paths) > 0 {
		clause("MATCH")
		writePaths(w, d.paths)
	}

	if d.where != nil {
		clause("WHERE")
		ew := exprWriter{w: w, clause: "WHERE"}
		if err := ew.write(d.where); err != nil {
			return err
		}
	}

	if len(d.creates) > 0 {
		clause("CREATE")
		for i, c := range d.creates {
			if i > 0 {
				w.text(", ")
			}
			if err := c.writeCreate(w); err != nil {
				return compileErr("CREATE", err)
			}
		}
	}

	if len(d.sets) > 0 {
		clause("SET")
		for i, s := range d.sets {
			if i > 0 {
				w.text(", ")
			}
			if err := s.write(w); err != nil {
				return compileErr("SET", err)
			}
		}
	}

	if len(d.returns) > 0 {
		clause("RETURN")
		for i, p := range d.returns {
			if i > 0 {
				w.text(", ")
			}
			if err := writeProjection(w, p); err != nil {
				return err
			}
		}
	}

	if len(d.order) > 0 {
		clause("ORDER BY")
		for i, k := range d.order {
			if i > 0 {
				w.text(", ")
			}
			if err := writeOrderKey(w, k); err != nil {
				return err
			}
		}
	}

	if d.skip != nil {
		clause("SKIP")
		if err := w.slot(styleCount, *d.skip); err != nil {
			return compileErr("SKIP", err)
		}
	}
	if d.limit != nil {
		clause("LIMIT")
		if err := w.slot(styleCount, *d.limit); err != nil {
			return compileErr("LIMIT", err)
		}
	}
	return nil
}

// Compile renders the declaration, reusing the cached template for its
// shape when cache holds one. A nil cache compiles without caching.
func (d *Declaration) Compile(cache *QueryCache) (*Statement, error) {
	if err := d.complete(); err != nil {
		return nil, err
	}

	cols := d.Columns()
	sw := newShapeWriter()
	if err := d.emit(sw); err != nil {
		return nil, err
	}
	sw.columns(cols)
	fp := sw.sum()

	build := func() (*CompiledQuery, error) {
		tw := &templateWriter{}
		if err := d.emit(tw); err != nil {
			return nil, err
		}
		return tw.build(fp, cols, d.Mutates()), nil
	}

	var (
		q   *CompiledQuery
		hit bool
		err error
	)
	if cache != nil {
		q, hit, err = cache.GetOrCompile(fp, build)
	} else {
		q, err = build()
	}
	if err != nil {
		return nil, err
	}

	text, err := q.Render(sw.args)
	if err != nil {
		return nil, compileErr("query", err)
	}
	return &Statement{Text: text, Query: q, Args: sw.args, CacheHit: hit}, nil
}
