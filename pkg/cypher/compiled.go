package cypher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// writer receives the rendered statement. The shape pass hashes the text
// and collects literal values; the template pass records the text between
// literal slots.
type writer interface {
	text(s string)
	slot(style literalStyle, v any) error
}

type shapeWriter struct {
	h      *xxhash.Digest
	args   []any
	styles []literalStyle
}

func newShapeWriter() *shapeWriter {
	return &shapeWriter{h: xxhash.New()}
}

func (s *shapeWriter) text(t string) {
	_, _ = s.h.WriteString(t)
}

func (s *shapeWriter) slot(style literalStyle, v any) error {
	if _, err := formatLiteral(style, v); err != nil {
		return err
	}
	s.args = append(s.args, v)
	s.styles = append(s.styles, style)
	_, _ = s.h.Write([]byte{0, byte(style)})
	return nil
}

func (s *shapeWriter) columns(cols []Column) {
	for _, c := range cols {
		_, _ = s.h.Write([]byte{1, byte(c.Kind), byte(c.Type)})
		_, _ = s.h.WriteString(c.Alias)
	}
}

func (s *shapeWriter) sum() uint64 { return s.h.Sum64() }

type templateWriter struct {
	sb     strings.Builder
	parts  []string
	styles []literalStyle
}

func (t *templateWriter) text(s string) { t.sb.WriteString(s) }

func (t *templateWriter) slot(style literalStyle, _ any) error {
	t.parts = append(t.parts, t.sb.String())
	t.sb.Reset()
	t.styles = append(t.styles, style)
	return nil
}

func (t *templateWriter) build(fp uint64, cols []Column, mutating bool) *CompiledQuery {
	parts := append(t.parts, t.sb.String())
	return &CompiledQuery{
		fingerprint: fp,
		parts:       parts,
		styles:      t.styles,
		columns:     cols,
		mutating:    mutating,
	}
}

// CompiledQuery is the literal-independent form of a declaration: statement
// text with one slot per literal value, plus the result column layout.
// A CompiledQuery is immutable and safe for concurrent use.
type CompiledQuery struct {
	fingerprint uint64
	parts       []string
	styles      []literalStyle
	columns     []Column
	mutating    bool
}

// Fingerprint identifies the declaration shape.
func (q *CompiledQuery) Fingerprint() uint64 { return q.fingerprint }

// Slots returns the number of literal slots.
func (q *CompiledQuery) Slots() int { return len(q.styles) }

// Mutating reports whether the statement contains CREATE or SET.
func (q *CompiledQuery) Mutating() bool { return q.mutating }

// Columns returns the logical result columns in RETURN order.
func (q *CompiledQuery) Columns() []Column {
	out := make([]Column, len(q.columns))
	copy(out, q.columns)
	return out
}

// Template returns the statement text with slots shown as $0, $1, ...
func (q *CompiledQuery) Template() string {
	var sb strings.Builder
	for i, p := range q.parts {
		if i > 0 {
			sb.WriteString("$" + strconv.Itoa(i-1))
		}
		sb.WriteString(p)
	}
	return sb.String()
}

// Render fills the slots with args, in slot order.
func (q *CompiledQuery) Render(args []any) (string, error) {
	if len(args) != len(q.styles) {
		return "", fmt.Errorf("cypher: template has %d slots, got %d values", len(q.styles), len(args))
	}
	var sb strings.Builder
	for i, p := range q.parts {
		if i > 0 {
			lit, err := formatLiteral(q.styles[i-1], args[i-1])
			if err != nil {
				return "", fmt.Errorf("cypher: slot %d: %w", i-1, err)
			}
			sb.WriteString(lit)
		}
		sb.WriteString(p)
	}
	return sb.String(), nil
}

// Statement is a compiled declaration with its literals rendered.
type Statement struct {
	Text     string
	Query    *CompiledQuery
	Args     []any
	CacheHit bool
}

// Columns returns the result column layout.
func (s *Statement) Columns() []Column { return s.Query.Columns() }

// Mutating reports whether the statement writes to the graph.
func (s *Statement) Mutating() bool { return s.Query.Mutating() }
