// Package cypher compiles typed query declarations into Cypher statement text.
//
// A declaration is built from a Binder's variables and the combinator
// functions in this package, then compiled through a QueryCache:
//
//	b := cypher.NewBinder()
//	movie, _ := b.Node("movie")
//	actor, _ := b.Node("actor")
//
//	stmt, err := cypher.NewDeclaration(b).
//		Start(cypher.At(movie, 1)).
//		Match(cypher.Path(cypher.N(movie)).In(cypher.Rel("ACTED_IN").Hops(1, 5), cypher.N(actor))).
//		Return(actor, movie).
//		Compile(cypher.DefaultCache())
//
//	// stmt.Text:
//	// START movie=node(1) MATCH (movie)<-[:ACTED_IN*1..5]-(actor)
//	// RETURN actor as actor, id(actor) as actor__Id, movie as movie, id(movie) as movie__Id
//
// Nothing in this package performs I/O. Literal values are kept out of the
// compiled template so one CompiledQuery serves every declaration of the
// same shape.
package cypher

import (
	"errors"
	"fmt"
)

// Compilation failure causes, matched with errors.Is.
var (
	ErrUnsupportedExpression = errors.New("unsupported expression")
	ErrTypeMismatch          = errors.New("literal type mismatch")
	ErrUnsupportedLiteral    = errors.New("unsupported literal")
)

// DeclarationError reports an invalid declaration step: a variable name
// collision, a malformed pattern, or a reference to a variable that does not
// belong to the query context. It is recorded when the step is declared.
type DeclarationError struct {
	Clause string
	Msg    string
}

func (e *DeclarationError) Error() string {
	return fmt.Sprintf("cypher: invalid %s declaration: %s", e.Clause, e.Msg)
}

func declErr(clause, format string, args ...any) *DeclarationError {
	return &DeclarationError{Clause: clause, Msg: fmt.Sprintf(format, args...)}
}

// CompilationError reports a declaration that is well formed but cannot be
// rendered, such as an unsupported expression node or a literal whose type
// contradicts the property it is compared with.
type CompilationError struct {
	Clause string
	Err    error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("cypher: cannot compile %s: %v", e.Clause, e.Err)
}

func (e *CompilationError) Unwrap() error { return e.Err }

func compileErr(clause string, err error) *CompilationError {
	var ce *CompilationError
	if errors.As(err, &ce) {
		return ce
	}
	return &CompilationError{Clause: clause, Err: err}
}
