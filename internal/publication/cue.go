package publication

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/replica"
)

// CompileError reports an invalid CUE publication with its position.
type CompileError struct {
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Constraint is a compiled CUE publication.
//
// A record is visible when unifying it with the constraint yields a
// concrete value without conflicts. Fields the constraint names must
// therefore be present; fields it does not name are unconstrained.
//
//	order: <=3.5
//	status: "open" | "pending"
//
// Thread-safety: Accept serialises access to the CUE context and is safe
// for concurrent use.
type Constraint struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
	src    string
}

// CompileCUE compiles src. filename is used in error positions.
func CompileCUE(filename, src string) (*Constraint, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(src, cue.Filename(filename))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if k := schema.IncompleteKind(); k&cue.StructKind == 0 {
		return nil, &CompileError{Message: fmt.Sprintf("publication must be a struct constraint, got %s", k)}
	}
	return &Constraint{ctx: ctx, schema: schema, src: src}, nil
}

// FromCUE compiles src and returns it as a publication.
func FromCUE(src string) (replica.Publication, error) {
	c, err := CompileCUE("publication.cue", src)
	if err != nil {
		return nil, err
	}
	return c.Accept, nil
}

// Accept reports whether r satisfies the constraint.
func (c *Constraint) Accept(r record.Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := c.ctx.Encode(record.ToAny(r))
	if data.Err() != nil {
		return false
	}
	return c.schema.Unify(data).Validate(cue.Concrete(true)) == nil
}

// Source returns the CUE text the constraint was compiled from.
func (c *Constraint) Source() string {
	return c.src
}

func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Message: first.Error(), Pos: positions[0]}
	}
	return &CompileError{Message: first.Error()}
}
