// Package grep provides the "grep" operation: it keeps records for which a
// CEL expression evaluates to true. The record is bound to the variable r,
// and {{field}} is shorthand for r["field"] ({{a/b}} reaches into nested
// objects).
package grep

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/vk/recsexplorer/internal/operation"
	"github.com/vk/recsexplorer/internal/record"
)

// Module implements the operation.Module interface for this package.
type Module struct{}

// Register registers the grep factory.
func (m *Module) Register(r *operation.Registry) {
	r.Register("grep", New)
}

var shorthand = regexp.MustCompile(`\{\{([^}]+)\}\}`)

type grep struct {
	next    operation.Sink
	program cel.Program
	invert  bool
}

// New parses the arguments and compiles the expression.
func New(_ context.Context, next operation.Sink, args []string) (operation.Operation, error) {
	fs := operation.NewFlagSet("grep")
	invert := fs.BoolP("invert", "v", false, "keep records that do not match")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() == 0 {
		return nil, errors.New("missing expression")
	}
	prg, err := compile(strings.Join(fs.Args(), " "))
	if err != nil {
		return nil, err
	}
	return &grep{next: next, program: prg, invert: *invert}, nil
}

func compile(expr string) (cel.Program, error) {
	expr = expandShorthand(expr)

	env, err := cel.NewEnv(
		cel.Variable("r", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("expression environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expr, issues.Err())
	}
	out := ast.OutputType()
	if !reflect.DeepEqual(out, cel.BoolType) && !reflect.DeepEqual(out, cel.DynType) {
		return nil, fmt.Errorf("expression %q must produce a bool, got %s", expr, out)
	}
	return env.Program(ast)
}

func expandShorthand(expr string) string {
	return shorthand.ReplaceAllStringFunc(expr, func(m string) string {
		path := strings.TrimSpace(m[2 : len(m)-2])
		var b strings.Builder
		b.WriteString("r")
		for _, part := range strings.Split(path, "/") {
			fmt.Fprintf(&b, "[%q]", part)
		}
		return b.String()
	})
}

// AcceptRecord forwards r when the expression matches. Evaluation errors,
// such as a missing field, count as no match.
func (g *grep) AcceptRecord(r record.Record) bool {
	if g.matches(r) != g.invert {
		return g.next.AcceptRecord(r)
	}
	return true
}

func (g *grep) matches(r record.Record) bool {
	out, _, err := g.program.Eval(map[string]any{"r": map[string]any(r)})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

func (g *grep) Finish() error {
	return g.next.Finish()
}
