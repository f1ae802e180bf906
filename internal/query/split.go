package query

import (
	"fmt"
	"strconv"

	"github.com/nightscape/holon/internal/types"
)

// Split parses source, expands every `let`-declared function by
// parameter substitution, detaches the trailing `render(...)` call
// from the main pipeline if present, and returns the remaining query
// module alongside the detached render call's arguments.
func Split(source string) (*Module, []Expr, error) {
	m, err := Parse(source)
	if err != nil {
		return nil, nil, err
	}
	args, err := SplitModule(m)
	if err != nil {
		return nil, nil, err
	}
	return m, args, nil
}

// SplitModule performs Split's let-expansion and trailing-render
// detachment on a module that has already been parsed (and, typically,
// already run through a TransformPipeline), letting callers such as
// internal/engine's compile_query share the same logic without
// re-parsing source text.
func SplitModule(m *Module) ([]Expr, error) {
	expandModule(m)

	if m.Pipeline == nil || len(m.Pipeline.Stages) == 0 {
		return nil, nil
	}
	last := m.Pipeline.Stages[len(m.Pipeline.Stages)-1]
	render, ok := last.(*Render)
	if !ok {
		return nil, nil
	}
	m.Pipeline.Stages = m.Pipeline.Stages[:len(m.Pipeline.Stages)-1]
	return render.Args, nil
}

// expandModule rewrites every expression reachable from m's pipeline
// (including append branches) by inlining `let` function calls and
// zero-arg function identifiers.
func expandModule(m *Module) {
	if len(m.Lets) == 0 {
		return
	}
	lets := make(map[string]*LetDecl, len(m.Lets))
	for _, d := range m.Lets {
		lets[d.Name] = d
	}
	walkBranches(m.Pipeline, func(p *Pipeline) {
		for _, stage := range p.Stages {
			switch s := stage.(type) {
			case *Select:
				for i := range s.Items {
					s.Items[i].Expr = expandExpr(s.Items[i].Expr, lets)
				}
			case *Derive:
				for i := range s.Items {
					s.Items[i].Expr = expandExpr(s.Items[i].Expr, lets)
				}
			case *Render:
				for i := range s.Args {
					s.Args[i] = expandExpr(s.Args[i], lets)
				}
			case *CallStage:
				if expanded, ok := expandExpr(s.Call, lets).(*Call); ok {
					s.Call = expanded
				}
			}
		}
	})
}

// expandExpr inlines references to lets bottom-up: a zero-arg function
// referenced as a bare identifier is replaced by its body, and a call
// to a declared function is replaced by its body with every parameter
// substituted by the matching positional or named argument.
func expandExpr(e Expr, lets map[string]*LetDecl) Expr {
	switch v := e.(type) {
	case nil:
		return nil
	case *Ident:
		if len(v.Path) == 1 {
			if decl, ok := lets[v.Path[0]]; ok && len(decl.Params) == 0 {
				return expandExpr(decl.Body, lets)
			}
		}
		return v
	case *Literal:
		return v
	case *Unary:
		return &Unary{Op: v.Op, Operand: expandExpr(v.Operand, lets)}
	case *Binary:
		return &Binary{Op: v.Op, Left: expandExpr(v.Left, lets), Right: expandExpr(v.Right, lets)}
	case *Call:
		args := make([]Expr, len(v.Args))
		for i, a := range v.Args {
			args[i] = expandExpr(a, lets)
		}
		var named map[string]Expr
		if v.Named != nil {
			named = make(map[string]Expr, len(v.Named))
			for k, a := range v.Named {
				named[k] = expandExpr(a, lets)
			}
		}
		decl, ok := lets[v.Name]
		if !ok {
			return &Call{Name: v.Name, Args: args, Named: named}
		}
		params := make(map[string]Expr, len(decl.Params))
		for i, pname := range decl.Params {
			if a, ok := named[pname]; ok {
				params[pname] = a
				continue
			}
			if i < len(args) {
				params[pname] = args[i]
			}
		}
		return expandExpr(substituteParams(decl.Body, params), lets)
	default:
		return e
	}
}

// substituteParams replaces every single-segment Ident in e matching a
// key of params with the bound argument expression.
func substituteParams(e Expr, params map[string]Expr) Expr {
	switch v := e.(type) {
	case nil:
		return nil
	case *Ident:
		if len(v.Path) == 1 {
			if repl, ok := params[v.Path[0]]; ok {
				return repl
			}
		}
		return v
	case *Literal:
		return v
	case *Unary:
		return &Unary{Op: v.Op, Operand: substituteParams(v.Operand, params)}
	case *Binary:
		return &Binary{Op: v.Op, Left: substituteParams(v.Left, params), Right: substituteParams(v.Right, params)}
	case *Call:
		args := make([]Expr, len(v.Args))
		for i, a := range v.Args {
			args[i] = substituteParams(a, params)
		}
		var named map[string]Expr
		if v.Named != nil {
			named = make(map[string]Expr, len(v.Named))
			for k, a := range v.Named {
				named[k] = substituteParams(a, params)
			}
		}
		return &Call{Name: v.Name, Args: args, Named: named}
	default:
		return e
	}
}

// ExtractRowTemplates finds every `derive { ui = (render ...) }` match
// in m's pipeline, including inside append branches, records a
// types.RowTemplate for each, and replaces the render expression with
// an integer literal equal to its discovery index. It errors if a
// template appears in a pipeline with no preceding `from`.
func ExtractRowTemplates(m *Module) ([]types.RowTemplate, error) {
	var templates []types.RowTemplate
	var walkErr error
	index := 0
	walkBranches(m.Pipeline, func(p *Pipeline) {
		if walkErr != nil {
			return
		}
		lastFrom := ""
		for _, stage := range p.Stages {
			switch s := stage.(type) {
			case *From:
				lastFrom = s.Table
			case *Derive:
				for i := range s.Items {
					it := &s.Items[i]
					if it.Name != "ui" {
						continue
					}
					call, ok := it.Expr.(*Call)
					if !ok || !lowerEquals(call.Name, "render") {
						continue
					}
					if lastFrom == "" {
						walkErr = fmt.Errorf("query: derive { ui = render(...) } with no preceding from")
						return
					}
					renderExpr, err := ToRenderSpec(call)
					if err != nil {
						walkErr = err
						return
					}
					templates = append(templates, types.RowTemplate{
						Index:      index,
						EntityName: lastFrom,
						RenderExpr: renderExpr,
					})
					it.Expr = &Literal{Kind: INT, Value: strconv.Itoa(index)}
					index++
				}
			}
		}
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return templates, nil
}
