package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nightscape/holon/internal/types"
)

// ToRenderSpec translates a render-template Expr into the
// language-neutral types.RenderExpr tree: function call, literal,
// column reference, binary op, array, or object. Column references
// preserve the `this.` prefix from the source.
func ToRenderSpec(e Expr) (types.RenderExpr, error) {
	switch v := e.(type) {
	case *Ident:
		return types.ColumnRefExpr(strings.Join(v.Path, ".")), nil
	case *Literal:
		val, err := literalToValue(v)
		if err != nil {
			return types.RenderExpr{}, err
		}
		return types.LiteralExpr(val), nil
	case *Binary:
		op, ok := renderBinaryOp(v.Op)
		if !ok {
			return types.RenderExpr{}, fmt.Errorf("query: operator %s has no render-spec equivalent", v.Op)
		}
		left, err := ToRenderSpec(v.Left)
		if err != nil {
			return types.RenderExpr{}, err
		}
		right, err := ToRenderSpec(v.Right)
		if err != nil {
			return types.RenderExpr{}, err
		}
		return types.BinaryOpExpr(op, left, right), nil
	case *Unary:
		operand, err := ToRenderSpec(v.Operand)
		if err != nil {
			return types.RenderExpr{}, err
		}
		name := "neg"
		if v.Op == NOT {
			name = "not"
		}
		return types.FunctionCallExpr(name, []types.Arg{{Value: operand}}, nil), nil
	case *Call:
		return callToRenderSpec(v)
	default:
		return types.RenderExpr{}, fmt.Errorf("query: %T has no render-spec translation", e)
	}
}

func callToRenderSpec(v *Call) (types.RenderExpr, error) {
	switch {
	case lowerEquals(v.Name, "array"):
		items := make([]types.RenderExpr, 0, len(v.Args))
		for _, a := range v.Args {
			re, err := ToRenderSpec(a)
			if err != nil {
				return types.RenderExpr{}, err
			}
			items = append(items, re)
		}
		return types.ArrayExpr(items), nil
	case lowerEquals(v.Name, "object"):
		fields, err := sortedObjectFields(v.Named)
		if err != nil {
			return types.RenderExpr{}, err
		}
		return types.ObjectExpr(fields), nil
	default:
		args := make([]types.Arg, 0, len(v.Args)+len(v.Named))
		for _, a := range v.Args {
			re, err := ToRenderSpec(a)
			if err != nil {
				return types.RenderExpr{}, err
			}
			args = append(args, types.Arg{Value: re})
		}
		named, err := sortedArgs(v.Named)
		if err != nil {
			return types.RenderExpr{}, err
		}
		args = append(args, named...)
		return types.FunctionCallExpr(v.Name, args, nil), nil
	}
}

func sortedArgs(named map[string]Expr) ([]types.Arg, error) {
	keys := sortedKeys(named)
	args := make([]types.Arg, 0, len(keys))
	for _, k := range keys {
		re, err := ToRenderSpec(named[k])
		if err != nil {
			return nil, err
		}
		args = append(args, types.Arg{Name: k, Value: re})
	}
	return args, nil
}

func sortedObjectFields(named map[string]Expr) ([]types.ObjectField, error) {
	keys := sortedKeys(named)
	fields := make([]types.ObjectField, 0, len(keys))
	for _, k := range keys {
		re, err := ToRenderSpec(named[k])
		if err != nil {
			return nil, err
		}
		fields = append(fields, types.ObjectField{Name: k, Value: re})
	}
	return fields, nil
}

func sortedKeys(m map[string]Expr) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func renderBinaryOp(t TokenType) (types.BinaryOp, bool) {
	switch t {
	case EQ:
		return types.OpEq, true
	case NEQ:
		return types.OpNeq, true
	case GT:
		return types.OpGt, true
	case LT:
		return types.OpLt, true
	case GTE:
		return types.OpGte, true
	case LTE:
		return types.OpLte, true
	case AND:
		return types.OpAnd, true
	case OR:
		return types.OpOr, true
	case PLUS:
		return types.OpAdd, true
	case MINUS:
		return types.OpSub, true
	case STAR:
		return types.OpMul, true
	case SLASH:
		return types.OpDiv, true
	default:
		return 0, false
	}
}

func literalToValue(lit *Literal) (types.Value, error) {
	switch lit.Kind {
	case STRING:
		return types.NewString(lit.Value), nil
	case INT:
		n, err := strconv.ParseInt(lit.Value, 10, 64)
		if err != nil {
			return types.Value{}, fmt.Errorf("query: invalid integer literal %q: %w", lit.Value, err)
		}
		return types.NewInteger(n), nil
	case FLOAT:
		f, err := strconv.ParseFloat(lit.Value, 64)
		if err != nil {
			return types.Value{}, fmt.Errorf("query: invalid float literal %q: %w", lit.Value, err)
		}
		return types.NewFloat(f), nil
	case TRUE:
		return types.NewBoolean(true), nil
	case FALSE:
		return types.NewBoolean(false), nil
	case NULL:
		return types.Null, nil
	default:
		return types.Value{}, fmt.Errorf("query: %s is not a literal kind", lit.Kind)
	}
}
