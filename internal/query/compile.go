package query

import (
	"fmt"
	"strings"

	"github.com/nightscape/holon/internal/types"
)

// CompileResult is a compiled pipeline ready to run through
// database/sql: SQL text with positional `?` placeholders and the
// argument values bound to them in order.
type CompileResult struct {
	SQL  string
	Args []interface{}
}

// Compile translates m's pipeline (already run through a
// TransformPipeline and Split) into executable SQL for execute_sql.
func Compile(m *Module) (*CompileResult, error) {
	if m.Pipeline == nil {
		return nil, fmt.Errorf("query: module has no pipeline to compile")
	}
	sql, args, err := compilePipeline(m.Pipeline)
	if err != nil {
		return nil, err
	}
	return &CompileResult{SQL: sql, Args: args}, nil
}

func compilePipeline(p *Pipeline) (string, []interface{}, error) {
	source := ""
	var sourceArgs []interface{}
	var items []Item

	for _, stage := range p.Stages {
		switch s := stage.(type) {
		case *From:
			source = quoteSQLIdent(s.Table)
			sourceArgs = nil
		case *Select:
			items = s.Items
		case *Derive:
			if items == nil {
				items = []Item{{Wildcard: true}}
			}
			items = append(append([]Item{}, items...), s.Items...)
		case *Append:
			mainSQL, mainArgs, err := buildSelect(source, sourceArgs, items)
			if err != nil {
				return "", nil, err
			}
			branchSQL, branchArgs, err := compilePipeline(s.Branch)
			if err != nil {
				return "", nil, err
			}
			combinedSQL := mainSQL + " UNION ALL " + branchSQL
			combinedArgs := append(append([]interface{}{}, mainArgs...), branchArgs...)
			source = "(" + combinedSQL + ") AS t"
			sourceArgs = combinedArgs
			items = nil
		case *CallStage:
			return "", nil, fmt.Errorf("query: unresolved function-call stage %q: expand `let` declarations before compiling", s.Call.Name)
		case *Render:
			// detached by Split; a Compile call on an un-split module
			// simply drops it rather than erroring, since it carries
			// no relational meaning.
		}
	}
	if source == "" {
		return "", nil, fmt.Errorf("query: pipeline has no `from` stage")
	}
	return buildSelect(source, sourceArgs, items)
}

func buildSelect(source string, sourceArgs []interface{}, items []Item) (string, []interface{}, error) {
	selectList, selectArgs, err := buildSelectList(items)
	if err != nil {
		return "", nil, err
	}
	sql := "SELECT " + selectList + " FROM " + source
	args := append(append([]interface{}{}, selectArgs...), sourceArgs...)
	return sql, args, nil
}

func buildSelectList(items []Item) (string, []interface{}, error) {
	if items == nil {
		return "*", nil, nil
	}
	var parts []string
	var args []interface{}
	for _, it := range items {
		if it.Wildcard {
			parts = append(parts, "*")
			continue
		}
		exprSQL, exprArgs, err := exprToSQL(it.Expr)
		if err != nil {
			return "", nil, err
		}
		args = append(args, exprArgs...)
		name := itemName(it)
		if name != "" && name != plainColumnName(it.Expr) {
			parts = append(parts, exprSQL+" AS "+quoteSQLIdent(name))
		} else {
			parts = append(parts, exprSQL)
		}
	}
	return strings.Join(parts, ", "), args, nil
}

// plainColumnName returns the bare column name e already renders as,
// so buildSelectList can skip a redundant `AS` when an item's alias
// matches its own source column.
func plainColumnName(e Expr) string {
	id, ok := e.(*Ident)
	if !ok || len(id.Path) == 0 {
		return ""
	}
	return id.Path[len(id.Path)-1]
}

func exprToSQL(e Expr) (string, []interface{}, error) {
	switch v := e.(type) {
	case *Ident:
		path := v.Path
		if len(path) > 0 && lowerEquals(path[0], "this") {
			path = path[1:]
		}
		if len(path) == 0 {
			return "*", nil, nil
		}
		quoted := make([]string, len(path))
		for i, seg := range path {
			quoted[i] = quoteSQLIdent(seg)
		}
		return strings.Join(quoted, "."), nil, nil
	case *Literal:
		val, err := literalToValue(v)
		if err != nil {
			return "", nil, err
		}
		return "?", []interface{}{valueToDriver(val)}, nil
	case *Binary:
		leftSQL, leftArgs, err := exprToSQL(v.Left)
		if err != nil {
			return "", nil, err
		}
		rightSQL, rightArgs, err := exprToSQL(v.Right)
		if err != nil {
			return "", nil, err
		}
		op, ok := sqlBinaryOp(v.Op)
		if !ok {
			return "", nil, fmt.Errorf("query: operator %s has no SQL equivalent", v.Op)
		}
		args := append(append([]interface{}{}, leftArgs...), rightArgs...)
		return "(" + leftSQL + " " + op + " " + rightSQL + ")", args, nil
	case *Unary:
		operandSQL, operandArgs, err := exprToSQL(v.Operand)
		if err != nil {
			return "", nil, err
		}
		switch v.Op {
		case NOT:
			return "(NOT " + operandSQL + ")", operandArgs, nil
		case MINUS:
			return "(-" + operandSQL + ")", operandArgs, nil
		default:
			return "", nil, fmt.Errorf("query: unary operator %s has no SQL equivalent", v.Op)
		}
	case *Call:
		if lowerEquals(v.Name, "json_object") {
			return buildJSONObjectCall(v)
		}
		var parts []string
		var args []interface{}
		for _, a := range v.Args {
			s, as, err := exprToSQL(a)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, s)
			args = append(args, as...)
		}
		return v.Name + "(" + strings.Join(parts, ", ") + ")", args, nil
	default:
		return "", nil, fmt.Errorf("query: %T has no SQL translation", e)
	}
}

// buildJSONObjectCall renders json_object('c1', c1, 'c2', c2, …)
// verbatim: the key literals are inlined as SQL string literals (they
// were already quote-escaped by JsonAggregationTransformer) rather
// than bound parameters, keeping column references unquoted
// identifiers rather than bound values.
func buildJSONObjectCall(v *Call) (string, []interface{}, error) {
	if len(v.Args)%2 != 0 {
		return "", nil, fmt.Errorf("query: json_object requires key/value argument pairs")
	}
	var parts []string
	var args []interface{}
	for i := 0; i+1 < len(v.Args); i += 2 {
		key, ok := v.Args[i].(*Literal)
		if !ok || key.Kind != STRING {
			return "", nil, fmt.Errorf("query: json_object expects a string literal key in position %d", i)
		}
		valSQL, valArgs, err := exprToSQL(v.Args[i+1])
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "'"+key.Value+"'", valSQL)
		args = append(args, valArgs...)
	}
	return "json_object(" + strings.Join(parts, ", ") + ")", args, nil
}

func sqlBinaryOp(t TokenType) (string, bool) {
	switch t {
	case EQ:
		return "=", true
	case NEQ:
		return "!=", true
	case GT:
		return ">", true
	case LT:
		return "<", true
	case GTE:
		return ">=", true
	case LTE:
		return "<=", true
	case AND:
		return "AND", true
	case OR:
		return "OR", true
	case PLUS:
		return "+", true
	case MINUS:
		return "-", true
	case STAR:
		return "*", true
	case SLASH:
		return "/", true
	default:
		return "", false
	}
}

// quoteSQLIdent double-quotes a SQL identifier, doubling any embedded
// quote character, matching the identifier-quoting convention
// internal/storage uses for the same modernc.org/sqlite backend.
func quoteSQLIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// valueToDriver converts a Value to the representation
// database/sql expects for a bound parameter.
func valueToDriver(v types.Value) interface{} {
	switch v.Kind() {
	case types.KindNull:
		return nil
	case types.KindBoolean:
		return v.Bool()
	case types.KindInteger:
		return v.Int()
	case types.KindFloat:
		return v.Float()
	case types.KindDateTime:
		return v.Time()
	default:
		return v.AsString()
	}
}
