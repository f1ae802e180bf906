package query

// Module is one parsed source unit: zero or more `let` function
// declarations followed by exactly one pipeline.
type Module struct {
	Lets     []*LetDecl
	Pipeline *Pipeline
}

// LetDecl is a `let name = param1, param2 -> expr` user-defined
// function, expanded inline at every call site by split().
type LetDecl struct {
	Name   string
	Params []string
	Body   Expr
}

// Pipeline is an ordered sequence of transform stages joined by `|`.
type Pipeline struct {
	Stages []Stage
}

// Stage is one pipeline transform: From, Select, Derive, Append, or a
// trailing Render (detached by split() rather than compiled to SQL).
type Stage interface{ stage() }

// From names the source relation a pipeline reads from.
type From struct {
	Table string
}

func (*From) stage() {}

// Select projects a fixed item list, replacing whatever columns were
// in scope (wildcard-replacement case).
type Select struct {
	Items []Item
}

func (*Select) stage() {}

// Derive adds computed columns alongside whatever is already in scope
// (wildcard-extension case).
type Derive struct {
	Items []Item
}

func (*Derive) stage() {}

// Append unions a branch pipeline's rows onto the main pipeline
// (UNION-triggering construct).
type Append struct {
	Branch *Pipeline
}

func (*Append) stage() {}

// Render is a trailing call detached from the compiled pipeline by
// split(); its Args are kept verbatim for
// to_render_spec to translate.
type Render struct {
	Args []Expr
}

func (*Render) stage() {}

// Item is one entry of a select/derive item list: either a bare
// wildcard (`this.*`), a bare column reference, or a `name = expr`
// assignment.
type Item struct {
	Wildcard bool
	Name     string // empty when the item is a bare expression with no alias
	Expr     Expr   // nil when Wildcard is true
	CID      int    // column-ref id, assigned sequentially at parse time and
	                 // reallocated by rewriters via max(existing)+1
}

// Expr is any scalar expression appearing inside an item, a call
// argument, or a render template.
type Expr interface{ expr() }

// Ident is a (possibly dotted) reference such as `this.title` or a
// plain column name.
type Ident struct {
	Path []string
}

func (*Ident) expr() {}

// Literal is a scanned constant: string, int, float, bool, or null.
type Literal struct {
	Kind  TokenType // STRING, INT, FLOAT, TRUE, FALSE, NULL
	Value string
}

func (*Literal) expr() {}

// Call is a function application, e.g. `json_object(...)` or a
// `let`-declared user function invoked positionally or by name.
type Call struct {
	Name   string
	Args   []Expr
	Named  map[string]Expr // named-argument form, e.g. f(x = 1)
}

func (*Call) expr() {}

// Binary is a two-operand expression, e.g. `this.count > 0`.
type Binary struct {
	Op    TokenType
	Left  Expr
	Right Expr
}

func (*Binary) expr() {}

// Unary is a single-operand prefix expression, e.g. `not this.done`.
type Unary struct {
	Op      TokenType
	Operand Expr
}

func (*Unary) expr() {}

// CallStage is a bare function-invocation pipeline stage, e.g.
// `my_transform this.id` — the generic form a `let`-declared function
// takes when used as a stage rather than an inline expression. split()
// expands it inline using the matching LetDecl before compilation.
type CallStage struct {
	Call *Call
}

func (*CallStage) stage() {}
