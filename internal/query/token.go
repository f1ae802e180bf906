// Package query implements the Transform Pipeline and Query+Render
// Split: a hand-rolled parser for a small PRQL subset (pipelines of
// `from`/`select`/`derive`/`append`/`render`, plus `let` function
// definitions), the Pl/Rq rewrite passes, and the
// split/extract_row_templates/to_render_spec contract.
//
// The token.Type enum shape (an iota block plus a tokenNames/keywords
// map pair and a String method) is grounded on
// ha1tch-tsqlparser/token/token.go; the keyword-lookup-by-map idiom is
// grounded on freeeve-machparse/token/keywords.go. No PRQL parser
// exists anywhere in the retrieved examples or as a well-known Go
// module, and the full PRQL grammar is intentionally out of scope
// here — see DESIGN.md for why this one component is built on the
// standard library alone.
package query

// TokenType discriminates the lexical token kinds of the PRQL subset.
type TokenType int

const (
	ILLEGAL TokenType = iota
	EOF

	IDENT
	INT
	FLOAT
	STRING

	PIPE     // |
	LBRACE   // {
	RBRACE   // }
	LPAREN   // (
	RPAREN   // )
	COMMA    // ,
	DOT      // .
	ASSIGN   // =
	ARROW    // ->
	STAR     // *
	PLUS     // +
	MINUS    // -
	SLASH    // /
	EQ       // ==
	NEQ      // !=
	GT       // >
	LT       // <
	GTE      // >=
	LTE      // <=

	keywordBeg
	FROM
	SELECT
	DERIVE
	APPEND
	LET
	THIS
	NULL
	TRUE
	FALSE
	AND
	OR
	NOT
	keywordEnd
)

var tokenNames = map[TokenType]string{
	ILLEGAL: "ILLEGAL", EOF: "EOF", IDENT: "IDENT", INT: "INT", FLOAT: "FLOAT", STRING: "STRING",
	PIPE: "|", LBRACE: "{", RBRACE: "}", LPAREN: "(", RPAREN: ")", COMMA: ",", DOT: ".",
	ASSIGN: "=", ARROW: "->", STAR: "*", PLUS: "+", MINUS: "-", SLASH: "/",
	EQ: "==", NEQ: "!=", GT: ">", LT: "<", GTE: ">=", LTE: "<=",
	FROM: "from", SELECT: "select", DERIVE: "derive", APPEND: "append", LET: "let",
	THIS: "this", NULL: "null", TRUE: "true", FALSE: "false", AND: "and", OR: "or", NOT: "not",
}

var keywords = map[string]TokenType{
	"from": FROM, "select": SELECT, "derive": DERIVE, "append": APPEND, "let": LET,
	"this": THIS, "null": NULL, "true": TRUE, "false": FALSE, "and": AND, "or": OR, "not": NOT,
}

// String renders a token type's canonical source spelling, falling
// back to its symbolic name for tokens with no fixed spelling.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// LookupIdent classifies a scanned identifier as a keyword or a plain
// IDENT.
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return IDENT
}

// IsKeyword reports whether t is one of the reserved words.
func (t TokenType) IsKeyword() bool { return t > keywordBeg && t < keywordEnd }

// Token is one scanned lexical unit with its source position.
type Token struct {
	Type    TokenType
	Literal string
	Line    int
	Column  int
}
