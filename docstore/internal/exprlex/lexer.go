// Package exprlex tokenizes the granary expression languages. The
// condition, key-condition and update languages share one token set;
// each parser decides which tokens it accepts.
package exprlex

import (
	"strings"

	gerrors "github.com/okvist/granary/errors"
)

// Kind classifies a token.
type Kind int

const (
	EOF Kind = iota
	Ident
	NamePlaceholder
	ValuePlaceholder
	String
	Number
	Equals
	NotEquals
	Less
	LessOrEqual
	Greater
	GreaterOrEqual
	Plus
	Minus
	Star
	Slash
	LParen
	RParen
	Comma
)

var kindNames = map[Kind]string{
	EOF:              "end of expression",
	Ident:            "identifier",
	NamePlaceholder:  "name placeholder",
	ValuePlaceholder: "value placeholder",
	String:           "string literal",
	Number:           "number literal",
	Equals:           `"="`,
	NotEquals:        `"<>"`,
	Less:             `"<"`,
	LessOrEqual:      `"<="`,
	Greater:          `">"`,
	GreaterOrEqual:   `">="`,
	Plus:             `"+"`,
	Minus:            `"-"`,
	Star:             `"*"`,
	Slash:            `"/"`,
	LParen:           `"("`,
	RParen:           `")"`,
	Comma:            `","`,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown token"
}

// Token is one lexical element. Text carries the decoded value for
// String tokens, the alias without its sigil for placeholders, and the
// source text otherwise. Pos is the byte offset of the first source
// character.
type Token struct {
	Kind Kind
	Text string
	Pos  int
}

// Describe renders a token for error messages.
func (t Token) Describe() string {
	switch t.Kind {
	case EOF:
		return "end of expression"
	case String:
		return `"` + t.Text + `"`
	case NamePlaceholder:
		return "#" + t.Text
	case ValuePlaceholder:
		return ":" + t.Text
	default:
		return `"` + t.Text + `"`
	}
}

// IsKeyword reports whether the token is the given keyword, compared
// case-insensitively. Keywords are ordinary identifiers to the lexer.
func (t Token) IsKeyword(word string) bool {
	return t.Kind == Ident && strings.EqualFold(t.Text, word)
}

// Scan tokenizes input. A trailing EOF token is always appended, so
// parsers can peek without bounds checks. Errors are parse errors
// positioned at the offending byte.
func Scan(input string) ([]Token, error) {
	var toks []Token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isIdentStart(c):
			start := i
			for i < len(input) && isIdentPart(input[i]) {
				i++
			}
			toks = append(toks, Token{Kind: Ident, Text: input[start:i], Pos: start})
		case c == '#' || c == ':':
			start := i
			i++
			for i < len(input) && isIdentPart(input[i]) {
				i++
			}
			if i == start+1 {
				return nil, gerrors.NewParseError(input, start, "empty placeholder %q", string(c))
			}
			kind := NamePlaceholder
			if c == ':' {
				kind = ValuePlaceholder
			}
			toks = append(toks, Token{Kind: kind, Text: input[start+1 : i], Pos: start})
		case c == '"' || c == '\'':
			text, next, err := scanString(input, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, Token{Kind: String, Text: text, Pos: i})
			i = next
		case c >= '0' && c <= '9':
			start := i
			i = scanNumber(input, i)
			toks = append(toks, Token{Kind: Number, Text: input[start:i], Pos: start})
		default:
			tok, next, err := scanOperator(input, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i = next
		}
	}
	return append(toks, Token{Kind: EOF, Pos: len(input)}), nil
}

func scanString(input string, start int) (string, int, error) {
	quote := input[start]
	var b strings.Builder
	i := start + 1
	for i < len(input) {
		c := input[i]
		switch c {
		case quote:
			return b.String(), i + 1, nil
		case '\\':
			if i+1 >= len(input) {
				return "", 0, gerrors.NewParseError(input, i, "dangling escape")
			}
			next := input[i+1]
			if next != quote && next != '\\' {
				return "", 0, gerrors.NewParseError(input, i, "unsupported escape %q", string(next))
			}
			b.WriteByte(next)
			i += 2
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, gerrors.NewParseError(input, start, "unterminated string literal")
}

func scanNumber(input string, i int) int {
	for i < len(input) && input[i] >= '0' && input[i] <= '9' {
		i++
	}
	if i < len(input) && input[i] == '.' {
		i++
		for i < len(input) && input[i] >= '0' && input[i] <= '9' {
			i++
		}
	}
	if i < len(input) && (input[i] == 'e' || input[i] == 'E') {
		j := i + 1
		if j < len(input) && (input[j] == '+' || input[j] == '-') {
			j++
		}
		if j < len(input) && input[j] >= '0' && input[j] <= '9' {
			for j < len(input) && input[j] >= '0' && input[j] <= '9' {
				j++
			}
			i = j
		}
	}
	return i
}

func scanOperator(input string, i int) (Token, int, error) {
	two := ""
	if i+1 < len(input) {
		two = input[i : i+2]
	}
	switch two {
	case "<>":
		return Token{Kind: NotEquals, Text: "<>", Pos: i}, i + 2, nil
	case "!=":
		return Token{Kind: NotEquals, Text: "!=", Pos: i}, i + 2, nil
	case "<=":
		return Token{Kind: LessOrEqual, Text: "<=", Pos: i}, i + 2, nil
	case ">=":
		return Token{Kind: GreaterOrEqual, Text: ">=", Pos: i}, i + 2, nil
	}
	var kind Kind
	switch input[i] {
	case '=':
		kind = Equals
	case '<':
		kind = Less
	case '>':
		kind = Greater
	case '+':
		kind = Plus
	case '-':
		kind = Minus
	case '*':
		kind = Star
	case '/':
		kind = Slash
	case '(':
		kind = LParen
	case ')':
		kind = RParen
	case ',':
		kind = Comma
	default:
		return Token{}, 0, gerrors.NewParseError(input, i, "unexpected character %q", string(input[i]))
	}
	return Token{Kind: kind, Text: input[i : i+1], Pos: i}, i + 1, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
