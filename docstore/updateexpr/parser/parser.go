// Package parser turns update expression source into its AST. The
// language is SET-only: REMOVE, ADD and DELETE are rejected by name,
// everything else unparsed is rejected too.
package parser

import (
	"strings"

	"github.com/okvist/granary/docstore/internal/exprlex"
	"github.com/okvist/granary/docstore/updateexpr/ast"
	gerrors "github.com/okvist/granary/errors"
)

// Parse parses an update expression.
func Parse(input string) (*ast.UpdateExpression, error) {
	toks, err := exprlex.Scan(input)
	if err != nil {
		return nil, err
	}
	p := &parser{input: input, toks: toks}
	t := p.peek()
	switch {
	case t.IsKeyword("SET"):
		p.next()
	case isForeignClause(t):
		return nil, p.failf("%s is not supported, only SET is", strings.ToUpper(t.Text))
	default:
		return nil, p.failf("update expressions must start with SET")
	}
	expr := &ast.UpdateExpression{}
	for {
		a, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		expr.Assignments = append(expr.Assignments, a)
		if p.peek().Kind != exprlex.Comma {
			break
		}
		p.next()
	}
	switch t := p.peek(); {
	case t.Kind == exprlex.EOF:
	case isForeignClause(t):
		return nil, p.failf("%s is not supported, only SET is", strings.ToUpper(t.Text))
	default:
		return nil, p.failf("unexpected %s after assignments", t.Describe())
	}
	return expr, nil
}

func isForeignClause(t exprlex.Token) bool {
	return t.IsKeyword("REMOVE") || t.IsKeyword("ADD") || t.IsKeyword("DELETE")
}

type parser struct {
	input string
	toks  []exprlex.Token
	pos   int
}

func (p *parser) peek() exprlex.Token {
	return p.toks[p.pos]
}

func (p *parser) next() exprlex.Token {
	t := p.toks[p.pos]
	if t.Kind != exprlex.EOF {
		p.pos++
	}
	return t
}

func (p *parser) failf(format string, args ...any) error {
	return gerrors.NewParseError(p.input, p.peek().Pos, format, args...)
}

func (p *parser) parseAssignment() (ast.Assignment, error) {
	path, err := p.parsePath()
	if err != nil {
		return ast.Assignment{}, err
	}
	if p.peek().Kind != exprlex.Equals {
		return ast.Assignment{}, p.failf("expected \"=\" after %q", pathText(path))
	}
	p.next()
	value, err := p.parseValue()
	if err != nil {
		return ast.Assignment{}, err
	}
	return ast.Assignment{Path: path, Value: value}, nil
}

func (p *parser) parseValue() (ast.Value, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	switch t := p.peek(); t.Kind {
	case exprlex.Plus, exprlex.Minus:
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		op := ast.Add
		if t.Kind == exprlex.Minus {
			op = ast.Subtract
		}
		if k := p.peek().Kind; k == exprlex.Plus || k == exprlex.Minus || k == exprlex.Star || k == exprlex.Slash {
			return nil, p.failf("update arithmetic takes exactly two operands")
		}
		return ast.Arithmetic{Left: left, Op: op, Right: right}, nil
	case exprlex.Star, exprlex.Slash:
		return nil, p.failf("only + and - are supported in update expressions")
	}
	return ast.OperandValue{Operand: left}, nil
}

func (p *parser) parseOperand() (ast.Operand, error) {
	t := p.peek()
	switch t.Kind {
	case exprlex.Ident:
		if t.IsKeyword("SET") || isForeignClause(t) {
			return nil, p.failf("expected an operand, got %s", t.Describe())
		}
		if p.toks[p.pos+1].Kind == exprlex.LParen {
			return nil, p.failf("function %q is not supported in update expressions", t.Text)
		}
		p.next()
		return ast.PathOperand{Path: ast.Path{Name: t.Text}}, nil
	case exprlex.NamePlaceholder:
		p.next()
		return ast.PathOperand{Path: ast.Path{Alias: t.Text}}, nil
	case exprlex.ValuePlaceholder:
		p.next()
		return ast.ValueOperand{Alias: t.Text}, nil
	case exprlex.Number:
		p.next()
		return ast.NumberOperand{Source: t.Text}, nil
	case exprlex.Minus:
		p.next()
		if p.peek().Kind != exprlex.Number {
			return nil, p.failf("expected a number after \"-\"")
		}
		num := p.next()
		return ast.NumberOperand{Source: "-" + num.Text}, nil
	case exprlex.String:
		return nil, p.failf("string literals are not supported in update expressions, pass a value placeholder")
	}
	return nil, p.failf("expected an operand, got %s", t.Describe())
}

func (p *parser) parsePath() (ast.Path, error) {
	t := p.peek()
	switch t.Kind {
	case exprlex.Ident:
		if t.IsKeyword("SET") || isForeignClause(t) {
			return ast.Path{}, p.failf("expected an attribute path, got %s", t.Describe())
		}
		p.next()
		return ast.Path{Name: t.Text}, nil
	case exprlex.NamePlaceholder:
		p.next()
		return ast.Path{Alias: t.Text}, nil
	}
	return ast.Path{}, p.failf("expected an attribute path, got %s", t.Describe())
}

func pathText(p ast.Path) string {
	if p.Alias != "" {
		return "#" + p.Alias
	}
	return p.Name
}
