// Package parser turns condition expression source into an AST. The
// language is deliberately small; everything outside it is a parse
// error, so an unsupported expression can never evaluate to true.
package parser

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/okvist/granary/docstore/conditionexpr/ast"
	"github.com/okvist/granary/docstore/internal/exprlex"
	gerrors "github.com/okvist/granary/errors"
)

// Parse parses a condition expression.
func Parse(input string) (ast.Condition, error) {
	toks, err := exprlex.Scan(input)
	if err != nil {
		return nil, err
	}
	p := &parser{input: input, toks: toks}
	cond, err := p.parseChain()
	if err != nil {
		return nil, err
	}
	if p.peek().Kind != exprlex.EOF {
		return nil, p.failf("unexpected %s after condition", p.peek().Describe())
	}
	return cond, nil
}

type parser struct {
	input string
	toks  []exprlex.Token
	pos   int
}

func (p *parser) peek() exprlex.Token {
	return p.toks[p.pos]
}

func (p *parser) peekAhead(n int) exprlex.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
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

// parseChain parses term {(AND|OR) term}. One expression uses one
// logical operator; mixing the two requires grouping, which the
// language does not have.
func (p *parser) parseChain() (ast.Condition, error) {
	first, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	terms := []ast.Condition{first}
	var op ast.LogicalOperator
	for {
		t := p.peek()
		var next ast.LogicalOperator
		switch {
		case t.IsKeyword("AND"):
			next = ast.LogicalAnd
		case t.IsKeyword("OR"):
			next = ast.LogicalOr
		default:
			if len(terms) == 1 {
				return first, nil
			}
			return &ast.Logical{Op: op, Terms: terms}, nil
		}
		if op == "" {
			op = next
		} else if op != next {
			return nil, p.failf("mixed AND/OR chains are not supported")
		}
		p.next()
		term, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
}

func (p *parser) parseTerm() (ast.Condition, error) {
	t := p.peek()
	switch {
	case t.Kind == exprlex.LParen:
		return nil, p.failf("grouped conditions are not supported")
	case t.IsKeyword("NOT"):
		return nil, p.failf("NOT is not supported")
	case t.IsKeyword("BETWEEN") || t.IsKeyword("IN"):
		return nil, p.failf("%s is not supported", strings.ToUpper(t.Text))
	case t.Kind == exprlex.Ident && p.peekAhead(1).Kind == exprlex.LParen:
		return p.parseFunction()
	}
	return p.parseComparison()
}

func (p *parser) parseFunction() (ast.Condition, error) {
	name := p.peek()
	var negate bool
	switch name.Text {
	case "attribute_exists":
		negate = false
	case "attribute_not_exists":
		negate = true
	default:
		return nil, p.failf("function %q is not supported", name.Text)
	}
	p.next()
	p.next() // consumes the open paren checked by the caller
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	if p.peek().Kind != exprlex.RParen {
		return nil, p.failf("expected \")\" after %s argument, got %s", name.Text, p.peek().Describe())
	}
	p.next()
	return &ast.ExistsCheck{Path: path, Negate: negate}, nil
}

func (p *parser) parseComparison() (ast.Condition, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if arith, ok := arithmeticOperator(p.peek()); ok {
		pathOp, isPath := left.(ast.PathOperand)
		if !isPath {
			return nil, p.failf("the left side of arithmetic must be an attribute path")
		}
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		left = ast.ArithmeticOperand{Path: pathOp.Path, Op: arith, Right: right}
	}
	cmp, err := p.parseComparator()
	if err != nil {
		return nil, err
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if _, ok := arithmeticOperator(p.peek()); ok {
		return nil, p.failf("arithmetic is only supported on the left side of a comparison")
	}
	return &ast.Comparison{Cmp: cmp, Left: left, Right: right}, nil
}

func (p *parser) parseComparator() (ast.Comparator, error) {
	t := p.peek()
	switch {
	case t.IsKeyword("BETWEEN") || t.IsKeyword("IN"):
		return "", p.failf("%s is not supported", strings.ToUpper(t.Text))
	}
	var cmp ast.Comparator
	switch t.Kind {
	case exprlex.Equals:
		cmp = ast.CompareEqual
	case exprlex.NotEquals:
		cmp = ast.CompareNotEqual
	case exprlex.Less:
		cmp = ast.CompareLess
	case exprlex.LessOrEqual:
		cmp = ast.CompareLessOrEqual
	case exprlex.Greater:
		cmp = ast.CompareGreater
	case exprlex.GreaterOrEqual:
		cmp = ast.CompareGreaterOrEqual
	default:
		return "", p.failf("expected a comparison operator, got %s", t.Describe())
	}
	p.next()
	return cmp, nil
}

func (p *parser) parseOperand() (ast.Operand, error) {
	t := p.peek()
	switch t.Kind {
	case exprlex.Ident:
		if t.IsKeyword("AND") || t.IsKeyword("OR") || t.IsKeyword("NOT") {
			return nil, p.failf("expected an operand, got %s", t.Describe())
		}
		if t.Text == "true" || t.Text == "false" {
			p.next()
			return ast.LiteralOperand{Value: &types.AttributeValueMemberBOOL{Value: t.Text == "true"}}, nil
		}
		if p.peekAhead(1).Kind == exprlex.LParen {
			return nil, p.failf("function %q is not supported here", t.Text)
		}
		p.next()
		return ast.PathOperand{Path: ast.Path{Name: t.Text}}, nil
	case exprlex.NamePlaceholder:
		p.next()
		return ast.PathOperand{Path: ast.Path{Alias: t.Text}}, nil
	case exprlex.ValuePlaceholder:
		p.next()
		return ast.ValueOperand{Alias: t.Text}, nil
	case exprlex.String:
		p.next()
		return ast.LiteralOperand{Value: &types.AttributeValueMemberS{Value: t.Text}}, nil
	case exprlex.Number:
		p.next()
		return ast.LiteralOperand{Value: &types.AttributeValueMemberN{Value: t.Text}}, nil
	case exprlex.Minus:
		if p.peekAhead(1).Kind != exprlex.Number {
			return nil, p.failf("expected a number after \"-\"")
		}
		p.next()
		num := p.next()
		return ast.LiteralOperand{Value: &types.AttributeValueMemberN{Value: "-" + num.Text}}, nil
	}
	return nil, p.failf("expected an operand, got %s", t.Describe())
}

// parsePath accepts an attribute name or a name placeholder. Nested
// paths (dots, list indexes) are not part of the language.
func (p *parser) parsePath() (ast.Path, error) {
	t := p.peek()
	switch t.Kind {
	case exprlex.Ident:
		p.next()
		return ast.Path{Name: t.Text}, nil
	case exprlex.NamePlaceholder:
		p.next()
		return ast.Path{Alias: t.Text}, nil
	}
	return ast.Path{}, p.failf("expected an attribute path, got %s", t.Describe())
}

func arithmeticOperator(t exprlex.Token) (ast.ArithmeticOperator, bool) {
	switch t.Kind {
	case exprlex.Plus:
		return ast.ArithmeticAdd, true
	case exprlex.Minus:
		return ast.ArithmeticSubtract, true
	case exprlex.Star:
		return ast.ArithmeticMultiply, true
	case exprlex.Slash:
		return ast.ArithmeticDivide, true
	}
	return "", false
}
