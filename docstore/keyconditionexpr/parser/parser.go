// Package parser turns key condition source into its AST. Only the
// shapes the planner can serve survive parsing: an equality on one key,
// optionally ANDed with an equality or begins_with on a second key.
package parser

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/okvist/granary/docstore/internal/exprlex"
	"github.com/okvist/granary/docstore/keyconditionexpr/ast"
	gerrors "github.com/okvist/granary/errors"
)

// Parse parses a key condition expression.
func Parse(input string) (*ast.KeyCondition, error) {
	toks, err := exprlex.Scan(input)
	if err != nil {
		return nil, err
	}
	p := &parser{input: input, toks: toks}
	first, err := p.parsePredicate()
	if err != nil {
		return nil, err
	}
	kc := &ast.KeyCondition{Predicates: []ast.Predicate{first}}
	if p.peek().IsKeyword("OR") {
		return nil, p.failf("OR is not supported in key conditions")
	}
	if p.peek().IsKeyword("AND") {
		p.next()
		second, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		kc.Predicates = append(kc.Predicates, second)
	}
	switch t := p.peek(); {
	case t.Kind == exprlex.EOF:
	case t.IsKeyword("AND"):
		return nil, p.failf("a key condition has at most two predicates")
	default:
		return nil, p.failf("unexpected %s after key condition", t.Describe())
	}
	return kc, nil
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

// parsePredicate accepts path = value, value = path, or
// begins_with(path, value).
func (p *parser) parsePredicate() (ast.Predicate, error) {
	t := p.peek()
	if t.Kind == exprlex.Ident && t.Text == "begins_with" {
		return p.parseBeginsWith()
	}
	if t.Kind == exprlex.Ident && p.lookaheadIsParen() {
		return ast.Predicate{}, p.failf("function %q is not supported in key conditions", t.Text)
	}
	if t.IsKeyword("BETWEEN") {
		return ast.Predicate{}, p.failf("BETWEEN is not supported in key conditions")
	}
	left, leftIsPath, err := p.parseSide()
	if err != nil {
		return ast.Predicate{}, err
	}
	switch op := p.peek(); op.Kind {
	case exprlex.Equals:
		p.next()
	case exprlex.Less, exprlex.LessOrEqual, exprlex.Greater, exprlex.GreaterOrEqual, exprlex.NotEquals:
		return ast.Predicate{}, p.failf("only equality and begins_with are supported on keys, got %s", op.Describe())
	default:
		return ast.Predicate{}, p.failf("expected \"=\", got %s", op.Describe())
	}
	right, rightIsPath, err := p.parseSide()
	if err != nil {
		return ast.Predicate{}, err
	}
	switch {
	case leftIsPath && rightIsPath:
		return ast.Predicate{}, p.failf("a key predicate compares a key to a value, not two paths")
	case !leftIsPath && !rightIsPath:
		return ast.Predicate{}, p.failf("a key predicate must name a key attribute")
	case leftIsPath:
		return ast.Predicate{Path: left.path, Value: right.value}, nil
	default:
		return ast.Predicate{Path: right.path, Value: left.value}, nil
	}
}

func (p *parser) parseBeginsWith() (ast.Predicate, error) {
	p.next()
	if p.peek().Kind != exprlex.LParen {
		return ast.Predicate{}, p.failf("expected \"(\" after begins_with")
	}
	p.next()
	side, isPath, err := p.parseSide()
	if err != nil {
		return ast.Predicate{}, err
	}
	if !isPath {
		return ast.Predicate{}, p.failf("the first begins_with argument must be a key attribute")
	}
	if p.peek().Kind != exprlex.Comma {
		return ast.Predicate{}, p.failf("expected \",\" in begins_with, got %s", p.peek().Describe())
	}
	p.next()
	prefix, prefixIsPath, err := p.parseSide()
	if err != nil {
		return ast.Predicate{}, err
	}
	if prefixIsPath {
		return ast.Predicate{}, p.failf("the second begins_with argument must be a value")
	}
	if p.peek().Kind != exprlex.RParen {
		return ast.Predicate{}, p.failf("expected \")\" after begins_with arguments")
	}
	p.next()
	return ast.Predicate{Path: side.path, Prefix: true, Value: prefix.value}, nil
}

type side struct {
	path  ast.Path
	value ast.Operand
}

func (p *parser) parseSide() (side, bool, error) {
	t := p.peek()
	switch t.Kind {
	case exprlex.Ident:
		if t.IsKeyword("AND") || t.IsKeyword("OR") || t.IsKeyword("NOT") {
			return side{}, false, p.failf("expected a key attribute or value, got %s", t.Describe())
		}
		p.next()
		return side{path: ast.Path{Name: t.Text}}, true, nil
	case exprlex.NamePlaceholder:
		p.next()
		return side{path: ast.Path{Alias: t.Text}}, true, nil
	case exprlex.ValuePlaceholder:
		p.next()
		return side{value: ast.Operand{ValueAlias: t.Text}}, false, nil
	case exprlex.String:
		p.next()
		return side{value: ast.Operand{Literal: &types.AttributeValueMemberS{Value: t.Text}}}, false, nil
	case exprlex.Number:
		p.next()
		return side{value: ast.Operand{Literal: &types.AttributeValueMemberN{Value: t.Text}}}, false, nil
	case exprlex.Minus:
		p.next()
		if p.peek().Kind != exprlex.Number {
			return side{}, false, p.failf("expected a number after \"-\"")
		}
		num := p.next()
		return side{value: ast.Operand{Literal: &types.AttributeValueMemberN{Value: "-" + num.Text}}}, false, nil
	}
	return side{}, false, p.failf("expected a key attribute or value, got %s", t.Describe())
}

func (p *parser) lookaheadIsParen() bool {
	if p.pos+1 >= len(p.toks) {
		return false
	}
	return p.toks[p.pos+1].Kind == exprlex.LParen
}
