// Package ast holds the parsed form of condition expressions and
// evaluates it against a candidate document.
package ast

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/okvist/granary/internal/avutil"
	gerrors "github.com/okvist/granary/errors"
)

// Input is the evaluation context. Document is nil when the target
// item does not exist. Names and Values are keyed with their sigils
// ("#n", ":v"), the form the SDK produces.
type Input struct {
	Document map[string]types.AttributeValue
	Names    map[string]string
	Values   map[string]types.AttributeValue
}

// Condition is a parsed condition expression node.
type Condition interface {
	Eval(in Input) (bool, error)
}

// Operand yields a value during evaluation. The implementations form a
// closed set; evaluation is sealed inside this package.
type Operand interface {
	// resolve returns the operand's value, or ok=false when it names
	// an attribute the document does not carry.
	resolve(in Input) (av types.AttributeValue, ok bool, err error)
}

// Comparator is a comparison operator.
type Comparator string

const (
	CompareEqual          Comparator = "="
	CompareNotEqual       Comparator = "<>"
	CompareLess           Comparator = "<"
	CompareLessOrEqual    Comparator = "<="
	CompareGreater        Comparator = ">"
	CompareGreaterOrEqual Comparator = ">="
)

// ArithmeticOperator combines two numeric operands.
type ArithmeticOperator string

const (
	ArithmeticAdd      ArithmeticOperator = "+"
	ArithmeticSubtract ArithmeticOperator = "-"
	ArithmeticMultiply ArithmeticOperator = "*"
	ArithmeticDivide   ArithmeticOperator = "/"
)

// LogicalOperator joins the terms of a flat chain.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Path names an attribute, either directly or through a name
// placeholder.
type Path struct {
	Name  string
	Alias string
}

// AttributeName resolves the path against the name map.
func (p Path) AttributeName(in Input) (string, error) {
	if p.Alias == "" {
		return p.Name, nil
	}
	name, ok := in.Names["#"+p.Alias]
	if !ok {
		return "", gerrors.NewValidationError("name placeholder #%s is not defined", p.Alias)
	}
	return name, nil
}

// PathOperand reads an attribute off the document.
type PathOperand struct {
	Path Path
}

func (o PathOperand) resolve(in Input) (types.AttributeValue, bool, error) {
	name, err := o.Path.AttributeName(in)
	if err != nil {
		return nil, false, err
	}
	av, ok := in.Document[name]
	if !ok {
		return nil, false, nil
	}
	return av, true, nil
}

// ValueOperand reads a value placeholder.
type ValueOperand struct {
	Alias string
}

func (o ValueOperand) resolve(in Input) (types.AttributeValue, bool, error) {
	av, ok := in.Values[":"+o.Alias]
	if !ok {
		return nil, false, gerrors.NewValidationError("value placeholder :%s is not defined", o.Alias)
	}
	return av, true, nil
}

// LiteralOperand is an inline literal.
type LiteralOperand struct {
	Value types.AttributeValue
}

func (o LiteralOperand) resolve(Input) (types.AttributeValue, bool, error) {
	return o.Value, true, nil
}

// ArithmeticOperand computes path op right. An absent attribute
// contributes 0; both sides must be numbers.
type ArithmeticOperand struct {
	Path  Path
	Op    ArithmeticOperator
	Right Operand
}

func (o ArithmeticOperand) resolve(in Input) (types.AttributeValue, bool, error) {
	left, err := numericTerm(PathOperand{Path: o.Path}, in)
	if err != nil {
		return nil, false, err
	}
	right, err := numericTerm(o.Right, in)
	if err != nil {
		return nil, false, err
	}
	var result float64
	switch o.Op {
	case ArithmeticAdd:
		result = left + right
	case ArithmeticSubtract:
		result = left - right
	case ArithmeticMultiply:
		result = left * right
	case ArithmeticDivide:
		if right == 0 {
			return nil, false, gerrors.NewValidationError("division by zero in condition")
		}
		result = left / right
	default:
		return nil, false, gerrors.NewValidationError("unknown arithmetic operator %q", o.Op)
	}
	return avutil.NumberAttr(result), true, nil
}

// numericTerm resolves an operand inside arithmetic: absent attributes
// count as 0, present values must be numbers.
func numericTerm(op Operand, in Input) (float64, error) {
	av, ok, err := op.resolve(in)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := avutil.Number(av)
	if err != nil {
		return 0, gerrors.NewValidationError("arithmetic needs numbers: %v", err)
	}
	return n, nil
}

// Comparison compares two operands.
type Comparison struct {
	Cmp   Comparator
	Left  Operand
	Right Operand
}

func (c *Comparison) Eval(in Input) (bool, error) {
	left, lok, err := c.Left.resolve(in)
	if err != nil {
		return false, err
	}
	right, rok, err := c.Right.resolve(in)
	if err != nil {
		return false, err
	}
	// A comparison against an attribute the document does not carry
	// is false, matching conditional-write semantics for <> as well.
	if !lok || !rok {
		return false, nil
	}
	switch c.Cmp {
	case CompareEqual:
		return avutil.Equal(left, right), nil
	case CompareNotEqual:
		return !avutil.Equal(left, right), nil
	}
	rel, err := avutil.Compare(left, right)
	if err != nil {
		return false, gerrors.NewValidationError("%v", err)
	}
	switch c.Cmp {
	case CompareLess:
		return rel < 0, nil
	case CompareLessOrEqual:
		return rel <= 0, nil
	case CompareGreater:
		return rel > 0, nil
	case CompareGreaterOrEqual:
		return rel >= 0, nil
	}
	return false, gerrors.NewValidationError("unknown comparator %q", c.Cmp)
}

// ExistsCheck implements attribute_exists and attribute_not_exists.
type ExistsCheck struct {
	Path   Path
	Negate bool
}

func (e *ExistsCheck) Eval(in Input) (bool, error) {
	name, err := e.Path.AttributeName(in)
	if err != nil {
		return false, err
	}
	_, present := in.Document[name]
	if e.Negate {
		return !present, nil
	}
	return present, nil
}

// ReferencedAttributes lists the attribute names a condition reads,
// with name placeholders resolved. Query filters use it to reject
// filters touching the key attributes of the queried index.
func ReferencedAttributes(c Condition, names map[string]string) ([]string, error) {
	in := Input{Names: names}
	seen := make(map[string]bool)
	var out []string
	add := func(p Path) error {
		name, err := p.AttributeName(in)
		if err != nil {
			return err
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
		return nil
	}
	var walkOperand func(op Operand) error
	walkOperand = func(op Operand) error {
		switch o := op.(type) {
		case PathOperand:
			return add(o.Path)
		case ArithmeticOperand:
			if err := add(o.Path); err != nil {
				return err
			}
			return walkOperand(o.Right)
		}
		return nil
	}
	var walk func(c Condition) error
	walk = func(c Condition) error {
		switch n := c.(type) {
		case *Comparison:
			if err := walkOperand(n.Left); err != nil {
				return err
			}
			return walkOperand(n.Right)
		case *ExistsCheck:
			return add(n.Path)
		case *Logical:
			for _, term := range n.Terms {
				if err := walk(term); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(c); err != nil {
		return nil, err
	}
	return out, nil
}

// Logical is a flat chain of terms joined by a single operator.
type Logical struct {
	Op    LogicalOperator
	Terms []Condition
}

func (l *Logical) Eval(in Input) (bool, error) {
	for _, term := range l.Terms {
		v, err := term.Eval(in)
		if err != nil {
			return false, err
		}
		if l.Op == LogicalAnd && !v {
			return false, nil
		}
		if l.Op == LogicalOr && v {
			return true, nil
		}
	}
	return l.Op == LogicalAnd, nil
}
