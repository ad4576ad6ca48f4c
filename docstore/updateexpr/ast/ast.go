// Package ast holds parsed update expressions and applies them to a
// base document.
package ast

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/okvist/granary/internal/avutil"
	gerrors "github.com/okvist/granary/errors"
)

// Input is the application context. Document is the item as it exists
// before the update; every operand resolves against that original
// state, not against earlier assignments of the same expression.
type Input struct {
	Document map[string]types.AttributeValue
	Names    map[string]string
	Values   map[string]types.AttributeValue
}

// UpdateExpression is a parsed SET expression.
type UpdateExpression struct {
	Assignments []Assignment
}

// Assignment sets one attribute.
type Assignment struct {
	Path  Path
	Value Value
}

// Path names an attribute, directly or through a name placeholder.
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

// Value is the right side of an assignment: a plain operand or a two
// operand sum/difference.
type Value interface {
	eval(in Input) (types.AttributeValue, error)
}

// OperandValue assigns an operand's value directly.
type OperandValue struct {
	Operand Operand
}

func (v OperandValue) eval(in Input) (types.AttributeValue, error) {
	av, ok, err := v.Operand.resolve(in)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, gerrors.NewValidationError("assignment reads an attribute the item does not carry")
	}
	return av, nil
}

// Arithmetic assigns left op right. Operands must be numeric; an
// attribute the item does not carry contributes 0.
type Arithmetic struct {
	Left  Operand
	Op    ArithmeticOperator
	Right Operand
}

// ArithmeticOperator is + or -.
type ArithmeticOperator string

const (
	Add      ArithmeticOperator = "+"
	Subtract ArithmeticOperator = "-"
)

func (v Arithmetic) eval(in Input) (types.AttributeValue, error) {
	left, err := numericTerm(v.Left, in)
	if err != nil {
		return nil, err
	}
	right, err := numericTerm(v.Right, in)
	if err != nil {
		return nil, err
	}
	switch v.Op {
	case Add:
		return avutil.NumberAttr(left + right), nil
	case Subtract:
		return avutil.NumberAttr(left - right), nil
	}
	return nil, gerrors.NewValidationError("unknown update operator %q", v.Op)
}

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
		return 0, gerrors.NewValidationError("update arithmetic needs numbers: %v", err)
	}
	return n, nil
}

// Operand yields a value: an attribute read, a value placeholder, or a
// numeric literal. The set is closed.
type Operand interface {
	resolve(in Input) (av types.AttributeValue, ok bool, err error)
}

// PathOperand reads the current value of an attribute.
type PathOperand struct {
	Path Path
}

func (o PathOperand) resolve(in Input) (types.AttributeValue, bool, error) {
	name, err := o.Path.AttributeName(in)
	if err != nil {
		return nil, false, err
	}
	av, ok := in.Document[name]
	return av, ok, nil
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

// NumberOperand is an inline numeric literal.
type NumberOperand struct {
	Source string
}

func (o NumberOperand) resolve(Input) (types.AttributeValue, bool, error) {
	return &types.AttributeValueMemberN{Value: o.Source}, true, nil
}

// Apply evaluates every assignment against the original document and
// returns a new document with the results set. Assigning the same
// attribute twice in one expression is an error.
func (u *UpdateExpression) Apply(in Input) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(in.Document)+len(u.Assignments))
	for k, v := range in.Document {
		out[k] = v
	}
	assigned := make(map[string]bool, len(u.Assignments))
	for _, a := range u.Assignments {
		name, err := a.Path.AttributeName(in)
		if err != nil {
			return nil, err
		}
		if assigned[name] {
			return nil, gerrors.NewValidationError("attribute %q is assigned twice", name)
		}
		assigned[name] = true
		av, err := a.Value.eval(in)
		if err != nil {
			return nil, err
		}
		out[name] = av
	}
	return out, nil
}
