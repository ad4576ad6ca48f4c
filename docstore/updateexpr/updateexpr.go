// Package updateexpr parses and applies SET-only update expressions.
//
// An expression is "SET path = value" with further assignments joined
// by commas. A value is an operand or "operand (+|-) operand"; operands
// resolve through name placeholders, value placeholders, numeric
// literals, and finally the item's current attributes, which count as 0
// inside arithmetic when absent. REMOVE, ADD and DELETE are rejected.
package updateexpr

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/okvist/granary/docstore/updateexpr/ast"
	"github.com/okvist/granary/docstore/updateexpr/parser"
)

// EvalInput carries the placeholder maps, keyed with their sigils
// ("#n", ":v").
type EvalInput struct {
	ExpressionNames  map[string]string
	ExpressionValues map[string]types.AttributeValue
}

// Parse parses an update expression without applying it.
func Parse(expr string) (*ast.UpdateExpression, error) {
	return parser.Parse(expr)
}

// Apply evaluates a parsed expression against the base document and
// returns the updated copy. The base is never mutated; operands see
// the base as it was, not earlier assignments.
func Apply(expr *ast.UpdateExpression, in EvalInput, base map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	return expr.Apply(ast.Input{
		Document: base,
		Names:    in.ExpressionNames,
		Values:   in.ExpressionValues,
	})
}
