// Package conditionexpr parses and evaluates condition expressions.
// The same language backs write conditions and query/scan filters.
//
// Supported forms: attribute_exists(path), attribute_not_exists(path),
// comparisons (=, <>, !=, <, <=, >, >=) between paths, placeholders
// and literals, an arithmetic left side (path [+-*/] operand), and one
// flat AND or OR chain. Everything else is a parse error.
package conditionexpr

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/okvist/granary/docstore/conditionexpr/ast"
	"github.com/okvist/granary/docstore/conditionexpr/parser"
)

// EvalInput carries the placeholder maps, keyed with their sigils the
// way the SDK builds them ("#n", ":v").
type EvalInput struct {
	ExpressionNames  map[string]string
	ExpressionValues map[string]types.AttributeValue
}

// Parse parses a condition expression without evaluating it.
func Parse(expr string) (ast.Condition, error) {
	return parser.Parse(expr)
}

// Eval parses expr and evaluates it against doc. A nil doc means the
// target item does not exist.
func Eval(expr string, in EvalInput, doc map[string]types.AttributeValue) (bool, error) {
	cond, err := parser.Parse(expr)
	if err != nil {
		return false, err
	}
	return cond.Eval(ast.Input{
		Document: doc,
		Names:    in.ExpressionNames,
		Values:   in.ExpressionValues,
	})
}
