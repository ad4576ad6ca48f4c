// Package keyconditionexpr plans key condition expressions. A key
// condition resolves to exactly one of three shapes: a partition scan,
// an exact key match, or a sort-key prefix match.
package keyconditionexpr

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/okvist/granary/docstore/keyconditionexpr/ast"
	"github.com/okvist/granary/docstore/keyconditionexpr/parser"
	"github.com/okvist/granary/table"
)

// ParseParams carries the placeholder maps and the key schema of the
// table or index being queried.
type ParseParams struct {
	ExpressionNames  map[string]string
	ExpressionValues map[string]types.AttributeValue
	Keys             table.PrimaryKeyDefinition
}

// Parse parses the key condition and binds it to the schema, yielding
// the query plan. Malformed or unsupported conditions fail; they never
// fall back to a broader scan.
func Parse(expr string, params ParseParams) (*ast.Plan, error) {
	kc, err := parser.Parse(expr)
	if err != nil {
		return nil, err
	}
	return kc.Bind(ast.BindInput{
		Names:  params.ExpressionNames,
		Values: params.ExpressionValues,
		Keys:   params.Keys,
	})
}
