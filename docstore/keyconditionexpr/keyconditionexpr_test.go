package keyconditionexpr

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okvist/granary/docstore/keyconditionexpr/ast"
	gerrors "github.com/okvist/granary/errors"
	"github.com/okvist/granary/table"
)

var stringKeys = table.PrimaryKeyDefinition{
	PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
	SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindS},
}

var numericSortKeys = table.PrimaryKeyDefinition{
	PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
	SortKey:      table.KeyDef{Name: "seq", Kind: table.KeyKindN},
}

var partitionOnlyKeys = table.PrimaryKeyDefinition{
	PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
}

func TestParse_PlanShapes(t *testing.T) {
	values := map[string]types.AttributeValue{
		":pk":     &types.AttributeValueMemberS{Value: "SUBJECT#ada"},
		":sk":     &types.AttributeValueMemberS{Value: "2026-03-02#G-1"},
		":prefix": &types.AttributeValueMemberS{Value: "2026-03-02#"},
	}
	names := map[string]string{"#p": "pk", "#s": "sk"}

	t.Run("partition scan", func(t *testing.T) {
		plan, err := Parse("pk = :pk", ParseParams{ExpressionValues: values, Keys: stringKeys})
		require.NoError(t, err)
		assert.Equal(t, ast.PartitionScan, plan.Kind)
		assert.Equal(t, &types.AttributeValueMemberS{Value: "SUBJECT#ada"}, plan.PartitionValue)
		assert.Nil(t, plan.SortValue)
	})

	t.Run("exact match", func(t *testing.T) {
		plan, err := Parse("pk = :pk AND sk = :sk", ParseParams{ExpressionValues: values, Keys: stringKeys})
		require.NoError(t, err)
		assert.Equal(t, ast.ExactMatch, plan.Kind)
		assert.Equal(t, &types.AttributeValueMemberS{Value: "2026-03-02#G-1"}, plan.SortValue)
	})

	t.Run("prefix match", func(t *testing.T) {
		plan, err := Parse("pk = :pk AND begins_with(sk, :prefix)", ParseParams{ExpressionValues: values, Keys: stringKeys})
		require.NoError(t, err)
		assert.Equal(t, ast.PrefixMatch, plan.Kind)
		assert.Equal(t, "2026-03-02#", plan.SortPrefix)
	})

	t.Run("value may sit on the left", func(t *testing.T) {
		plan, err := Parse(":pk = pk", ParseParams{ExpressionValues: values, Keys: stringKeys})
		require.NoError(t, err)
		assert.Equal(t, ast.PartitionScan, plan.Kind)
	})

	t.Run("predicate order does not matter", func(t *testing.T) {
		plan, err := Parse("begins_with(sk, :prefix) AND pk = :pk", ParseParams{ExpressionValues: values, Keys: stringKeys})
		require.NoError(t, err)
		assert.Equal(t, ast.PrefixMatch, plan.Kind)
	})

	t.Run("name placeholders", func(t *testing.T) {
		plan, err := Parse("#p = :pk AND begins_with(#s, :prefix)", ParseParams{
			ExpressionNames:  names,
			ExpressionValues: values,
			Keys:             stringKeys,
		})
		require.NoError(t, err)
		assert.Equal(t, ast.PrefixMatch, plan.Kind)
		assert.Equal(t, "2026-03-02#", plan.SortPrefix)
	})

	t.Run("string literal sort key", func(t *testing.T) {
		plan, err := Parse("pk = :pk AND sk = 'META'", ParseParams{ExpressionValues: values, Keys: stringKeys})
		require.NoError(t, err)
		assert.Equal(t, ast.ExactMatch, plan.Kind)
		assert.Equal(t, &types.AttributeValueMemberS{Value: "META"}, plan.SortValue)
	})

	t.Run("numeric literal sort key", func(t *testing.T) {
		plan, err := Parse("pk = :pk AND seq = -5", ParseParams{ExpressionValues: values, Keys: numericSortKeys})
		require.NoError(t, err)
		assert.Equal(t, ast.ExactMatch, plan.Kind)
		assert.Equal(t, &types.AttributeValueMemberN{Value: "-5"}, plan.SortValue)
	})
}

func TestParse_Rejections(t *testing.T) {
	parseCases := []struct {
		name string
		expr string
		msg  string
	}{
		{"OR", "pk = :pk OR sk = :sk", "OR is not supported"},
		{"three predicates", "pk = :pk AND sk = :sk AND grant = :g", "at most two predicates"},
		{"range operator", "pk = :pk AND sk < :sk", "only equality and begins_with"},
		{"not equals", "pk <> :pk", "only equality and begins_with"},
		{"BETWEEN", "sk BETWEEN :a AND :b", `expected "="`},
		{"leading BETWEEN", "BETWEEN :a AND :b", "BETWEEN is not supported"},
		{"two paths", "pk = sk", "not two paths"},
		{"two values", ":a = :b", "must name a key attribute"},
		{"foreign function", "size(pk) = :v", `function "size" is not supported`},
		{"exists check", "attribute_exists(pk)", `function "attribute_exists" is not supported`},
		{"begins_with on a value", "begins_with(:v, :prefix)", "must be a key attribute"},
		{"begins_with against a path", "begins_with(sk, pk)", "must be a value"},
		{"trailing garbage", "pk = :pk extra", "unexpected"},
		{"empty", "", "expected a key attribute or value"},
	}
	for _, tc := range parseCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.expr, ParseParams{Keys: stringKeys})
			require.Error(t, err)
			assert.True(t, gerrors.IsParse(err), "want parse error, got %v", err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}

	values := map[string]types.AttributeValue{
		":s": &types.AttributeValueMemberS{Value: "x"},
		":n": &types.AttributeValueMemberN{Value: "7"},
		":b": &types.AttributeValueMemberBOOL{Value: true},
	}
	bindCases := []struct {
		name string
		expr string
		keys table.PrimaryKeyDefinition
		msg  string
	}{
		{"sort key alone", "sk = :s", stringKeys, "must pin the partition key"},
		{"begins_with on the partition key", "begins_with(pk, :s)", stringKeys, "cannot apply to the partition key"},
		{"non-key attribute", "pk = :s AND grant = :s", stringKeys, "not a key of the queried index"},
		{"duplicate partition predicate", "pk = :s AND pk = :s", stringKeys, "duplicate predicate for partition key"},
		{"duplicate sort predicate", "sk = :s AND sk = :s", stringKeys, "duplicate predicate for sort key"},
		{"sort predicate on a sortless schema", "pk = :s AND sk = :s", partitionOnlyKeys, "not a key of the queried index"},
		{"partition kind mismatch", "pk = :n", stringKeys, "wants kind S"},
		{"sort kind mismatch", "pk = :s AND seq = :s", numericSortKeys, "wants kind N"},
		{"begins_with on a numeric sort key", "pk = :s AND begins_with(seq, :s)", numericSortKeys, "requires a string sort key"},
		{"begins_with with a numeric prefix", "pk = :s AND begins_with(sk, :n)", stringKeys, "requires a string prefix"},
		{"boolean key value", "pk = :b", stringKeys, "needs an S, N or B value"},
		{"undefined value placeholder", "pk = :nope", stringKeys, ":nope is not defined"},
		{"undefined name placeholder", "#nope = :s", stringKeys, "#nope is not defined"},
	}
	for _, tc := range bindCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.expr, ParseParams{ExpressionValues: values, Keys: tc.keys})
			require.Error(t, err)
			assert.True(t, gerrors.IsValidation(err), "want validation error, got %v", err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

// Key conditions built with the SDK expression builder parse as long as
// they stay a single predicate; its parenthesized composites do not.
func TestParse_ExpressionBuilder(t *testing.T) {
	t.Run("single key equality", func(t *testing.T) {
		built, err := expression.NewBuilder().
			WithKeyCondition(expression.Key("pk").Equal(expression.Value("SUBJECT#ada"))).
			Build()
		require.NoError(t, err)

		plan, err := Parse(*built.KeyCondition(), ParseParams{
			ExpressionNames:  built.Names(),
			ExpressionValues: built.Values(),
			Keys:             stringKeys,
		})
		require.NoError(t, err)
		assert.Equal(t, ast.PartitionScan, plan.Kind)
		assert.Equal(t, &types.AttributeValueMemberS{Value: "SUBJECT#ada"}, plan.PartitionValue)
	})

	t.Run("composite stays outside the language", func(t *testing.T) {
		kc := expression.Key("pk").Equal(expression.Value("SUBJECT#ada")).
			And(expression.Key("sk").BeginsWith("2026-03-02#"))
		built, err := expression.NewBuilder().WithKeyCondition(kc).Build()
		require.NoError(t, err)

		_, err = Parse(*built.KeyCondition(), ParseParams{
			ExpressionNames:  built.Names(),
			ExpressionValues: built.Values(),
			Keys:             stringKeys,
		})
		require.Error(t, err)
		assert.True(t, gerrors.IsParse(err))
	})
}
