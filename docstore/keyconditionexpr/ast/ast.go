// Package ast holds parsed key conditions and binds them against a
// key schema into one of the three query plan shapes.
package ast

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/okvist/granary/errors"
	"github.com/okvist/granary/table"
)

// KeyCondition is the raw parse result: one or two key predicates.
type KeyCondition struct {
	Predicates []Predicate
}

// Predicate constrains a single key attribute. Exactly one constraint
// form applies: equality (Prefix false) or begins_with (Prefix true).
type Predicate struct {
	Path   Path
	Prefix bool
	Value  Operand
}

// Path names a key attribute, directly or via a name placeholder.
type Path struct {
	Name  string
	Alias string
}

// Operand is a value placeholder or an inline literal.
type Operand struct {
	ValueAlias string
	Literal    types.AttributeValue
}

// PlanKind is the shape of a bound query plan.
type PlanKind int

const (
	// PartitionScan visits every item of one partition.
	PartitionScan PlanKind = iota
	// ExactMatch addresses a single item.
	ExactMatch
	// PrefixMatch visits the items of one partition whose sort key
	// begins with a prefix.
	PrefixMatch
)

func (k PlanKind) String() string {
	switch k {
	case PartitionScan:
		return "partition-scan"
	case ExactMatch:
		return "exact-match"
	case PrefixMatch:
		return "prefix-match"
	}
	return "unknown"
}

// Plan is a key condition bound to a schema.
type Plan struct {
	Kind           PlanKind
	PartitionValue types.AttributeValue
	SortValue      types.AttributeValue
	SortPrefix     string
}

// BindInput supplies the placeholder maps and the key schema of the
// table or index being queried.
type BindInput struct {
	Names  map[string]string
	Values map[string]types.AttributeValue
	Keys   table.PrimaryKeyDefinition
}

// Bind resolves placeholders, checks the predicates against the key
// schema, and produces the plan. Conditions that do not fit one of the
// three shapes fail; nothing degrades into a broader scan.
func (kc *KeyCondition) Bind(in BindInput) (*Plan, error) {
	var partition, sort *boundPredicate
	for i := range kc.Predicates {
		bp, err := bindPredicate(kc.Predicates[i], in)
		if err != nil {
			return nil, err
		}
		switch bp.attr {
		case in.Keys.PartitionKey.Name:
			if partition != nil {
				return nil, errors.NewValidationError("duplicate predicate for partition key %q", bp.attr)
			}
			partition = bp
		case in.Keys.SortKey.Name:
			if sort != nil {
				return nil, errors.NewValidationError("duplicate predicate for sort key %q", bp.attr)
			}
			sort = bp
		default:
			return nil, errors.NewValidationError("attribute %q is not a key of the queried index", bp.attr)
		}
	}
	if partition == nil {
		return nil, errors.NewValidationError("key condition must pin the partition key %q with equality", in.Keys.PartitionKey.Name)
	}
	if partition.prefix {
		return nil, errors.NewValidationError("begins_with cannot apply to the partition key")
	}
	if err := checkKind(in.Keys.PartitionKey, partition.value); err != nil {
		return nil, err
	}
	if sort == nil {
		return &Plan{Kind: PartitionScan, PartitionValue: partition.value}, nil
	}
	if !in.Keys.HasSortKey() {
		return nil, errors.NewValidationError("the queried index has no sort key")
	}
	if sort.prefix {
		if in.Keys.SortKey.Kind != table.KeyKindS {
			return nil, errors.NewValidationError("begins_with requires a string sort key")
		}
		s, ok := sort.value.(*types.AttributeValueMemberS)
		if !ok {
			return nil, errors.NewValidationError("begins_with requires a string prefix")
		}
		return &Plan{Kind: PrefixMatch, PartitionValue: partition.value, SortPrefix: s.Value}, nil
	}
	if err := checkKind(in.Keys.SortKey, sort.value); err != nil {
		return nil, err
	}
	return &Plan{Kind: ExactMatch, PartitionValue: partition.value, SortValue: sort.value}, nil
}

type boundPredicate struct {
	attr   string
	prefix bool
	value  types.AttributeValue
}

func bindPredicate(pred Predicate, in BindInput) (*boundPredicate, error) {
	attr := pred.Path.Name
	if pred.Path.Alias != "" {
		resolved, ok := in.Names["#"+pred.Path.Alias]
		if !ok {
			return nil, errors.NewValidationError("name placeholder #%s is not defined", pred.Path.Alias)
		}
		attr = resolved
	}
	value := pred.Value.Literal
	if pred.Value.ValueAlias != "" {
		av, ok := in.Values[":"+pred.Value.ValueAlias]
		if !ok {
			return nil, errors.NewValidationError("value placeholder :%s is not defined", pred.Value.ValueAlias)
		}
		value = av
	}
	switch value.(type) {
	case *types.AttributeValueMemberS, *types.AttributeValueMemberN, *types.AttributeValueMemberB:
	default:
		return nil, errors.NewValidationError("key predicate for %q needs an S, N or B value", attr)
	}
	return &boundPredicate{attr: attr, prefix: pred.Prefix, value: value}, nil
}

func checkKind(def table.KeyDef, av types.AttributeValue) error {
	var got table.KeyKind
	switch av.(type) {
	case *types.AttributeValueMemberS:
		got = table.KeyKindS
	case *types.AttributeValueMemberN:
		got = table.KeyKindN
	case *types.AttributeValueMemberB:
		got = table.KeyKindB
	}
	if got != def.Kind {
		return errors.NewValidationError("key %q wants kind %s, condition supplies %s", def.Name, def.Kind, got)
	}
	return nil
}
