package table

import (
	"bytes"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// PrimaryKeyDefinition names the key attributes of a table or index.
// A table without a sort key leaves SortKey zero.
type PrimaryKeyDefinition struct {
	PartitionKey KeyDef
	SortKey      KeyDef
}

// HasSortKey reports whether the definition declares a sort key.
func (k PrimaryKeyDefinition) HasSortKey() bool {
	return k.SortKey.Name != ""
}

// KeyDef is one key attribute: its name and storage kind.
type KeyDef struct {
	Name string
	Kind KeyKind
}

// KeyKind is the storage kind of a key attribute.
type KeyKind string

const (
	KeyKindS KeyKind = "S"
	KeyKindN KeyKind = "N"
	KeyKindB KeyKind = "B"
)

func (k KeyKind) valid() bool {
	switch k {
	case KeyKindS, KeyKindN, KeyKindB:
		return true
	}
	return false
}

// KeyValues holds extracted key values. Strings for S, the numeric
// string form for N, and []byte for B. Sort is nil when the schema has
// no sort key.
type KeyValues struct {
	Partition any
	Sort      any
}

// PrimaryKey is a fully resolved key: the schema it was resolved
// against plus the concrete values.
type PrimaryKey struct {
	Definition PrimaryKeyDefinition
	Values     KeyValues
}

// Key builds a PrimaryKey from native Go values, marshaling them
// through attributevalue and checking kinds against the definition.
// sort must be nil exactly when the definition has no sort key.
func (k PrimaryKeyDefinition) Key(partition, sort any) (PrimaryKey, error) {
	doc := make(map[string]types.AttributeValue, 2)
	pav, err := attributevalue.Marshal(partition)
	if err != nil {
		return PrimaryKey{}, fmt.Errorf("marshal partition key value %v: %w", partition, err)
	}
	doc[k.PartitionKey.Name] = pav
	if k.HasSortKey() {
		if sort == nil {
			return PrimaryKey{}, fmt.Errorf("sort key %q is required", k.SortKey.Name)
		}
		sav, err := attributevalue.Marshal(sort)
		if err != nil {
			return PrimaryKey{}, fmt.Errorf("marshal sort key value %v: %w", sort, err)
		}
		doc[k.SortKey.Name] = sav
	} else if sort != nil {
		return PrimaryKey{}, fmt.Errorf("definition has no sort key, got value %v", sort)
	}
	return k.ExtractPrimaryKey(doc)
}

// AttributeValues renders the key back into attribute-map form, the
// shape used for item skeletons and pagination cursors.
func (k PrimaryKey) AttributeValues() map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, 2)
	out[k.Definition.PartitionKey.Name] = keyValueToAttribute(k.Definition.PartitionKey.Kind, k.Values.Partition)
	if k.Definition.HasSortKey() && k.Values.Sort != nil {
		out[k.Definition.SortKey.Name] = keyValueToAttribute(k.Definition.SortKey.Kind, k.Values.Sort)
	}
	return out
}

// Equal reports whether two keys resolve to the same storage location.
func (k PrimaryKey) Equal(other PrimaryKey) bool {
	return keyValueEqual(k.Values.Partition, other.Values.Partition) &&
		keyValueEqual(k.Values.Sort, other.Values.Sort)
}

// String renders the key for error messages and logs.
func (k PrimaryKey) String() string {
	if k.Values.Sort == nil {
		return fmt.Sprintf("%v", k.Values.Partition)
	}
	return fmt.Sprintf("%v/%v", k.Values.Partition, k.Values.Sort)
}

func keyValueToAttribute(kind KeyKind, v any) types.AttributeValue {
	switch kind {
	case KeyKindN:
		return &types.AttributeValueMemberN{Value: v.(string)}
	case KeyKindB:
		return &types.AttributeValueMemberB{Value: v.([]byte)}
	default:
		return &types.AttributeValueMemberS{Value: v.(string)}
	}
}

func keyValueEqual(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	return a == b
}
