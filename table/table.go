// Package table describes the shape of a granary table: the primary
// key, the fixed set of global secondary indexes, and how key values
// are extracted from stored documents.
package table

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Definition is the declared shape of a table. Indexes are fixed at
// definition time; there is no online index management.
type Definition struct {
	Name    string
	Keys    PrimaryKeyDefinition
	Indexes []GSIDefinition
}

// GSIDefinition declares one global secondary index. Items that lack
// any of the index key attributes are simply absent from the index.
type GSIDefinition struct {
	Name string
	Keys PrimaryKeyDefinition
}

// Validate checks that the definition is internally consistent.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("table name is required")
	}
	if err := d.Keys.validate(); err != nil {
		return fmt.Errorf("table %q: %w", d.Name, err)
	}
	seen := make(map[string]bool, len(d.Indexes))
	for _, gsi := range d.Indexes {
		if gsi.Name == "" {
			return fmt.Errorf("table %q: index name is required", d.Name)
		}
		if seen[gsi.Name] {
			return fmt.Errorf("table %q: duplicate index %q", d.Name, gsi.Name)
		}
		seen[gsi.Name] = true
		if err := gsi.Keys.validate(); err != nil {
			return fmt.Errorf("index %q: %w", gsi.Name, err)
		}
	}
	return nil
}

// Index returns the named GSI definition.
func (d Definition) Index(name string) (GSIDefinition, bool) {
	for _, gsi := range d.Indexes {
		if gsi.Name == name {
			return gsi, true
		}
	}
	return GSIDefinition{}, false
}

// ExtractPrimaryKey pulls the table's key values off a document. Every
// key attribute must be present and of the declared kind.
func (d Definition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	return d.Keys.ExtractPrimaryKey(doc)
}

// ExtractIndexKey pulls the index key values off a document. A missing
// key attribute means the document does not project into the index
// (ok=false); a present attribute of the wrong kind is an error.
func (g GSIDefinition) ExtractIndexKey(doc map[string]types.AttributeValue) (PrimaryKey, bool, error) {
	if _, present := doc[g.Keys.PartitionKey.Name]; !present {
		return PrimaryKey{}, false, nil
	}
	if g.Keys.SortKey.Name != "" {
		if _, present := doc[g.Keys.SortKey.Name]; !present {
			return PrimaryKey{}, false, nil
		}
	}
	key, err := g.Keys.ExtractPrimaryKey(doc)
	if err != nil {
		return PrimaryKey{}, false, err
	}
	return key, true, nil
}

func (k PrimaryKeyDefinition) validate() error {
	if k.PartitionKey.Name == "" {
		return fmt.Errorf("partition key name is required")
	}
	if !k.PartitionKey.Kind.valid() {
		return fmt.Errorf("partition key %q: unknown kind %q", k.PartitionKey.Name, k.PartitionKey.Kind)
	}
	if k.SortKey.Name != "" && !k.SortKey.Kind.valid() {
		return fmt.Errorf("sort key %q: unknown kind %q", k.SortKey.Name, k.SortKey.Kind)
	}
	if k.SortKey.Name == k.PartitionKey.Name && k.SortKey.Name != "" {
		return fmt.Errorf("partition and sort key share the name %q", k.SortKey.Name)
	}
	return nil
}

// ExtractPrimaryKey reads and type-checks the key attributes of doc.
func (k PrimaryKeyDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	part, ok := doc[k.PartitionKey.Name]
	if !ok {
		return PrimaryKey{}, fmt.Errorf("partition key %q not found on document", k.PartitionKey.Name)
	}
	pv, err := keyValueFromAttribute(k.PartitionKey, part)
	if err != nil {
		return PrimaryKey{}, err
	}
	pk := PrimaryKey{Definition: k, Values: KeyValues{Partition: pv}}
	if k.SortKey.Name == "" {
		return pk, nil
	}
	sort, ok := doc[k.SortKey.Name]
	if !ok {
		return PrimaryKey{}, fmt.Errorf("sort key %q not found on document", k.SortKey.Name)
	}
	sv, err := keyValueFromAttribute(k.SortKey, sort)
	if err != nil {
		return PrimaryKey{}, err
	}
	pk.Values.Sort = sv
	return pk, nil
}

func keyValueFromAttribute(def KeyDef, av types.AttributeValue) (any, error) {
	var got KeyKind
	var value any
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		got, value = KeyKindS, v.Value
	case *types.AttributeValueMemberN:
		got, value = KeyKindN, v.Value
	case *types.AttributeValueMemberB:
		got, value = KeyKindB, v.Value
	default:
		return nil, fmt.Errorf("key %q: attribute type %T cannot be a key", def.Name, av)
	}
	if got != def.Kind {
		return nil, fmt.Errorf("key %q: got kind %q, definition wants %q", def.Name, got, def.Kind)
	}
	return value, nil
}
