package docstore

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	condast "github.com/okvist/granary/docstore/conditionexpr/ast"
	gerrors "github.com/okvist/granary/errors"
	"github.com/okvist/granary/table"
)

// evalCondition evaluates a parsed condition against a stored item.
// doc is nil when the item does not exist.
func evalCondition(cond condast.Condition, names map[string]string, values map[string]types.AttributeValue, doc Item) (bool, error) {
	return cond.Eval(condast.Input{Document: doc, Names: names, Values: values})
}

// keyAttributes copies the key attributes of a schema out of an item.
// The item must carry every key attribute of the schema.
func keyAttributes(item Item, keys table.PrimaryKeyDefinition) (Item, error) {
	out := make(Item, 2)
	names := []string{keys.PartitionKey.Name}
	if keys.HasSortKey() {
		names = append(names, keys.SortKey.Name)
	}
	for _, name := range names {
		attr, ok := item[name]
		if !ok {
			return nil, gerrors.NewFieldValidationError(name, "item is missing this key attribute")
		}
		out[name] = attr
	}
	return out, nil
}

// cursorAttributes builds the page cursor for an item: its table key
// attributes, plus the index key attributes when the page came from an
// index. The cursor doubles as an ExclusiveStartKey on the next call.
func cursorAttributes(item Item, tableKeys table.PrimaryKeyDefinition, indexKeys *table.PrimaryKeyDefinition) (Item, error) {
	cursor, err := keyAttributes(item, tableKeys)
	if err != nil {
		return nil, err
	}
	if indexKeys != nil {
		idxAttrs, err := keyAttributes(item, *indexKeys)
		if err != nil {
			return nil, err
		}
		for name, attr := range idxAttrs {
			cursor[name] = attr
		}
	}
	return cursor, nil
}

// incrementBytes returns the smallest byte string greater than every
// string prefixed by b. It trims trailing 0xff bytes and increments the
// last remaining byte; all-0xff input has no upper bound and yields nil.
func incrementBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

// keyString renders an item's primary key for error messages.
func (s *Store) keyString(item Item) string {
	pk, err := s.def.Keys.ExtractPrimaryKey(item)
	if err != nil {
		return "<invalid key>"
	}
	return pk.String()
}

// itemKind returns the kind attribute of an item, or "" when untagged.
func itemKind(item Item) string {
	if attr, ok := item[AttrKind].(*types.AttributeValueMemberS); ok {
		return attr.Value
	}
	return ""
}
