package docstore

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"

	"github.com/okvist/granary/docstore/conditionexpr"
	condast "github.com/okvist/granary/docstore/conditionexpr/ast"
	"github.com/okvist/granary/docstore/keyconditionexpr"
	kcast "github.com/okvist/granary/docstore/keyconditionexpr/ast"
	gerrors "github.com/okvist/granary/errors"
	"github.com/okvist/granary/table"
)

// QueryInput selects items of one partition. The key condition decides
// the plan: a partition scan, an exact match, or a sort-key prefix
// match. Conditions that fit none of the three shapes are rejected
// rather than degraded into a broader scan.
type QueryInput struct {
	KeyCondition     string
	IndexName        *string
	Filter           *string
	ExpressionNames  map[string]string
	ExpressionValues map[string]types.AttributeValue
	// Limit caps the page size, counted after filtering.
	Limit *int32
	// ScanForward orders by sort key ascending when true. Nil means
	// ascending.
	ScanForward *bool
	// ExclusiveStartKey resumes a paged query after the item a previous
	// page returned as LastEvaluatedKey.
	ExclusiveStartKey Item
}

// QueryOutput is one page of results.
type QueryOutput struct {
	Items []Item
	Count int32
	// LastEvaluatedKey is set when Limit cut the page short. Feeding it
	// back as ExclusiveStartKey resumes after the last returned item.
	LastEvaluatedKey Item
}

// Query runs a key-condition query against the table or one of its
// indexes.
func (s *Store) Query(ctx context.Context, in QueryInput) (*QueryOutput, error) {
	var out *QueryOutput
	err := s.db.View(func(txn *badger.Txn) error {
		res, err := s.queryTxn(ctx, txn, in)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("query", "table", s.def.Name, "count", out.Count)
	return out, nil
}

func (s *Store) queryTxn(ctx context.Context, txn *badger.Txn, in QueryInput) (*QueryOutput, error) {
	codec, keys, err := s.codecFor(in.IndexName)
	if err != nil {
		return nil, err
	}
	plan, err := keyconditionexpr.Parse(in.KeyCondition, keyconditionexpr.ParseParams{
		ExpressionNames:  in.ExpressionNames,
		ExpressionValues: in.ExpressionValues,
		Keys:             keys,
	})
	if err != nil {
		return nil, err
	}
	filter, err := parseQueryFilter(in.Filter, in.ExpressionNames, keys)
	if err != nil {
		return nil, err
	}
	limit, err := pageLimit(in.Limit)
	if err != nil {
		return nil, err
	}

	isIndex := in.IndexName != nil && *in.IndexName != ""

	// Plans that address a single main-table item resolve as point
	// reads. Index plans always iterate: index entries append the main
	// key, so even an exact index match is a range.
	if !isIndex && (plan.Kind == kcast.ExactMatch || !keys.HasSortKey()) {
		return s.queryPointGet(txn, plan, filter, in)
	}

	prefix, err := planPrefix(codec, plan)
	if err != nil {
		return nil, err
	}
	req := pageRequest{
		prefix:  prefix,
		reverse: in.ScanForward != nil && !*in.ScanForward,
		limit:   limit,
		filter:  filter,
		names:   in.ExpressionNames,
		values:  in.ExpressionValues,
	}
	if isIndex {
		req.indexKeys = &keys
	}
	if in.ExclusiveStartKey != nil {
		req.startKey, err = s.cursorKey(codec, keys, isIndex, in.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		if !bytes.HasPrefix(req.startKey, prefix) {
			return nil, gerrors.NewValidationError("ExclusiveStartKey does not fall in the queried range")
		}
	}
	return s.iteratePage(txn, req)
}

// queryPointGet serves plans that pin a full main-table key.
func (s *Store) queryPointGet(txn *badger.Txn, plan *kcast.Plan, filter condast.Condition, in QueryInput) (*QueryOutput, error) {
	pk, err := planKey(s.def.Keys, plan)
	if err != nil {
		return nil, err
	}
	key, err := s.codec.encodeKey(pk)
	if err != nil {
		return nil, err
	}
	item, err := s.loadItem(txn, key)
	if err != nil {
		return nil, err
	}
	out := &QueryOutput{Items: []Item{}}
	if item == nil {
		return out, nil
	}
	if filter != nil {
		ok, err := evalCondition(filter, in.ExpressionNames, in.ExpressionValues, item)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
	}
	out.Items = append(out.Items, item)
	out.Count = 1
	return out, nil
}

// planKey turns an exact plan into the primary key it addresses.
func planKey(keys table.PrimaryKeyDefinition, plan *kcast.Plan) (table.PrimaryKey, error) {
	partition, err := keyValueOf(plan.PartitionValue)
	if err != nil {
		return table.PrimaryKey{}, err
	}
	pk := table.PrimaryKey{Definition: keys, Values: table.KeyValues{Partition: partition}}
	if plan.SortValue != nil {
		sort, err := keyValueOf(plan.SortValue)
		if err != nil {
			return table.PrimaryKey{}, err
		}
		pk.Values.Sort = sort
	}
	return pk, nil
}

// planPrefix renders the iteration prefix of a bound plan.
func planPrefix(codec *keyCodec, plan *kcast.Plan) ([]byte, error) {
	switch plan.Kind {
	case kcast.PartitionScan:
		return codec.partitionPrefix(plan.PartitionValue)
	case kcast.PrefixMatch:
		return codec.sortPrefix(plan.PartitionValue, plan.SortPrefix)
	case kcast.ExactMatch:
		return codec.exactPrefix(plan.PartitionValue, plan.SortValue)
	}
	return nil, gerrors.NewValidationError("unknown plan kind %s", plan.Kind)
}

// parseQueryFilter parses a filter expression and rejects filters that
// touch the key attributes of the queried index; key constraints belong
// in the key condition.
func parseQueryFilter(filter *string, names map[string]string, keys table.PrimaryKeyDefinition) (condast.Condition, error) {
	if filter == nil {
		return nil, nil
	}
	cond, err := conditionexpr.Parse(*filter)
	if err != nil {
		return nil, err
	}
	attrs, err := condast.ReferencedAttributes(cond, names)
	if err != nil {
		return nil, err
	}
	for _, attr := range attrs {
		if attr == keys.PartitionKey.Name || (keys.HasSortKey() && attr == keys.SortKey.Name) {
			return nil, gerrors.NewValidationError("filter cannot reference key attribute %q", attr)
		}
	}
	return cond, nil
}

func pageLimit(limit *int32) (int, error) {
	if limit == nil {
		return 0, nil
	}
	if *limit <= 0 {
		return 0, gerrors.NewValidationError("Limit must be positive, got %d", *limit)
	}
	return int(*limit), nil
}

// cursorKey re-encodes an ExclusiveStartKey into the storage key the
// previous page stopped at.
func (s *Store) cursorKey(codec *keyCodec, keys table.PrimaryKeyDefinition, isIndex bool, cursor Item) ([]byte, error) {
	mainPk, err := s.def.Keys.ExtractPrimaryKey(cursor)
	if err != nil {
		return nil, gerrors.NewValidationError("ExclusiveStartKey: %v", err)
	}
	if !isIndex {
		return codec.encodeKey(mainPk)
	}
	idxPk, err := keys.ExtractPrimaryKey(cursor)
	if err != nil {
		return nil, gerrors.NewValidationError("ExclusiveStartKey: %v", err)
	}
	return codec.encodeIndexEntry(idxPk, mainPk)
}

// pageRequest drives one prefix iteration over the key space.
type pageRequest struct {
	prefix    []byte
	startKey  []byte
	reverse   bool
	limit     int
	filter    condast.Condition
	names     map[string]string
	values    map[string]types.AttributeValue
	indexKeys *table.PrimaryKeyDefinition
}

// iteratePage walks the keys under req.prefix and collects one page.
// Badger's own prefix option is left off: reverse iteration seeks past
// the end of the prefix range and has to step back onto it, which the
// option would report as an exhausted iterator.
func (s *Store) iteratePage(txn *badger.Txn, req pageRequest) (*QueryOutput, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = req.reverse
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := req.prefix
	if req.reverse {
		seek = incrementBytes(req.prefix)
	}
	if req.startKey != nil {
		seek = req.startKey
	}
	if seek == nil {
		it.Rewind()
	} else {
		it.Seek(seek)
	}
	if it.Valid() {
		if req.startKey != nil && bytes.Equal(it.Item().Key(), req.startKey) {
			it.Next()
		} else if req.reverse && req.startKey == nil && !bytes.HasPrefix(it.Item().Key(), req.prefix) {
			it.Next()
		}
	}

	out := &QueryOutput{Items: []Item{}}
	for ; it.Valid(); it.Next() {
		if !bytes.HasPrefix(it.Item().Key(), req.prefix) {
			break
		}
		var item Item
		err := it.Item().Value(func(val []byte) error {
			decoded, derr := decodeItem(val)
			if derr != nil {
				return derr
			}
			item = decoded
			return nil
		})
		if err != nil {
			return nil, err
		}
		if req.filter != nil {
			ok, err := evalCondition(req.filter, req.names, req.values, item)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out.Items = append(out.Items, item)
		if req.limit > 0 && len(out.Items) >= req.limit {
			cursor, err := cursorAttributes(item, s.def.Keys, req.indexKeys)
			if err != nil {
				return nil, err
			}
			out.LastEvaluatedKey = cursor
			break
		}
	}
	out.Count = int32(len(out.Items))
	return out, nil
}
