package docstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"

	"github.com/okvist/granary/docstore/conditionexpr"
	condast "github.com/okvist/granary/docstore/conditionexpr/ast"
)

// ScanInput walks every item of the table or one of its indexes.
// Unlike a query filter, a scan filter may reference key attributes.
type ScanInput struct {
	IndexName        *string
	Filter           *string
	ExpressionNames  map[string]string
	ExpressionValues map[string]types.AttributeValue
	// Limit caps the page size, counted after filtering.
	Limit             *int32
	ExclusiveStartKey Item
}

// ScanOutput is one page of results.
type ScanOutput struct {
	Items            []Item
	Count            int32
	LastEvaluatedKey Item
}

// Scan reads the table or index in key order.
func (s *Store) Scan(ctx context.Context, in ScanInput) (*ScanOutput, error) {
	codec, keys, err := s.codecFor(in.IndexName)
	if err != nil {
		return nil, err
	}
	var filter condast.Condition
	if in.Filter != nil {
		filter, err = conditionexpr.Parse(*in.Filter)
		if err != nil {
			return nil, err
		}
	}
	limit, err := pageLimit(in.Limit)
	if err != nil {
		return nil, err
	}
	isIndex := in.IndexName != nil && *in.IndexName != ""
	req := pageRequest{
		prefix: codec.subspacePrefix(),
		limit:  limit,
		filter: filter,
		names:  in.ExpressionNames,
		values: in.ExpressionValues,
	}
	if isIndex {
		req.indexKeys = &keys
	}
	if in.ExclusiveStartKey != nil {
		req.startKey, err = s.cursorKey(codec, keys, isIndex, in.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
	}
	var out *ScanOutput
	err = s.db.View(func(txn *badger.Txn) error {
		page, err := s.iteratePage(txn, req)
		if err != nil {
			return err
		}
		out = &ScanOutput{
			Items:            page.Items,
			Count:            page.Count,
			LastEvaluatedKey: page.LastEvaluatedKey,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("scan", "table", s.def.Name, "count", out.Count)
	return out, nil
}
