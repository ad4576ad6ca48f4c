package docstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"

	"github.com/okvist/granary/docstore/conditionexpr"
	condast "github.com/okvist/granary/docstore/conditionexpr/ast"
	gerrors "github.com/okvist/granary/errors"
)

// DeleteInput removes one item by key, optionally guarded by a
// condition expression.
type DeleteInput struct {
	Key              Item
	Condition        *string
	ExpressionNames  map[string]string
	ExpressionValues map[string]types.AttributeValue
	// ReturnOld requests the removed item in DeleteOutput.Old.
	ReturnOld bool
}

// DeleteOutput carries the removed item when requested.
type DeleteOutput struct {
	Old Item
}

// Delete removes one item. Deleting an absent key without a condition
// is a no-op; with a condition, the condition decides against the
// absent item and may fail the call.
func (s *Store) Delete(ctx context.Context, in DeleteInput) (*DeleteOutput, error) {
	pk, err := s.def.ExtractPrimaryKey(in.Key)
	if err != nil {
		return nil, gerrors.NewValidationError("%v", err)
	}
	key, err := s.codec.encodeKey(pk)
	if err != nil {
		return nil, gerrors.NewValidationError("%v", err)
	}
	var cond condast.Condition
	if in.Condition != nil {
		cond, err = conditionexpr.Parse(*in.Condition)
		if err != nil {
			return nil, err
		}
	}
	out := &DeleteOutput{}
	err = s.db.Update(func(txn *badger.Txn) error {
		old, err := s.loadItem(txn, key)
		if err != nil {
			return err
		}
		if cond != nil {
			ok, err := evalCondition(cond, in.ExpressionNames, in.ExpressionValues, old)
			if err != nil {
				return err
			}
			if !ok {
				return gerrors.NewConditionalCheckFailedError(pk.String(), *in.Condition)
			}
		}
		if old == nil {
			return nil
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		if err := s.maintainIndexes(txn, pk, old, nil, nil); err != nil {
			return err
		}
		if in.ReturnOld {
			out.Old = old
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("delete item", "table", s.def.Name, "key", pk.String())
	return out, nil
}
