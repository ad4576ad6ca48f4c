package docstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"

	"github.com/okvist/granary/docstore/conditionexpr"
	condast "github.com/okvist/granary/docstore/conditionexpr/ast"
	gerrors "github.com/okvist/granary/errors"
)

// PutInput writes a full item. The condition, when present, is
// evaluated against the stored item the write would replace, or against
// the absent item when there is none.
type PutInput struct {
	Item             Item
	Condition        *string
	ExpressionNames  map[string]string
	ExpressionValues map[string]types.AttributeValue
	// ReturnOld requests the replaced item in PutOutput.Old.
	ReturnOld bool
}

// PutOutput carries the replaced item when requested.
type PutOutput struct {
	Old Item
}

// Put stores an item under its key attributes, replacing any previous
// item under the same key. Kind-tagged items run their registered
// guard before anything is written.
func (s *Store) Put(ctx context.Context, in PutInput) (*PutOutput, error) {
	pk, err := s.def.ExtractPrimaryKey(in.Item)
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
	out := &PutOutput{}
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
		if err := s.checkGuard(ctx, txn, in.Item); err != nil {
			return err
		}
		encoded, err := encodeItem(in.Item)
		if err != nil {
			return err
		}
		if err := txn.Set(key, encoded); err != nil {
			return err
		}
		if err := s.maintainIndexes(txn, pk, old, in.Item, encoded); err != nil {
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
	s.logger.Debug("put item", "table", s.def.Name, "key", pk.String(), "kind", itemKind(in.Item))
	return out, nil
}
