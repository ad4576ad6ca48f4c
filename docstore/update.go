package docstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"

	"github.com/okvist/granary/docstore/conditionexpr"
	condast "github.com/okvist/granary/docstore/conditionexpr/ast"
	"github.com/okvist/granary/docstore/updateexpr"
	gerrors "github.com/okvist/granary/errors"
)

// UpdateInput applies a SET expression to one item.
type UpdateInput struct {
	Key              Item
	Update           string
	Condition        *string
	ExpressionNames  map[string]string
	ExpressionValues map[string]types.AttributeValue
}

// UpdateOutput carries the item as stored after the update.
type UpdateOutput struct {
	Item Item
}

// Update applies a SET expression to the stored item. When no item
// exists under the key, the expression is applied to a skeleton holding
// just the key attributes, so an unconditioned update upserts. Key
// attributes themselves cannot be modified.
func (s *Store) Update(ctx context.Context, in UpdateInput) (*UpdateOutput, error) {
	pk, err := s.def.ExtractPrimaryKey(in.Key)
	if err != nil {
		return nil, gerrors.NewValidationError("%v", err)
	}
	key, err := s.codec.encodeKey(pk)
	if err != nil {
		return nil, gerrors.NewValidationError("%v", err)
	}
	expr, err := updateexpr.Parse(in.Update)
	if err != nil {
		return nil, err
	}
	var cond condast.Condition
	if in.Condition != nil {
		cond, err = conditionexpr.Parse(*in.Condition)
		if err != nil {
			return nil, err
		}
	}
	evalIn := updateexpr.EvalInput{
		ExpressionNames:  in.ExpressionNames,
		ExpressionValues: in.ExpressionValues,
	}
	out := &UpdateOutput{}
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
		base := old
		if base == nil {
			base = pk.AttributeValues()
		}
		updated, err := updateexpr.Apply(expr, evalIn, base)
		if err != nil {
			return err
		}
		newPk, err := s.def.ExtractPrimaryKey(updated)
		if err != nil {
			return gerrors.NewValidationError("%v", err)
		}
		if !newPk.Equal(pk) {
			return gerrors.NewValidationError("update cannot modify key attributes")
		}
		if err := s.checkGuard(ctx, txn, updated); err != nil {
			return err
		}
		encoded, err := encodeItem(updated)
		if err != nil {
			return err
		}
		if err := txn.Set(key, encoded); err != nil {
			return err
		}
		if err := s.maintainIndexes(txn, pk, old, updated, encoded); err != nil {
			return err
		}
		out.Item = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("update item", "table", s.def.Name, "key", pk.String())
	return out, nil
}
