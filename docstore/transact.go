package docstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"

	"github.com/okvist/granary/docstore/conditionexpr"
	condast "github.com/okvist/granary/docstore/conditionexpr/ast"
	"github.com/okvist/granary/docstore/updateexpr"
	updast "github.com/okvist/granary/docstore/updateexpr/ast"
	gerrors "github.com/okvist/granary/errors"
	"github.com/okvist/granary/table"
)

// maxTransactOps bounds the size of one transaction.
const maxTransactOps = 100

// TransactOp is one operation of a write transaction. Exactly one
// member must be set.
type TransactOp struct {
	Put            *TransactPut
	Update         *TransactUpdate
	Delete         *TransactDelete
	ConditionCheck *TransactConditionCheck
}

// TransactPut writes a full item inside a transaction.
type TransactPut struct {
	Item             Item
	Condition        *string
	ExpressionNames  map[string]string
	ExpressionValues map[string]types.AttributeValue
}

// TransactUpdate applies a SET expression inside a transaction.
type TransactUpdate struct {
	Key              Item
	Update           string
	Condition        *string
	ExpressionNames  map[string]string
	ExpressionValues map[string]types.AttributeValue
}

// TransactDelete removes an item inside a transaction.
type TransactDelete struct {
	Key              Item
	Condition        *string
	ExpressionNames  map[string]string
	ExpressionValues map[string]types.AttributeValue
}

// TransactConditionCheck asserts a condition over an item without
// writing it.
type TransactConditionCheck struct {
	Key              Item
	Condition        string
	ExpressionNames  map[string]string
	ExpressionValues map[string]types.AttributeValue
}

// plannedOp is one transaction operation after static checks: key
// resolved, expressions parsed, and, during validation, the observed
// old item and the computed effect.
type plannedOp struct {
	op   TransactOp
	pk   table.PrimaryKey
	key  []byte
	expr *updast.UpdateExpression

	cond     condast.Condition
	condText string
	names    map[string]string
	values   map[string]types.AttributeValue

	old    Item
	effect Item
}

// TransactWrite applies up to maxTransactOps operations atomically.
// Validation runs first: every condition and every kind guard is
// checked against the state before the transaction, and the first
// failure cancels the whole transaction, naming the operation that
// failed. Only when every operation validates are the writes applied.
func (s *Store) TransactWrite(ctx context.Context, ops []TransactOp) error {
	if len(ops) == 0 {
		return gerrors.NewValidationError("transaction has no operations")
	}
	if len(ops) > maxTransactOps {
		return gerrors.NewValidationError("transaction has %d operations, the maximum is %d", len(ops), maxTransactOps)
	}
	planned := make([]*plannedOp, len(ops))
	seen := make(map[string]int, len(ops))
	for i, op := range ops {
		p, err := s.planOp(op)
		if err != nil {
			return err
		}
		if prev, dup := seen[string(p.key)]; dup {
			return gerrors.NewValidationError("operations %d and %d address the same key %s", prev, i, p.pk.String())
		}
		seen[string(p.key)] = i
		planned[i] = p
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for i, p := range planned {
			if err := s.validateOp(ctx, txn, i, p); err != nil {
				return err
			}
		}
		for _, p := range planned {
			if err := s.applyOp(txn, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("transact write", "table", s.def.Name, "ops", len(ops))
	return nil
}

// planOp runs the static half of an operation: exactly one member,
// resolvable key, parsable expressions. Failures here reject the
// transaction before anything is read.
func (s *Store) planOp(op TransactOp) (*plannedOp, error) {
	p := &plannedOp{op: op}
	var keyDoc Item
	var condition *string
	set := 0
	if op.Put != nil {
		set++
		keyDoc = op.Put.Item
		condition = op.Put.Condition
		p.names, p.values = op.Put.ExpressionNames, op.Put.ExpressionValues
	}
	if op.Update != nil {
		set++
		keyDoc = op.Update.Key
		condition = op.Update.Condition
		p.names, p.values = op.Update.ExpressionNames, op.Update.ExpressionValues
	}
	if op.Delete != nil {
		set++
		keyDoc = op.Delete.Key
		condition = op.Delete.Condition
		p.names, p.values = op.Delete.ExpressionNames, op.Delete.ExpressionValues
	}
	if op.ConditionCheck != nil {
		set++
		keyDoc = op.ConditionCheck.Key
		condition = &op.ConditionCheck.Condition
		p.names, p.values = op.ConditionCheck.ExpressionNames, op.ConditionCheck.ExpressionValues
	}
	if set != 1 {
		return nil, gerrors.NewValidationError("a transaction operation must set exactly one of Put, Update, Delete or ConditionCheck")
	}
	pk, err := s.def.ExtractPrimaryKey(keyDoc)
	if err != nil {
		return nil, gerrors.NewValidationError("%v", err)
	}
	p.pk = pk
	p.key, err = s.codec.encodeKey(pk)
	if err != nil {
		return nil, gerrors.NewValidationError("%v", err)
	}
	if condition != nil {
		p.condText = *condition
		p.cond, err = conditionexpr.Parse(*condition)
		if err != nil {
			return nil, err
		}
	}
	if op.Update != nil {
		p.expr, err = updateexpr.Parse(op.Update.Update)
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

// validateOp runs the read half of one operation: condition, update
// evaluation, guard. Failures cancel the transaction with the index of
// the operation.
func (s *Store) validateOp(ctx context.Context, txn *badger.Txn, index int, p *plannedOp) error {
	old, err := s.loadItem(txn, p.key)
	if err != nil {
		return err
	}
	p.old = old
	if p.cond != nil {
		ok, err := evalCondition(p.cond, p.names, p.values, old)
		if err != nil {
			return gerrors.NewTransactionCanceledError(index, err)
		}
		if !ok {
			return gerrors.NewTransactionCanceledError(index,
				gerrors.NewConditionalCheckFailedError(p.pk.String(), p.condText))
		}
	}
	switch {
	case p.op.Put != nil:
		p.effect = p.op.Put.Item
	case p.op.Update != nil:
		base := old
		if base == nil {
			base = p.pk.AttributeValues()
		}
		updated, err := updateexpr.Apply(p.expr, updateexpr.EvalInput{
			ExpressionNames:  p.names,
			ExpressionValues: p.values,
		}, base)
		if err != nil {
			return gerrors.NewTransactionCanceledError(index, err)
		}
		newPk, err := s.def.ExtractPrimaryKey(updated)
		if err != nil {
			return gerrors.NewTransactionCanceledError(index, gerrors.NewValidationError("%v", err))
		}
		if !newPk.Equal(p.pk) {
			return gerrors.NewTransactionCanceledError(index, gerrors.NewValidationError("update cannot modify key attributes"))
		}
		p.effect = updated
	}
	if p.effect != nil {
		if err := s.checkGuard(ctx, txn, p.effect); err != nil {
			return gerrors.NewTransactionCanceledError(index, err)
		}
	}
	return nil
}

// applyOp runs the write half of one validated operation.
func (s *Store) applyOp(txn *badger.Txn, p *plannedOp) error {
	switch {
	case p.op.Put != nil, p.op.Update != nil:
		encoded, err := encodeItem(p.effect)
		if err != nil {
			return err
		}
		if err := txn.Set(p.key, encoded); err != nil {
			return err
		}
		return s.maintainIndexes(txn, p.pk, p.old, p.effect, encoded)
	case p.op.Delete != nil:
		if p.old == nil {
			return nil
		}
		if err := txn.Delete(p.key); err != nil {
			return err
		}
		return s.maintainIndexes(txn, p.pk, p.old, nil, nil)
	}
	return nil
}
