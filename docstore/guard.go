package docstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"

	gerrors "github.com/okvist/granary/errors"
)

// Guard is a write rule attached to an item kind. Check runs after the
// operation's condition expression has passed and before anything is
// written, against the same snapshot the write will commit into. A
// non-nil error rejects the write.
type Guard interface {
	Check(ctx context.Context, view ReadView, item Item) error
}

// GuardFunc adapts a function to the Guard interface.
type GuardFunc func(ctx context.Context, view ReadView, item Item) error

func (f GuardFunc) Check(ctx context.Context, view ReadView, item Item) error {
	return f(ctx, view, item)
}

// ReadView exposes reads inside the transaction a guard runs under.
type ReadView interface {
	// Get returns the item under key, or nil when absent.
	Get(ctx context.Context, key Item) (Item, error)
	// Query runs a key-condition query against the snapshot.
	Query(ctx context.Context, in QueryInput) (*QueryOutput, error)
}

// txnView is the ReadView over one live Badger transaction.
type txnView struct {
	store *Store
	txn   *badger.Txn
}

func (v txnView) Get(ctx context.Context, key Item) (Item, error) {
	pk, err := v.store.def.Keys.ExtractPrimaryKey(key)
	if err != nil {
		return nil, err
	}
	encoded, err := v.store.codec.encodeKey(pk)
	if err != nil {
		return nil, err
	}
	return v.store.loadItem(v.txn, encoded)
}

func (v txnView) Query(ctx context.Context, in QueryInput) (*QueryOutput, error) {
	return v.store.queryTxn(ctx, v.txn, in)
}

// checkGuard dispatches the kind registry against an item about to be
// written. Untagged items pass. A kind attribute that is not a string,
// or names no registered kind, rejects the write.
func (s *Store) checkGuard(ctx context.Context, txn *badger.Txn, item Item) error {
	attr, ok := item[AttrKind]
	if !ok {
		return nil
	}
	kindAttr, ok := attr.(*types.AttributeValueMemberS)
	if !ok {
		return gerrors.NewFieldValidationError(AttrKind, "must be a string attribute")
	}
	guard, registered := s.kinds[kindAttr.Value]
	if !registered {
		return gerrors.NewFieldValidationError(AttrKind, "%q is not a registered kind", kindAttr.Value)
	}
	if guard == nil {
		return nil
	}
	return guard.Check(ctx, txnView{store: s, txn: txn}, item)
}
