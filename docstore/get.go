package docstore

import (
	"context"

	"github.com/dgraph-io/badger/v4"

	gerrors "github.com/okvist/granary/errors"
)

// GetInput addresses one item by its full primary key attributes.
type GetInput struct {
	Key Item
}

// GetOutput carries the item that was read.
type GetOutput struct {
	Item Item
}

// Get reads one item by key. An absent key fails with ErrNotFound.
func (s *Store) Get(ctx context.Context, in GetInput) (*GetOutput, error) {
	pk, err := s.def.ExtractPrimaryKey(in.Key)
	if err != nil {
		return nil, gerrors.NewValidationError("%v", err)
	}
	key, err := s.codec.encodeKey(pk)
	if err != nil {
		return nil, gerrors.NewValidationError("%v", err)
	}
	var item Item
	err = s.db.View(func(txn *badger.Txn) error {
		loaded, err := s.loadItem(txn, key)
		if err != nil {
			return err
		}
		item = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, gerrors.NewNotFoundError(pk.String())
	}
	return &GetOutput{Item: item}, nil
}
