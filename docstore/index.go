package docstore

import (
	"bytes"

	"github.com/dgraph-io/badger/v4"

	gerrors "github.com/okvist/granary/errors"
	"github.com/okvist/granary/table"
)

// maintainIndexes reconciles the index entries of one item after a
// write. old is the previously stored item or nil; updated is the item
// just written, or nil for a delete. encoded is the stored value of
// updated and is shared by every index entry.
func (s *Store) maintainIndexes(txn *badger.Txn, mainKey table.PrimaryKey, old, updated Item, encoded []byte) error {
	for name, idx := range s.indexes {
		var oldEntry, newEntry []byte
		if old != nil {
			key, ok, err := idx.definition.ExtractIndexKey(old)
			if err != nil {
				return err
			}
			if ok {
				oldEntry, err = idx.codec.encodeIndexEntry(key, mainKey)
				if err != nil {
					return err
				}
			}
		}
		if updated != nil {
			key, ok, err := idx.definition.ExtractIndexKey(updated)
			if err != nil {
				return gerrors.NewValidationError("index %q: %v", name, err)
			}
			if ok {
				newEntry, err = idx.codec.encodeIndexEntry(key, mainKey)
				if err != nil {
					return gerrors.NewValidationError("index %q: %v", name, err)
				}
			}
		}
		if oldEntry != nil && !bytes.Equal(oldEntry, newEntry) {
			if err := txn.Delete(oldEntry); err != nil {
				return err
			}
		}
		if newEntry != nil {
			if err := txn.Set(newEntry, encoded); err != nil {
				return err
			}
		}
	}
	return nil
}
