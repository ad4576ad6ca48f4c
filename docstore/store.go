// Package docstore implements a conditional document store for grant
// effort tracking on an embedded Badger database. Items are DynamoDB
// style attribute maps addressed by a partition key and an optional
// sort key; writes support condition expressions, SET-only update
// expressions, business-rule guards keyed by item kind, and two-phase
// multi-item transactions.
package docstore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"

	gerrors "github.com/okvist/granary/errors"
	"github.com/okvist/granary/table"
)

// Item is a stored document: an open attribute map.
type Item = map[string]types.AttributeValue

// AttrKind is the discriminant attribute. Items carrying it must name
// a registered kind; items without it are plain documents.
const AttrKind = "kind"

// Store is a document store bound to one table definition.
type Store struct {
	db      *badger.DB
	def     table.Definition
	codec   *keyCodec
	indexes map[string]*indexSchema
	kinds   map[string]Guard
	logger  *slog.Logger
}

type indexSchema struct {
	definition table.GSIDefinition
	codec      *keyCodec
}

// Options configures the underlying Badger database.
type Options struct {
	// Path of the database directory. Empty means in-memory.
	Path string
	// InMemory forces in-memory mode even when Path is set.
	InMemory bool
	// Logger receives store and engine logging. Nil disables.
	Logger *slog.Logger
}

// Open opens or creates the store for the given table definition.
func Open(opts Options, def table.Definition) (*Store, error) {
	if err := def.Validate(); err != nil {
		return nil, gerrors.NewValidationError("%v", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" || opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(badgerLogger{logger})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	s := &Store{
		db:      db,
		def:     def,
		codec:   newKeyCodec(def.Name, def.Keys),
		indexes: make(map[string]*indexSchema, len(def.Indexes)),
		kinds:   make(map[string]Guard),
		logger:  logger,
	}
	for _, gsi := range def.Indexes {
		s.indexes[gsi.Name] = &indexSchema{
			definition: gsi,
			codec:      newIndexKeyCodec(def.Name, gsi.Name, gsi.Keys),
		}
	}
	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Definition returns the table definition the store was opened with.
func (s *Store) Definition() table.Definition {
	return s.def
}

// RegisterKind declares an item kind. The registry is a closed set: a
// write carrying an unregistered kind is rejected. guard may be nil
// for kinds without write rules.
func (s *Store) RegisterKind(kind string, guard Guard) error {
	if kind == "" {
		return gerrors.NewValidationError("kind name is required")
	}
	if _, exists := s.kinds[kind]; exists {
		return gerrors.NewValidationError("kind %q is already registered", kind)
	}
	s.kinds[kind] = guard
	return nil
}

// codecFor resolves the codec and key schema of the main table or a
// named index.
func (s *Store) codecFor(indexName *string) (*keyCodec, table.PrimaryKeyDefinition, error) {
	if indexName == nil || *indexName == "" {
		return s.codec, s.def.Keys, nil
	}
	idx, ok := s.indexes[*indexName]
	if !ok {
		return nil, table.PrimaryKeyDefinition{}, gerrors.NewValidationError("unknown index %q", *indexName)
	}
	return idx.codec, idx.definition.Keys, nil
}

// loadItem reads and decodes one item. A missing key yields (nil, nil).
func (s *Store) loadItem(txn *badger.Txn, key []byte) (Item, error) {
	entry, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var item Item
	err = entry.Value(func(val []byte) error {
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
	return item, nil
}

// badgerLogger routes Badger's chatter through slog.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Info(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}
