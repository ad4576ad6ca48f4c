package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "github.com/okvist/granary/errors"
	"github.com/okvist/granary/table"
)

// timesheetTable is the layout the timesheet domain runs on: string
// partition and sort keys plus a GSI over the grant attribute.
var timesheetTable = table.Definition{
	Name: "timesheet",
	Keys: table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
		SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindS},
	},
	Indexes: []table.GSIDefinition{
		{
			Name: "grant-index",
			Keys: table.PrimaryKeyDefinition{
				PartitionKey: table.KeyDef{Name: "grant", Kind: table.KeyKindS},
				SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindS},
			},
		},
	},
}

// numericSortTable exercises numeric sort key ordering.
var numericSortTable = table.Definition{
	Name: "meters",
	Keys: table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
		SortKey:      table.KeyDef{Name: "seq", Kind: table.KeyKindN},
	},
}

// noSortTable has a partition key only.
var noSortTable = table.Definition{
	Name: "settings",
	Keys: table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
	},
}

func newTestStore(t *testing.T, def table.Definition) *Store {
	t.Helper()
	store, err := Open(Options{InMemory: true}, def)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpen(t *testing.T) {
	t.Run("rejects invalid definition", func(t *testing.T) {
		_, err := Open(Options{InMemory: true}, table.Definition{Name: "broken"})
		require.Error(t, err)
		assert.True(t, gerrors.IsValidation(err))
		assert.Contains(t, err.Error(), "partition key")
	})

	t.Run("persists across close and reopen", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "store")
		ctx := context.Background()

		store, err := Open(Options{Path: dir}, timesheetTable)
		require.NoError(t, err)
		_, err = store.Put(ctx, PutInput{Item: Item{
			"pk":   &types.AttributeValueMemberS{Value: "GRANT#G-1"},
			"sk":   &types.AttributeValueMemberS{Value: "META"},
			"name": &types.AttributeValueMemberS{Value: "Tidal Modelling"},
		}})
		require.NoError(t, err)
		require.NoError(t, store.Close())

		reopened, err := Open(Options{Path: dir}, timesheetTable)
		require.NoError(t, err)
		t.Cleanup(func() { reopened.Close() })

		got, err := reopened.Get(ctx, GetInput{Key: Item{
			"pk": &types.AttributeValueMemberS{Value: "GRANT#G-1"},
			"sk": &types.AttributeValueMemberS{Value: "META"},
		}})
		require.NoError(t, err)
		assert.Equal(t, "Tidal Modelling", got.Item["name"].(*types.AttributeValueMemberS).Value)
	})
}

func TestStore_RegisterKind(t *testing.T) {
	store := newTestStore(t, timesheetTable)

	t.Run("registers a kind once", func(t *testing.T) {
		require.NoError(t, store.RegisterKind("grant", nil))

		err := store.RegisterKind("grant", nil)
		require.Error(t, err)
		assert.True(t, gerrors.IsValidation(err))
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("rejects an empty kind name", func(t *testing.T) {
		err := store.RegisterKind("", nil)
		require.Error(t, err)
		assert.True(t, gerrors.IsValidation(err))
	})
}

func TestStore_Definition(t *testing.T) {
	store := newTestStore(t, timesheetTable)
	assert.Equal(t, timesheetTable, store.Definition())
}
