package migrate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okvist/granary/docstore"
	gerrors "github.com/okvist/granary/errors"
	"github.com/okvist/granary/table"
)

var markerTable = table.Definition{
	Name: "timesheet",
	Keys: table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
		SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindS},
	},
}

func newMigrateStore(t *testing.T) *docstore.Store {
	t.Helper()
	store, err := docstore.Open(docstore.Options{InMemory: true}, markerTable)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedItem(pk, sk string) docstore.Item {
	return docstore.Item{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: sk},
	}
}

// putMigration builds a migration writing the given items.
func putMigration(id string, items ...docstore.Item) Migration {
	return Migration{
		ID: id,
		Ops: func(ctx context.Context, store *docstore.Store) ([]docstore.TransactOp, error) {
			ops := make([]docstore.TransactOp, 0, len(items))
			for _, item := range items {
				ops = append(ops, docstore.TransactOp{Put: &docstore.TransactPut{Item: item}})
			}
			return ops, nil
		},
	}
}

func TestNewRunner(t *testing.T) {
	cases := []struct {
		name       string
		migrations []Migration
		msg        string
	}{
		{"missing ID", []Migration{putMigration("")}, "migration ID is required"},
		{"duplicate ID", []Migration{putMigration("001"), putMigration("001")}, "duplicate migration ID"},
		{"missing Ops", []Migration{{ID: "001"}}, "has no Ops"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRunner(newMigrateStore(t), nil, tc.migrations...)
			require.Error(t, err)
			assert.True(t, gerrors.IsValidation(err))
			assert.Contains(t, err.Error(), tc.msg)
		})
	}

	t.Run("needs a sort key", func(t *testing.T) {
		store, err := docstore.Open(docstore.Options{InMemory: true}, table.Definition{
			Name: "flat",
			Keys: table.PrimaryKeyDefinition{
				PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
			},
		})
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })

		_, err = NewRunner(store, nil, putMigration("001"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "need a sort key")
	})
}

func TestRunner_Apply(t *testing.T) {
	ctx := context.Background()
	store := newMigrateStore(t)

	// Registered out of order on purpose.
	runner, err := NewRunner(store, nil,
		putMigration("002-backfill", seedItem("GRANT#G-1", "BACKFILL")),
		putMigration("001-seed", seedItem("GRANT#G-1", "META")),
	)
	require.NoError(t, err)
	runner.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }

	applied, err := runner.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001-seed", "002-backfill"}, applied)

	t.Run("payloads landed", func(t *testing.T) {
		for _, sk := range []string{"META", "BACKFILL"} {
			_, err := store.Get(ctx, docstore.GetInput{Key: seedItem("GRANT#G-1", sk)})
			assert.NoError(t, err, sk)
		}
	})

	t.Run("markers record the run", func(t *testing.T) {
		markers, err := runner.Applied(ctx)
		require.NoError(t, err)
		assert.Equal(t, []Marker{
			{ID: "001-seed", AppliedAt: "2026-03-02T09:00:00Z"},
			{ID: "002-backfill", AppliedAt: "2026-03-02T09:00:00Z"},
		}, markers)
	})

	t.Run("a second run applies nothing", func(t *testing.T) {
		applied, err := runner.Apply(ctx)
		require.NoError(t, err)
		assert.Empty(t, applied)

		markers, err := runner.Applied(ctx)
		require.NoError(t, err)
		assert.Len(t, markers, 2)
	})
}

func TestRunner_AppliesOnceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "store")

	open := func() *docstore.Store {
		store, err := docstore.Open(docstore.Options{Path: dir}, markerTable)
		require.NoError(t, err)
		return store
	}

	store := open()
	runner, err := NewRunner(store, nil, putMigration("001-seed", seedItem("GRANT#G-1", "META")))
	require.NoError(t, err)
	applied, err := runner.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"001-seed"}, applied)
	require.NoError(t, store.Close())

	store = open()
	t.Cleanup(func() { store.Close() })
	runner, err = NewRunner(store, nil, putMigration("001-seed", seedItem("GRANT#G-1", "META")))
	require.NoError(t, err)

	applied, err = runner.Apply(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)

	markers, err := runner.Applied(ctx)
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, "001-seed", markers[0].ID)
}

func TestRunner_FailureStopsTheRun(t *testing.T) {
	ctx := context.Background()
	store := newMigrateStore(t)

	bad := Migration{
		ID: "001-bad",
		Ops: func(ctx context.Context, store *docstore.Store) ([]docstore.TransactOp, error) {
			return []docstore.TransactOp{
				{Put: &docstore.TransactPut{Item: seedItem("GRANT#G-1", "META")}},
				{Put: &docstore.TransactPut{
					Item:            seedItem("GRANT#G-2", "META"),
					Condition:       aws.String("attribute_exists(#pk)"),
					ExpressionNames: map[string]string{"#pk": "pk"},
				}},
			}, nil
		},
	}
	runner, err := NewRunner(store, nil, bad, putMigration("002-later", seedItem("GRANT#G-3", "META")))
	require.NoError(t, err)

	applied, err := runner.Apply(ctx)
	require.Error(t, err)
	assert.Empty(t, applied)
	assert.Contains(t, err.Error(), "migration 001-bad")
	assert.True(t, gerrors.IsTransactionCanceled(err))

	t.Run("no partial writes", func(t *testing.T) {
		for _, pk := range []string{"GRANT#G-1", "GRANT#G-2", "GRANT#G-3"} {
			_, err := store.Get(ctx, docstore.GetInput{Key: seedItem(pk, "META")})
			assert.True(t, gerrors.IsNotFound(err), pk)
		}
	})

	t.Run("no markers", func(t *testing.T) {
		markers, err := runner.Applied(ctx)
		require.NoError(t, err)
		assert.Empty(t, markers)
	})
}

func TestRunner_OpsError(t *testing.T) {
	ctx := context.Background()
	runner, err := NewRunner(newMigrateStore(t), nil, Migration{
		ID: "001-broken",
		Ops: func(ctx context.Context, store *docstore.Store) ([]docstore.TransactOp, error) {
			return nil, errors.New("backfill source unavailable")
		},
	})
	require.NoError(t, err)

	_, err = runner.Apply(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 001-broken: backfill source unavailable")
}
