package docstore

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "github.com/okvist/granary/errors"
	"github.com/okvist/granary/internal/avutil"
)

func TestStore_KindRegistry(t *testing.T) {
	t.Run("untagged items bypass the registry", func(t *testing.T) {
		store := newTestStore(t, timesheetTable)

		_, err := store.Put(context.Background(), PutInput{Item: Item{
			"pk": &types.AttributeValueMemberS{Value: "GRANT#G-1"},
			"sk": &types.AttributeValueMemberS{Value: "META"},
		}})
		require.NoError(t, err)
	})

	t.Run("an unregistered kind is rejected", func(t *testing.T) {
		store := newTestStore(t, timesheetTable)

		_, err := store.Put(context.Background(), PutInput{Item: Item{
			"pk":   &types.AttributeValueMemberS{Value: "GRANT#G-1"},
			"sk":   &types.AttributeValueMemberS{Value: "META"},
			"kind": &types.AttributeValueMemberS{Value: "mystery"},
		}})
		require.Error(t, err)
		assert.True(t, gerrors.IsValidation(err))
		assert.Contains(t, err.Error(), "not a registered kind")
	})

	t.Run("the kind attribute must be a string", func(t *testing.T) {
		store := newTestStore(t, timesheetTable)

		_, err := store.Put(context.Background(), PutInput{Item: Item{
			"pk":   &types.AttributeValueMemberS{Value: "GRANT#G-1"},
			"sk":   &types.AttributeValueMemberS{Value: "META"},
			"kind": &types.AttributeValueMemberN{Value: "7"},
		}})
		require.Error(t, err)
		assert.True(t, gerrors.IsValidation(err))
		assert.Contains(t, err.Error(), "string")
	})

	t.Run("a registered kind without a guard passes", func(t *testing.T) {
		store := newTestStore(t, timesheetTable)
		require.NoError(t, store.RegisterKind("grant", nil))

		_, err := store.Put(context.Background(), PutInput{Item: Item{
			"pk":   &types.AttributeValueMemberS{Value: "GRANT#G-1"},
			"sk":   &types.AttributeValueMemberS{Value: "META"},
			"kind": &types.AttributeValueMemberS{Value: "grant"},
		}})
		require.NoError(t, err)
	})

	t.Run("updates dispatch the registry too", func(t *testing.T) {
		store := newTestStore(t, timesheetTable)

		_, err := store.Update(context.Background(), UpdateInput{
			Key: Item{
				"pk": &types.AttributeValueMemberS{Value: "GRANT#G-1"},
				"sk": &types.AttributeValueMemberS{Value: "META"},
			},
			Update:           "SET kind = :k",
			ExpressionValues: map[string]types.AttributeValue{":k": &types.AttributeValueMemberS{Value: "mystery"}},
		})
		require.Error(t, err)
		assert.True(t, gerrors.IsValidation(err))
		assert.Contains(t, err.Error(), "not a registered kind")
	})
}

func TestStore_Guard(t *testing.T) {
	// budgetGuard rejects entries whose hours exceed the budget stored
	// on a config item, read through the guard's snapshot view.
	budgetGuard := GuardFunc(func(ctx context.Context, view ReadView, item Item) error {
		cfg, err := view.Get(ctx, Item{
			"pk": &types.AttributeValueMemberS{Value: "CONFIG"},
			"sk": &types.AttributeValueMemberS{Value: "BUDGET"},
		})
		if err != nil {
			return err
		}
		if cfg == nil {
			return gerrors.NewValidationError("no budget configured")
		}
		budget, err := avutil.Number(cfg["max"])
		if err != nil {
			return err
		}
		hours, err := avutil.Number(item["hours"])
		if err != nil {
			return err
		}
		if hours > budget {
			return gerrors.NewFieldValidationError("hours", "%v exceeds the budget %v", hours, budget)
		}
		return nil
	})

	newGuardedStore := func(t *testing.T) *Store {
		t.Helper()
		store := newTestStore(t, timesheetTable)
		require.NoError(t, store.RegisterKind("entry", budgetGuard))
		_, err := store.Put(context.Background(), PutInput{Item: Item{
			"pk":  &types.AttributeValueMemberS{Value: "CONFIG"},
			"sk":  &types.AttributeValueMemberS{Value: "BUDGET"},
			"max": &types.AttributeValueMemberN{Value: "8"},
		}})
		require.NoError(t, err)
		return store
	}

	t.Run("the guard reads other items through the snapshot", func(t *testing.T) {
		store := newGuardedStore(t)
		ctx := context.Background()

		_, err := store.Put(ctx, PutInput{Item: Item{
			"pk":    &types.AttributeValueMemberS{Value: "SUBJECT#ada"},
			"sk":    &types.AttributeValueMemberS{Value: "2026-03-02#G-1#e1"},
			"kind":  &types.AttributeValueMemberS{Value: "entry"},
			"hours": &types.AttributeValueMemberN{Value: "8"},
		}})
		require.NoError(t, err)

		_, err = store.Put(ctx, PutInput{Item: Item{
			"pk":    &types.AttributeValueMemberS{Value: "SUBJECT#ada"},
			"sk":    &types.AttributeValueMemberS{Value: "2026-03-02#G-1#e2"},
			"kind":  &types.AttributeValueMemberS{Value: "entry"},
			"hours": &types.AttributeValueMemberN{Value: "9"},
		}})
		require.Error(t, err)
		assert.True(t, gerrors.IsValidation(err))
		assert.Contains(t, err.Error(), "exceeds the budget")
	})

	t.Run("the guard vets the updated item, not the stored one", func(t *testing.T) {
		store := newGuardedStore(t)
		ctx := context.Background()

		key := Item{
			"pk": &types.AttributeValueMemberS{Value: "SUBJECT#ada"},
			"sk": &types.AttributeValueMemberS{Value: "2026-03-02#G-1#e1"},
		}
		_, err := store.Put(ctx, PutInput{Item: Item{
			"pk":    key["pk"],
			"sk":    key["sk"],
			"kind":  &types.AttributeValueMemberS{Value: "entry"},
			"hours": &types.AttributeValueMemberN{Value: "5"},
		}})
		require.NoError(t, err)

		_, err = store.Update(ctx, UpdateInput{
			Key:              key,
			Update:           "SET hours = :h",
			ExpressionValues: map[string]types.AttributeValue{":h": &types.AttributeValueMemberN{Value: "12"}},
		})
		require.Error(t, err)
		assert.True(t, gerrors.IsValidation(err))

		got, err := store.Get(ctx, GetInput{Key: key})
		require.NoError(t, err)
		assert.Equal(t, "5", got.Item["hours"].(*types.AttributeValueMemberN).Value)
	})

	t.Run("the guard can query the snapshot", func(t *testing.T) {
		store := newTestStore(t, timesheetTable)
		ctx := context.Background()

		// At most two drafts per partition.
		capGuard := GuardFunc(func(ctx context.Context, view ReadView, item Item) error {
			out, err := view.Query(ctx, QueryInput{
				KeyCondition:     "pk = :pk",
				ExpressionValues: map[string]types.AttributeValue{":pk": item["pk"]},
			})
			if err != nil {
				return err
			}
			if out.Count >= 2 {
				return gerrors.NewValidationError("partition already holds %d drafts", out.Count)
			}
			return nil
		})
		require.NoError(t, store.RegisterKind("draft", capGuard))

		for _, sk := range []string{"a", "b"} {
			_, err := store.Put(ctx, PutInput{Item: Item{
				"pk":   &types.AttributeValueMemberS{Value: "SUBJECT#ada"},
				"sk":   &types.AttributeValueMemberS{Value: sk},
				"kind": &types.AttributeValueMemberS{Value: "draft"},
			}})
			require.NoError(t, err)
		}

		_, err := store.Put(ctx, PutInput{Item: Item{
			"pk":   &types.AttributeValueMemberS{Value: "SUBJECT#ada"},
			"sk":   &types.AttributeValueMemberS{Value: "c"},
			"kind": &types.AttributeValueMemberS{Value: "draft"},
		}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already holds 2")
	})
}
