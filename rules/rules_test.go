package rules

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okvist/granary/docstore"
	gerrors "github.com/okvist/granary/errors"
	"github.com/okvist/granary/table"
)

var timesheetKeys = table.PrimaryKeyDefinition{
	PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
	SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindS},
}

func newRuleStore(t *testing.T) *docstore.Store {
	t.Helper()
	store, err := docstore.Open(docstore.Options{InMemory: true}, table.Definition{
		Name: "timesheet",
		Keys: timesheetKeys,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func allocation(subject, sort, pct string) docstore.Item {
	return docstore.Item{
		"pk":   &types.AttributeValueMemberS{Value: "SUBJECT#" + subject},
		"sk":   &types.AttributeValueMemberS{Value: sort},
		"kind": &types.AttributeValueMemberS{Value: "allocation"},
		"pct":  &types.AttributeValueMemberN{Value: pct},
	}
}

func entry(subject, sort, hours string) docstore.Item {
	return docstore.Item{
		"pk":    &types.AttributeValueMemberS{Value: "SUBJECT#" + subject},
		"sk":    &types.AttributeValueMemberS{Value: sort},
		"kind":  &types.AttributeValueMemberS{Value: "entry"},
		"hours": &types.AttributeValueMemberN{Value: hours},
	}
}

func TestPercentCap(t *testing.T) {
	ctx := context.Background()
	store := newRuleStore(t)
	require.NoError(t, store.RegisterKind("allocation", PercentCap{Keys: timesheetKeys, Kind: "allocation", Limit: 100}))
	require.NoError(t, store.RegisterKind("note", nil))

	put := func(item docstore.Item) error {
		_, err := store.Put(ctx, docstore.PutInput{Item: item})
		return err
	}

	require.NoError(t, put(allocation("ada", "2026-03-02#G-1", "60")))
	require.NoError(t, put(allocation("ada", "2026-03-02#G-2", "31")))

	t.Run("rejects the write pushing the day past the cap", func(t *testing.T) {
		err := put(allocation("ada", "2026-03-02#G-3", "10"))
		require.Error(t, err)
		assert.True(t, gerrors.IsValidation(err))
		assert.Contains(t, err.Error(), "would reach 101%, the cap is 100%")
	})

	t.Run("accepts the write landing exactly on the cap", func(t *testing.T) {
		require.NoError(t, put(allocation("ada", "2026-03-02#G-3", "9")))
	})

	t.Run("replacing an item does not count its stored version", func(t *testing.T) {
		// The day holds 60 + 31 + 9. Replacing G-1 competes with the
		// other 40 only.
		require.NoError(t, put(allocation("ada", "2026-03-02#G-1", "60")))

		err := put(allocation("ada", "2026-03-02#G-1", "61"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "would reach 101%, the cap is 100%")
	})

	t.Run("days are independent", func(t *testing.T) {
		require.NoError(t, put(allocation("ada", "2026-03-03#G-1", "100")))

		err := put(allocation("ada", "2026-03-03#G-2", "1"))
		require.Error(t, err)
		assert.True(t, gerrors.IsValidation(err))
	})

	t.Run("subjects are independent", func(t *testing.T) {
		require.NoError(t, put(allocation("bob", "2026-03-02#G-1", "100")))
	})

	t.Run("items of other kinds do not count", func(t *testing.T) {
		note := docstore.Item{
			"pk":   &types.AttributeValueMemberS{Value: "SUBJECT#ada"},
			"sk":   &types.AttributeValueMemberS{Value: "2026-03-04#misc"},
			"kind": &types.AttributeValueMemberS{Value: "note"},
			"pct":  &types.AttributeValueMemberN{Value: "90"},
		}
		require.NoError(t, put(note))
		require.NoError(t, put(allocation("ada", "2026-03-04#G-1", "100")))
	})

	t.Run("untagged items do not count", func(t *testing.T) {
		plain := docstore.Item{
			"pk":  &types.AttributeValueMemberS{Value: "SUBJECT#ada"},
			"sk":  &types.AttributeValueMemberS{Value: "2026-03-05#misc"},
			"pct": &types.AttributeValueMemberN{Value: "90"},
		}
		require.NoError(t, put(plain))
		require.NoError(t, put(allocation("ada", "2026-03-05#G-1", "100")))
	})

	t.Run("update is vetted on its result", func(t *testing.T) {
		// 2026-03-03 holds a single allocation of 100.
		_, err := store.Update(ctx, docstore.UpdateInput{
			Key: docstore.Item{
				"pk": &types.AttributeValueMemberS{Value: "SUBJECT#ada"},
				"sk": &types.AttributeValueMemberS{Value: "2026-03-03#G-1"},
			},
			Update: "SET pct = pct + :more",
			ExpressionValues: map[string]types.AttributeValue{
				":more": &types.AttributeValueMemberN{Value: "1"},
			},
		})
		require.Error(t, err)
		assert.True(t, gerrors.IsValidation(err))
		assert.Contains(t, err.Error(), "would reach 101%")

		out, err := store.Get(ctx, docstore.GetInput{Key: docstore.Item{
			"pk": &types.AttributeValueMemberS{Value: "SUBJECT#ada"},
			"sk": &types.AttributeValueMemberS{Value: "2026-03-03#G-1"},
		}})
		require.NoError(t, err)
		assert.Equal(t, &types.AttributeValueMemberN{Value: "100"}, out.Item["pct"])
	})
}

func TestPercentCap_RejectsBadValues(t *testing.T) {
	ctx := context.Background()
	store := newRuleStore(t)
	require.NoError(t, store.RegisterKind("allocation", PercentCap{Keys: timesheetKeys, Kind: "allocation", Limit: 100}))

	cases := []struct {
		name string
		item docstore.Item
		msg  string
	}{
		{"missing pct", docstore.Item{
			"pk":   &types.AttributeValueMemberS{Value: "SUBJECT#ada"},
			"sk":   &types.AttributeValueMemberS{Value: "2026-03-02#G-1"},
			"kind": &types.AttributeValueMemberS{Value: "allocation"},
		}, "required"},
		{"non-numeric pct", docstore.Item{
			"pk":   &types.AttributeValueMemberS{Value: "SUBJECT#ada"},
			"sk":   &types.AttributeValueMemberS{Value: "2026-03-02#G-1"},
			"kind": &types.AttributeValueMemberS{Value: "allocation"},
			"pct":  &types.AttributeValueMemberS{Value: "sixty"},
		}, `"pct"`},
		{"negative pct", allocation("ada", "2026-03-02#G-1", "-5"), "must not be negative"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.Put(ctx, docstore.PutInput{Item: tc.item})
			require.Error(t, err)
			assert.True(t, gerrors.IsValidation(err))
			assert.Contains(t, err.Error(), tc.msg)
		})
	}

	t.Run("nothing is stored after a rejection", func(t *testing.T) {
		_, err := store.Get(ctx, docstore.GetInput{Key: docstore.Item{
			"pk": &types.AttributeValueMemberS{Value: "SUBJECT#ada"},
			"sk": &types.AttributeValueMemberS{Value: "2026-03-02#G-1"},
		}})
		require.Error(t, err)
		assert.True(t, gerrors.IsNotFound(err))
	})
}

func TestPercentCap_NeedsSortKey(t *testing.T) {
	ctx := context.Background()
	flatKeys := table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
	}
	store, err := docstore.Open(docstore.Options{InMemory: true}, table.Definition{Name: "flat", Keys: flatKeys})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.RegisterKind("allocation", PercentCap{Keys: flatKeys, Kind: "allocation", Limit: 100}))

	_, err = store.Put(ctx, docstore.PutInput{Item: docstore.Item{
		"pk":   &types.AttributeValueMemberS{Value: "SUBJECT#ada"},
		"kind": &types.AttributeValueMemberS{Value: "allocation"},
		"pct":  &types.AttributeValueMemberN{Value: "10"},
	}})
	require.Error(t, err)
	assert.True(t, gerrors.IsValidation(err))
	assert.Contains(t, err.Error(), "need a sort key")
}

func TestHoursCap(t *testing.T) {
	ctx := context.Background()
	store := newRuleStore(t)
	budgets := map[string]float64{"2026-03-07": 0}
	budget := func(day string) float64 {
		if b, ok := budgets[day]; ok {
			return b
		}
		return 8
	}
	require.NoError(t, store.RegisterKind("entry", HoursCap{Keys: timesheetKeys, Kind: "entry", Budget: budget}))

	put := func(item docstore.Item) error {
		_, err := store.Put(ctx, docstore.PutInput{Item: item})
		return err
	}

	require.NoError(t, put(entry("ada", "2026-03-02#G-1", "5")))

	t.Run("accepts a day filled exactly to its budget", func(t *testing.T) {
		require.NoError(t, put(entry("ada", "2026-03-02#G-2", "3")))
	})

	t.Run("rejects the write pushing the day past its budget", func(t *testing.T) {
		err := put(entry("ada", "2026-03-02#G-3", "0.5"))
		require.Error(t, err)
		assert.True(t, gerrors.IsValidation(err))
		assert.Contains(t, err.Error(), "would reach 8.5h, the budget is 8h")
	})

	t.Run("replacing an entry frees its stored hours", func(t *testing.T) {
		require.NoError(t, put(entry("ada", "2026-03-02#G-1", "5")))

		err := put(entry("ada", "2026-03-02#G-1", "5.5"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "would reach 8.5h")
	})

	t.Run("the budget is resolved per day", func(t *testing.T) {
		err := put(entry("ada", "2026-03-07#G-1", "1"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "would reach 1h, the budget is 0h")

		require.NoError(t, put(entry("ada", "2026-03-07#G-2", "0")))
	})

	t.Run("a sort key without a separator is its own day", func(t *testing.T) {
		err := put(entry("ada", "2026-03-02", "4"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "would reach 12h")
	})
}

func TestRules_InTransactions(t *testing.T) {
	ctx := context.Background()
	store := newRuleStore(t)
	require.NoError(t, store.RegisterKind("allocation", PercentCap{Keys: timesheetKeys, Kind: "allocation", Limit: 100}))

	_, err := store.Put(ctx, docstore.PutInput{Item: allocation("ada", "2026-03-02#G-1", "60")})
	require.NoError(t, err)
	_, err = store.Put(ctx, docstore.PutInput{Item: allocation("ada", "2026-03-02#G-2", "31")})
	require.NoError(t, err)

	t.Run("guards validate against the state before the transaction", func(t *testing.T) {
		// Moving the G-1 allocation to G-3 deletes and rewrites it, but
		// validation still sees the stored G-1, so the day appears to
		// sum past the cap.
		err := store.TransactWrite(ctx, []docstore.TransactOp{
			{Delete: &docstore.TransactDelete{Key: docstore.Item{
				"pk": &types.AttributeValueMemberS{Value: "SUBJECT#ada"},
				"sk": &types.AttributeValueMemberS{Value: "2026-03-02#G-1"},
			}}},
			{Put: &docstore.TransactPut{Item: allocation("ada", "2026-03-02#G-3", "60")}},
		})
		require.Error(t, err)
		assert.True(t, gerrors.IsTransactionCanceled(err))
		assert.True(t, gerrors.IsValidation(err))

		var canceled *gerrors.TransactionCanceledError
		require.ErrorAs(t, err, &canceled)
		assert.Equal(t, 1, canceled.Index)

		out, err := store.Get(ctx, docstore.GetInput{Key: docstore.Item{
			"pk": &types.AttributeValueMemberS{Value: "SUBJECT#ada"},
			"sk": &types.AttributeValueMemberS{Value: "2026-03-02#G-1"},
		}})
		require.NoError(t, err)
		assert.Equal(t, &types.AttributeValueMemberN{Value: "60"}, out.Item["pct"])
	})

	t.Run("writes on separate days land together", func(t *testing.T) {
		err := store.TransactWrite(ctx, []docstore.TransactOp{
			{Put: &docstore.TransactPut{Item: allocation("ada", "2026-03-03#G-1", "50")}},
			{Put: &docstore.TransactPut{Item: allocation("ada", "2026-03-04#G-1", "50")}},
		})
		require.NoError(t, err)
	})
}
