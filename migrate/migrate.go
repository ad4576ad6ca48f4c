// Package migrate runs one-time data migrations. Each migration's
// writes are committed in a single transaction together with a marker
// item, so a migration either ran exactly once with its marker present,
// or not at all.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/okvist/granary/docstore"
	gerrors "github.com/okvist/granary/errors"
)

// MarkerPartition is the partition holding one marker per applied
// migration, sorted by migration ID.
const MarkerPartition = "MIGRATION"

// KindMarker tags marker items.
const KindMarker = "migration"

const attrAppliedAt = "appliedAt"

// Migration is one versioned change. Ops builds the writes; the runner
// commits them atomically with the marker. Reusing an ID means the
// migration never runs twice against the same store.
type Migration struct {
	ID  string
	Ops func(ctx context.Context, store *docstore.Store) ([]docstore.TransactOp, error)
}

// Marker records one applied migration.
type Marker struct {
	ID        string
	AppliedAt string
}

// Runner applies migrations in ID order.
type Runner struct {
	store      *docstore.Store
	logger     *slog.Logger
	migrations []Migration
	now        func() time.Time
}

// NewRunner registers the marker kind and orders the migrations.
func NewRunner(store *docstore.Store, logger *slog.Logger, migrations ...Migration) (*Runner, error) {
	if !store.Definition().Keys.HasSortKey() {
		return nil, gerrors.NewValidationError("migrations need a sort key on the table")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	seen := make(map[string]bool, len(migrations))
	for _, m := range migrations {
		if m.ID == "" {
			return nil, gerrors.NewValidationError("migration ID is required")
		}
		if seen[m.ID] {
			return nil, gerrors.NewValidationError("duplicate migration ID %q", m.ID)
		}
		seen[m.ID] = true
		if m.Ops == nil {
			return nil, gerrors.NewValidationError("migration %q has no Ops", m.ID)
		}
	}
	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	if err := store.RegisterKind(KindMarker, nil); err != nil {
		return nil, err
	}
	return &Runner{
		store:      store,
		logger:     logger,
		migrations: ordered,
		now:        time.Now,
	}, nil
}

// Apply runs every pending migration and returns the IDs it applied.
// Migrations whose marker already exists are skipped; the first real
// failure stops the run.
func (r *Runner) Apply(ctx context.Context) ([]string, error) {
	var applied []string
	for _, m := range r.migrations {
		ran, err := r.apply(ctx, m)
		if err != nil {
			return applied, err
		}
		if ran {
			applied = append(applied, m.ID)
		}
	}
	return applied, nil
}

func (r *Runner) apply(ctx context.Context, m Migration) (bool, error) {
	ops, err := m.Ops(ctx, r.store)
	if err != nil {
		return false, fmt.Errorf("migration %s: %w", m.ID, err)
	}
	keys := r.store.Definition().Keys
	marker := docstore.TransactOp{Put: &docstore.TransactPut{
		Item:            r.markerItem(m.ID),
		Condition:       aws.String("attribute_not_exists(#pk)"),
		ExpressionNames: map[string]string{"#pk": keys.PartitionKey.Name},
	}}
	err = r.store.TransactWrite(ctx, append([]docstore.TransactOp{marker}, ops...))
	var canceled *gerrors.TransactionCanceledError
	if errors.As(err, &canceled) && canceled.Index == 0 && gerrors.IsConditionalCheckFailed(canceled.Reason) {
		r.logger.Info("migration already applied", "id", m.ID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("migration %s: %w", m.ID, err)
	}
	r.logger.Info("migration applied", "id", m.ID, "ops", len(ops))
	return true, nil
}

func (r *Runner) markerItem(id string) docstore.Item {
	keys := r.store.Definition().Keys
	return docstore.Item{
		keys.PartitionKey.Name: &types.AttributeValueMemberS{Value: MarkerPartition},
		keys.SortKey.Name:      &types.AttributeValueMemberS{Value: id},
		docstore.AttrKind:      &types.AttributeValueMemberS{Value: KindMarker},
		attrAppliedAt:          &types.AttributeValueMemberS{Value: r.now().UTC().Format(time.RFC3339)},
	}
}

// Applied lists the markers present in the store, in ID order.
func (r *Runner) Applied(ctx context.Context) ([]Marker, error) {
	keys := r.store.Definition().Keys
	var markers []Marker
	var cursor docstore.Item
	for {
		out, err := r.store.Query(ctx, docstore.QueryInput{
			KeyCondition:    "#pk = :pk",
			ExpressionNames: map[string]string{"#pk": keys.PartitionKey.Name},
			ExpressionValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: MarkerPartition},
			},
			ExclusiveStartKey: cursor,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			markers = append(markers, markerOf(item, keys.SortKey.Name))
		}
		if out.LastEvaluatedKey == nil {
			return markers, nil
		}
		cursor = out.LastEvaluatedKey
	}
}

func markerOf(item docstore.Item, skAttr string) Marker {
	var m Marker
	if sk, ok := item[skAttr].(*types.AttributeValueMemberS); ok {
		m.ID = sk.Value
	}
	if at, ok := item[attrAppliedAt].(*types.AttributeValueMemberS); ok {
		m.AppliedAt = at.Value
	}
	return m
}
