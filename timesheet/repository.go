package timesheet

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/okvist/granary/docstore"
	gerrors "github.com/okvist/granary/errors"
	"github.com/okvist/granary/internal/avutil"
	"github.com/okvist/granary/rules"
)

// Rules carries the write-rule limits the repository registers.
type Rules struct {
	// PercentLimit caps the summed allocation pct per subject-day.
	PercentLimit float64
	// DailyHours caps the summed entry hours per subject-day.
	DailyHours float64
}

// Repository runs timesheet operations against one store. Creating it
// registers the item kinds and their guards, so a store backs at most
// one repository.
type Repository struct {
	store *docstore.Store
}

// NewRepository wires the timesheet kinds into the store.
func NewRepository(store *docstore.Store, r Rules) (*Repository, error) {
	keys := store.Definition().Keys
	if !keys.HasSortKey() {
		return nil, gerrors.NewValidationError("timesheet tables need a sort key")
	}
	if err := store.RegisterKind(KindGrant, nil); err != nil {
		return nil, err
	}
	err := store.RegisterKind(KindAllocation, rules.PercentCap{
		Keys:  keys,
		Kind:  KindAllocation,
		Limit: r.PercentLimit,
	})
	if err != nil {
		return nil, err
	}
	err = store.RegisterKind(KindEntry, rules.HoursCap{
		Keys:   keys,
		Kind:   KindEntry,
		Budget: rules.FixedBudget(r.DailyHours),
	})
	if err != nil {
		return nil, err
	}
	return &Repository{store: store}, nil
}

func (r *Repository) pkAttr() string {
	return r.store.Definition().Keys.PartitionKey.Name
}

func (r *Repository) skAttr() string {
	return r.store.Definition().Keys.SortKey.Name
}

// PutGrant stores grant metadata, overwriting any previous version.
func (r *Repository) PutGrant(ctx context.Context, g Grant) error {
	if g.ID == "" {
		return gerrors.NewFieldValidationError("id", "required")
	}
	item, err := attributevalue.MarshalMap(g)
	if err != nil {
		return err
	}
	item[r.pkAttr()] = &types.AttributeValueMemberS{Value: grantPartition(g.ID)}
	item[r.skAttr()] = &types.AttributeValueMemberS{Value: grantMetaSort}
	item[docstore.AttrKind] = &types.AttributeValueMemberS{Value: KindGrant}
	_, err = r.store.Put(ctx, docstore.PutInput{Item: item})
	return err
}

// GetGrant reads grant metadata. Missing grants fail with ErrNotFound.
func (r *Repository) GetGrant(ctx context.Context, id string) (*Grant, error) {
	out, err := r.store.Get(ctx, docstore.GetInput{Key: r.key(grantPartition(id), grantMetaSort)})
	if err != nil {
		return nil, err
	}
	var g Grant
	if err := attributevalue.UnmarshalMap(out.Item, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGrants scans for every grant metadata item.
func (r *Repository) ListGrants(ctx context.Context) ([]Grant, error) {
	var grants []Grant
	var cursor docstore.Item
	for {
		out, err := r.store.Scan(ctx, docstore.ScanInput{
			Filter:            aws.String("#kind = :kind"),
			ExpressionNames:   map[string]string{"#kind": docstore.AttrKind},
			ExpressionValues:  map[string]types.AttributeValue{":kind": &types.AttributeValueMemberS{Value: KindGrant}},
			ExclusiveStartKey: cursor,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			var g Grant
			if err := attributevalue.UnmarshalMap(item, &g); err != nil {
				return nil, err
			}
			grants = append(grants, g)
		}
		if out.LastEvaluatedKey == nil {
			return grants, nil
		}
		cursor = out.LastEvaluatedKey
	}
}

// SetAllocation writes one allocation, overwriting a previous pledge of
// the same subject-day-grant. The allocation guard rejects writes that
// would push the day past the percent cap.
func (r *Repository) SetAllocation(ctx context.Context, a Allocation) error {
	if err := checkDayShape(a.Subject, a.Day, a.Grant); err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(a)
	if err != nil {
		return err
	}
	item[r.pkAttr()] = &types.AttributeValueMemberS{Value: a.Subject}
	item[r.skAttr()] = &types.AttributeValueMemberS{Value: allocationSort(a.Day, a.Grant)}
	item[docstore.AttrKind] = &types.AttributeValueMemberS{Value: KindAllocation}
	_, err = r.store.Put(ctx, docstore.PutInput{Item: item})
	return err
}

// DeleteAllocation removes a pledge. Absent allocations are a no-op.
func (r *Repository) DeleteAllocation(ctx context.Context, subject, day, grant string) error {
	_, err := r.store.Delete(ctx, docstore.DeleteInput{
		Key: r.key(subject, allocationSort(day, grant)),
	})
	return err
}

// Allocations lists one subject-day's pledges.
func (r *Repository) Allocations(ctx context.Context, subject, day string) ([]Allocation, error) {
	var allocs []Allocation
	err := r.queryDay(ctx, subject, day, KindAllocation, func(item docstore.Item) error {
		var a Allocation
		if err := attributevalue.UnmarshalMap(item, &a); err != nil {
			return err
		}
		allocs = append(allocs, a)
		return nil
	})
	return allocs, err
}

// LogEntry stores a block of worked hours. A missing ID is assigned;
// an explicit ID must not collide with a stored entry. The entry guard
// rejects hours past the day budget.
func (r *Repository) LogEntry(ctx context.Context, e Entry) (*Entry, error) {
	if err := checkDayShape(e.Subject, e.Day, e.Grant); err != nil {
		return nil, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return nil, err
	}
	item[r.pkAttr()] = &types.AttributeValueMemberS{Value: e.Subject}
	item[r.skAttr()] = &types.AttributeValueMemberS{Value: entrySort(e.Day, e.Grant, e.ID)}
	item[docstore.AttrKind] = &types.AttributeValueMemberS{Value: KindEntry}
	_, err = r.store.Put(ctx, docstore.PutInput{
		Item:            item,
		Condition:       aws.String("attribute_not_exists(#pk)"),
		ExpressionNames: map[string]string{"#pk": r.pkAttr()},
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteEntry removes one logged block.
func (r *Repository) DeleteEntry(ctx context.Context, subject, day, grant, id string) error {
	_, err := r.store.Delete(ctx, docstore.DeleteInput{
		Key: r.key(subject, entrySort(day, grant, id)),
	})
	return err
}

// Entries lists one subject-day's logged hours.
func (r *Repository) Entries(ctx context.Context, subject, day string) ([]Entry, error) {
	var entries []Entry
	err := r.queryDay(ctx, subject, day, KindEntry, func(item docstore.Item) error {
		var e Entry
		if err := attributevalue.UnmarshalMap(item, &e); err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// AddHours shifts a stored entry by delta hours through an update
// expression; the entry guard re-checks the day budget against the
// result. The entry must exist.
func (r *Repository) AddHours(ctx context.Context, subject, day, grant, id string, delta float64) (*Entry, error) {
	out, err := r.store.Update(ctx, docstore.UpdateInput{
		Key:       r.key(subject, entrySort(day, grant, id)),
		Update:    "SET #h = #h + :d",
		Condition: aws.String("attribute_exists(#h)"),
		ExpressionNames: map[string]string{
			"#h": rules.AttrHours,
		},
		ExpressionValues: map[string]types.AttributeValue{
			":d": avutil.NumberAttr(delta),
		},
	})
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := attributevalue.UnmarshalMap(out.Item, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ChargesForGrant lists everything charging one grant across subjects,
// through the grant index.
func (r *Repository) ChargesForGrant(ctx context.Context, grant string) (*DayView, error) {
	view := &DayView{}
	var cursor docstore.Item
	for {
		out, err := r.store.Query(ctx, docstore.QueryInput{
			IndexName:         aws.String(IndexGrant),
			KeyCondition:      "#g = :g",
			ExpressionNames:   map[string]string{"#g": AttrGrant},
			ExpressionValues:  map[string]types.AttributeValue{":g": &types.AttributeValueMemberS{Value: grant}},
			ExclusiveStartKey: cursor,
		})
		if err != nil {
			return nil, err
		}
		if err := view.collect(out.Items); err != nil {
			return nil, err
		}
		if out.LastEvaluatedKey == nil {
			return view, nil
		}
		cursor = out.LastEvaluatedKey
	}
}

// Day reads one subject-day in a single query and splits the items by
// kind.
func (r *Repository) Day(ctx context.Context, subject, day string) (*DayView, error) {
	view := &DayView{}
	err := r.queryDay(ctx, subject, day, "", view.collectOne)
	if err != nil {
		return nil, err
	}
	return view, nil
}

// queryDay pages through one subject-day prefix, optionally filtered to
// a single kind.
func (r *Repository) queryDay(ctx context.Context, subject, day, kind string, visit func(docstore.Item) error) error {
	in := docstore.QueryInput{
		KeyCondition: "#pk = :pk AND begins_with(#sk, :day)",
		ExpressionNames: map[string]string{
			"#pk": r.pkAttr(),
			"#sk": r.skAttr(),
		},
		ExpressionValues: map[string]types.AttributeValue{
			":pk":  &types.AttributeValueMemberS{Value: subject},
			":day": &types.AttributeValueMemberS{Value: day + "#"},
		},
	}
	if kind != "" {
		in.Filter = aws.String("#kind = :kind")
		in.ExpressionNames["#kind"] = docstore.AttrKind
		in.ExpressionValues[":kind"] = &types.AttributeValueMemberS{Value: kind}
	}
	for {
		out, err := r.store.Query(ctx, in)
		if err != nil {
			return err
		}
		for _, item := range out.Items {
			if err := visit(item); err != nil {
				return err
			}
		}
		if out.LastEvaluatedKey == nil {
			return nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (v *DayView) collect(items []docstore.Item) error {
	for _, item := range items {
		if err := v.collectOne(item); err != nil {
			return err
		}
	}
	return nil
}

func (v *DayView) collectOne(item docstore.Item) error {
	kind, _ := item[docstore.AttrKind].(*types.AttributeValueMemberS)
	if kind == nil {
		return nil
	}
	switch kind.Value {
	case KindAllocation:
		var a Allocation
		if err := attributevalue.UnmarshalMap(item, &a); err != nil {
			return err
		}
		v.Allocations = append(v.Allocations, a)
	case KindEntry:
		var e Entry
		if err := attributevalue.UnmarshalMap(item, &e); err != nil {
			return err
		}
		v.Entries = append(v.Entries, e)
	}
	return nil
}

func (r *Repository) key(pk, sk string) docstore.Item {
	return docstore.Item{
		r.pkAttr(): &types.AttributeValueMemberS{Value: pk},
		r.skAttr(): &types.AttributeValueMemberS{Value: sk},
	}
}

// checkDayShape validates the key fragments shared by allocations and
// entries. Days must not contain '#': it is the segment separator the
// day rules split on.
func checkDayShape(subject, day, grant string) error {
	if subject == "" {
		return gerrors.NewFieldValidationError("subject", "required")
	}
	if day == "" {
		return gerrors.NewFieldValidationError("day", "required")
	}
	if strings.ContainsRune(day, '#') {
		return gerrors.NewFieldValidationError("day", "must not contain '#'")
	}
	if grant == "" {
		return gerrors.NewFieldValidationError("grant", "required")
	}
	return nil
}

