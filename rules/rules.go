// Package rules implements the write rules guarding timesheet items.
// Both rules cap the sum of a numeric attribute across the items one
// subject holds on one day: allocations by percent, entries by hours.
// The day is the sort-key segment before the first '#'.
package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/okvist/granary/docstore"
	"github.com/okvist/granary/internal/avutil"
	gerrors "github.com/okvist/granary/errors"
	"github.com/okvist/granary/table"
)

// Attribute names the rules read.
const (
	AttrPercent = "pct"
	AttrHours   = "hours"
)

// BudgetFunc resolves the hour budget of one day.
type BudgetFunc func(day string) float64

// FixedBudget is the same budget every day.
func FixedBudget(hours float64) BudgetFunc {
	return func(string) float64 { return hours }
}

// PercentCap rejects writes that would push the summed pct of one
// subject's items of Kind past Limit on any day. The bound is
// inclusive: a day summing to exactly Limit is accepted.
type PercentCap struct {
	Keys  table.PrimaryKeyDefinition
	Kind  string
	Limit float64
}

func (r PercentCap) Check(ctx context.Context, view docstore.ReadView, item docstore.Item) error {
	total, day, err := sumDay(ctx, view, r.Keys, r.Kind, AttrPercent, item)
	if err != nil {
		return err
	}
	if total > r.Limit {
		return gerrors.NewFieldValidationError(AttrPercent,
			"day %s would reach %s%%, the cap is %s%%", day, formatNumber(total), formatNumber(r.Limit))
	}
	return nil
}

// HoursCap rejects writes that would push the summed hours of one
// subject's items of Kind past the day's budget. The bound is
// inclusive.
type HoursCap struct {
	Keys   table.PrimaryKeyDefinition
	Kind   string
	Budget BudgetFunc
}

func (r HoursCap) Check(ctx context.Context, view docstore.ReadView, item docstore.Item) error {
	total, day, err := sumDay(ctx, view, r.Keys, r.Kind, AttrHours, item)
	if err != nil {
		return err
	}
	budget := r.Budget(day)
	if total > budget {
		return gerrors.NewFieldValidationError(AttrHours,
			"day %s would reach %sh, the budget is %sh", day, formatNumber(total), formatNumber(budget))
	}
	return nil
}

// sumDay computes the candidate's value plus the values of its stored
// siblings: items of the same kind under the same partition whose sort
// key names the same day. A stored item under the candidate's own key
// is being replaced and does not count.
func sumDay(ctx context.Context, view docstore.ReadView, keys table.PrimaryKeyDefinition, kind, attr string, item docstore.Item) (total float64, day string, err error) {
	if !keys.HasSortKey() {
		return 0, "", gerrors.NewValidationError("day rules need a sort key on the table")
	}
	candidate, err := ruleNumber(item, attr)
	if err != nil {
		return 0, "", err
	}
	sortKey, ok := item[keys.SortKey.Name].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", gerrors.NewFieldValidationError(keys.SortKey.Name, "day rules need a string sort key")
	}
	day = dayOf(sortKey.Value)
	partition, ok := item[keys.PartitionKey.Name]
	if !ok {
		return 0, "", gerrors.NewFieldValidationError(keys.PartitionKey.Name, "missing partition key")
	}
	out, err := view.Query(ctx, docstore.QueryInput{
		KeyCondition: "#pk = :pk AND begins_with(#sk, :day)",
		Filter:       strPtr("#kind = :kind"),
		ExpressionNames: map[string]string{
			"#pk":   keys.PartitionKey.Name,
			"#sk":   keys.SortKey.Name,
			"#kind": docstore.AttrKind,
		},
		ExpressionValues: map[string]types.AttributeValue{
			":pk":   partition,
			":day":  &types.AttributeValueMemberS{Value: day + "#"},
			":kind": &types.AttributeValueMemberS{Value: kind},
		},
	})
	if err != nil {
		return 0, "", err
	}
	total = candidate
	for _, sibling := range out.Items {
		sk, ok := sibling[keys.SortKey.Name].(*types.AttributeValueMemberS)
		if !ok {
			return 0, "", gerrors.NewFieldValidationError(keys.SortKey.Name, "stored sibling has a non-string sort key")
		}
		if sk.Value == sortKey.Value {
			continue
		}
		n, err := ruleNumber(sibling, attr)
		if err != nil {
			return 0, "", err
		}
		total += n
	}
	return total, day, nil
}

// ruleNumber reads the summed attribute. Missing, non-numeric and
// negative values all reject the write; nothing is skipped.
func ruleNumber(item docstore.Item, attr string) (float64, error) {
	av, ok := item[attr]
	if !ok {
		return 0, gerrors.NewFieldValidationError(attr, "required")
	}
	n, err := avutil.Number(av)
	if err != nil {
		return 0, gerrors.NewFieldValidationError(attr, "%v", err)
	}
	if n < 0 {
		return 0, gerrors.NewFieldValidationError(attr, "must not be negative, got %s", formatNumber(n))
	}
	return n, nil
}

// dayOf is the sort-key segment before the first '#'. A sort key
// without '#' is itself the day.
func dayOf(sortKey string) string {
	if i := strings.IndexByte(sortKey, '#'); i >= 0 {
		return sortKey[:i]
	}
	return sortKey
}

func formatNumber(f float64) string {
	return fmt.Sprintf("%g", f)
}

func strPtr(s string) *string {
	return &s
}
