// Package timesheet is the domain layer: grants, per-day allocations
// and logged hours, stored single-table in a granary document store.
//
// Layout:
//
//	grant      PK GRANT#<id>  SK META
//	allocation PK <subject>   SK <day>#<grant>
//	entry      PK <subject>   SK <day>#<grant>#<entry id>
//
// Allocations and entries carry a grant attribute, which projects them
// into the grant index; grant metadata items stay out of it.
package timesheet

// Item kinds registered with the store.
const (
	KindGrant      = "grant"
	KindAllocation = "allocation"
	KindEntry      = "entry"
)

// IndexGrant is the index answering "everything charging grant G".
const IndexGrant = "grant-index"

// AttrGrant is the index partition attribute.
const AttrGrant = "grant"

// Grant is a funding source.
type Grant struct {
	ID      string `dynamodbav:"id"`
	Name    string `dynamodbav:"name"`
	Sponsor string `dynamodbav:"sponsor,omitempty"`
	Active  bool   `dynamodbav:"active"`
}

// Allocation pins a share of one subject's day to a grant. Percent is
// the share; the store caps the per-day sum across grants.
type Allocation struct {
	Subject string  `dynamodbav:"subject"`
	Day     string  `dynamodbav:"day"`
	Grant   string  `dynamodbav:"grant"`
	Percent float64 `dynamodbav:"pct"`
}

// Entry is a block of worked hours charged to a grant. The store caps
// the per-day sum against the daily hour budget.
type Entry struct {
	Subject string  `dynamodbav:"subject"`
	Day     string  `dynamodbav:"day"`
	Grant   string  `dynamodbav:"grant"`
	ID      string  `dynamodbav:"id"`
	Hours   float64 `dynamodbav:"hours"`
	Note    string  `dynamodbav:"note,omitempty"`
}

// DayView is one subject-day: the allocations promised and the hours
// actually logged.
type DayView struct {
	Allocations []Allocation
	Entries     []Entry
}

const grantMetaSort = "META"

func grantPartition(id string) string {
	return "GRANT#" + id
}

func allocationSort(day, grant string) string {
	return day + "#" + grant
}

func entrySort(day, grant, id string) string {
	return day + "#" + grant + "#" + id
}
