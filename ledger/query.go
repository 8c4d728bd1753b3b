package ledger

import (
	"sort"
	"strings"
	"time"
)

// =============================================================================
// QUERY - Filtering, sorting and pagination of transactions
// =============================================================================

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Filter selects transactions. Zero fields match everything.
type Filter struct {
	Query         string // id, holder id or holder name, case-insensitive
	Kind          ItemKind
	Program       Program
	SourceProgram Program
	From          *time.Time // inclusive, by calendar day
	To            *time.Time // inclusive, by calendar day
}

// Page is an offset/limit window.
type Page struct {
	Offset int
	Limit  int
}

// Normalize applies the default size and the cap.
func (p Page) Normalize(maxSize int) Page {
	if maxSize <= 0 {
		maxSize = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > maxSize {
		p.Limit = maxSize
	}
	return p
}

// Matches reports whether tx satisfies f. names maps holder ids to names.
func (f Filter) Matches(tx Transaction, names map[AccountHolderID]string) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(string(tx.ID)), q) &&
			!strings.Contains(strings.ToLower(string(tx.AccountHolderID)), q) &&
			!strings.Contains(strings.ToLower(names[tx.AccountHolderID]), q) {
			return false
		}
	}

	if f.Kind != "" || f.Program != "" || f.SourceProgram != "" {
		if !anyItem(tx.Items, func(it LineItem) bool {
			return (f.Kind == "" || it.Kind == f.Kind) &&
				(f.Program == "" || it.Program == f.Program) &&
				(f.SourceProgram == "" || (it.Kind == KindTransfer && it.SourceProgram == f.SourceProgram))
		}) {
			return false
		}
	}

	day := dayOf(tx.Date)
	if f.From != nil && day < dayOf(*f.From) {
		return false
	}
	if f.To != nil && day > dayOf(*f.To) {
		return false
	}
	return true
}

func anyItem(items []LineItem, fn func(LineItem) bool) bool {
	for _, it := range items {
		if fn(it) {
			return true
		}
	}
	return false
}

func dayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// SortTransactions orders by date descending, then id descending.
func SortTransactions(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.After(txs[j].Date)
		}
		return txs[i].ID > txs[j].ID
	})
}

// Search filters, sorts and paginates. It returns the number of matches
// before pagination and the requested window.
func Search(txs []Transaction, names map[AccountHolderID]string, f Filter, page Page) (int, []Transaction) {
	matched := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if f.Matches(tx, names) {
			matched = append(matched, tx)
		}
	}
	SortTransactions(matched)

	if page.Limit <= 0 || page.Offset < 0 {
		page = page.Normalize(MaxPageSize)
	}
	total := len(matched)
	if page.Offset >= total {
		return total, []Transaction{}
	}
	end := min(page.Offset+page.Limit, total)
	return total, matched[page.Offset:end]
}
