package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/points-engine/ledger"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sampleTransactions() []ledger.Transaction {
	return []ledger.Transaction{
		{ID: "a1", Date: day(2025, 1, 10), AccountHolderID: "ana",
			Items: []ledger.LineItem{purchase(ledger.ProgramLatam, 1000, "0", ledger.StatusConfirmed)}},
		{ID: "a2", Date: day(2025, 2, 10), AccountHolderID: "ana",
			Items: []ledger.LineItem{transfer(ledger.ProgramLivelo, ledger.ProgramSmiles, 10, 10, ledger.TransferPointsOnly, "0")}},
		{ID: "b1", Date: day(2025, 2, 10), AccountHolderID: "bia",
			Items: []ledger.LineItem{membership(ledger.ProgramEsfera, 100, ledger.StatusPending)}},
		{ID: "b2", Date: day(2025, 3, 5), AccountHolderID: "bia",
			Items: []ledger.LineItem{transfer(ledger.ProgramEsfera, ledger.ProgramLatam, 10, 10, ledger.TransferPointsOnly, "0")}},
	}
}

var names = map[ledger.AccountHolderID]string{"ana": "Ana Souza", "bia": "Beatriz Lima"}

func ids(txs []ledger.Transaction) []ledger.TransactionID {
	out := make([]ledger.TransactionID, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}

func TestSearch_SortsByDateThenIDDescending(t *testing.T) {
	total, got := ledger.Search(sampleTransactions(), names, ledger.Filter{}, ledger.Page{})

	assert.Equal(t, 4, total)
	assert.Equal(t, []ledger.TransactionID{"b2", "b1", "a2", "a1"}, ids(got))
}

func TestSearch_Filters(t *testing.T) {
	from, to := day(2025, 2, 10), day(2025, 2, 10)
	tests := []struct {
		name   string
		filter ledger.Filter
		want   []ledger.TransactionID
	}{
		{"holder name", ledger.Filter{Query: "SOUZA"}, []ledger.TransactionID{"a2", "a1"}},
		{"id", ledger.Filter{Query: "b2"}, []ledger.TransactionID{"b2"}},
		{"kind", ledger.Filter{Kind: ledger.KindTransfer}, []ledger.TransactionID{"b2", "a2"}},
		{"program", ledger.Filter{Program: ledger.ProgramLatam}, []ledger.TransactionID{"b2", "a1"}},
		{"source", ledger.Filter{SourceProgram: ledger.ProgramEsfera}, []ledger.TransactionID{"b2"}},
		{"inclusive range", ledger.Filter{From: &from, To: &to}, []ledger.TransactionID{"b1", "a2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := ledger.Search(sampleTransactions(), names, tt.filter, ledger.Page{})
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestSearch_Pagination(t *testing.T) {
	total, got := ledger.Search(sampleTransactions(), names, ledger.Filter{}, ledger.Page{Offset: 1, Limit: 2})
	assert.Equal(t, 4, total)
	assert.Equal(t, []ledger.TransactionID{"b1", "a2"}, ids(got))

	total, got = ledger.Search(sampleTransactions(), names, ledger.Filter{}, ledger.Page{Offset: 10, Limit: 2})
	assert.Equal(t, 4, total)
	assert.Empty(t, got)
}

func TestPage_Normalize(t *testing.T) {
	assert.Equal(t, ledger.Page{Offset: 0, Limit: ledger.DefaultPageSize}, ledger.Page{Offset: -3}.Normalize(0))
	assert.Equal(t, ledger.Page{Limit: ledger.MaxPageSize}, ledger.Page{Limit: 5000}.Normalize(0))
	assert.Equal(t, ledger.Page{Limit: 50}, ledger.Page{Limit: 5000}.Normalize(50))
}
