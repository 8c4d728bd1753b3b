package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/ledger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_DocumentVersioning(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// GIVEN: a missing document
	doc, err := s.Get(ctx, "transactions")
	require.NoError(t, err)
	assert.Equal(t, int64(0), doc.Version)
	assert.Nil(t, doc.Body)

	// WHEN: it is created and updated
	v1, err := s.Put(ctx, "transactions", []byte(`{"n":1}`), 0)
	require.NoError(t, err)
	v2, err := s.Put(ctx, "transactions", []byte(`{"n":2}`), v1)
	require.NoError(t, err)

	// THEN: versions advance and stale writes are rejected
	assert.Equal(t, int64(1), v1)
	assert.Equal(t, int64(2), v2)

	_, err = s.Put(ctx, "transactions", []byte(`{"n":3}`), v1)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	_, err = s.Put(ctx, "transactions", []byte(`{"n":3}`), 0)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification, "creating an existing document is a conflict")

	doc, err = s.Get(ctx, "transactions")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(doc.Body))
}

func TestStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.DocumentStore) error {
		if _, err := tx.Put(ctx, "account_holders", []byte(`{}`), 0); err != nil {
			return err
		}
		doc, err := tx.Get(ctx, "account_holders")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), doc.Version, "writes are visible inside the transaction")
		return boom
	})
	require.ErrorIs(t, err, boom)

	doc, err := s.Get(ctx, "account_holders")
	require.NoError(t, err)
	assert.Equal(t, int64(0), doc.Version)
}

func TestStore_WithTxCommits(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.WithTx(ctx, func(tx ledger.DocumentStore) error {
		if _, err := tx.Put(ctx, "account_holders", []byte(`{}`), 0); err != nil {
			return err
		}
		_, err := tx.Put(ctx, "transactions", []byte(`{}`), 0)
		return err
	})
	require.NoError(t, err)

	for _, key := range []string{"account_holders", "transactions"} {
		doc, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), doc.Version, key)
	}
}

func TestStore_WorksBehindRepository(t *testing.T) {
	ctx := context.Background()
	repo := ledger.NewRepository(newTestStore(t))
	require.True(t, repo.Transactional())

	err := repo.WithTx(ctx, func(r *ledger.Repository) error {
		holders, err := r.LoadHolders(ctx)
		if err != nil {
			return err
		}
		holders.Put(ledger.AccountHolder{ID: "ana", Name: "Ana", Confirmed: ledger.ProgramPoints{Latam: 5}})
		return r.SaveHolders(ctx, holders)
	})
	require.NoError(t, err)

	holders, err := repo.LoadHolders(ctx)
	require.NoError(t, err)
	h, err := holders.Get("ana")
	require.NoError(t, err)
	assert.Equal(t, int64(5), h.Confirmed.Latam)
}

func TestStore_Commissions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveCommission(ctx, "ana", "tx-1", decimal.RequireFromString("150.25")))
	require.NoError(t, s.SaveCommission(ctx, "ana", "tx-2", decimal.RequireFromString("10")))
	require.NoError(t, s.SaveCommission(ctx, "ana", "tx-1", decimal.RequireFromString("160")))

	list, err := s.ListCommissions(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, s.DeleteCommission(ctx, "ana", "tx-1"))
	list, err = s.ListCommissions(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ledger.TransactionID("tx-2"), list[0].TransactionID)
	assert.True(t, decimal.NewFromInt(10).Equal(list[0].Amount))

	require.NoError(t, s.Reset(ctx))
	list, err = s.ListCommissions(ctx, "ana")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_ListCommissionsRejectsCorruptRows(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		amount    string
		createdAt string
		wantErr   string
	}{
		{"bad amount", "cento e cinquenta", "2025-03-10T12:00:00Z", "invalid amount"},
		{"bad timestamp", "150", "10/03/2025", "invalid created_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)

			// GIVEN: a row written outside the store API
			_, err := s.db.ExecContext(ctx,
				"INSERT INTO commissions (holder_id, transaction_id, amount, created_at) VALUES (?, ?, ?, ?)",
				"ana", "tx-1", tt.amount, tt.createdAt,
			)
			require.NoError(t, err)

			// WHEN: commissions are listed
			list, err := s.ListCommissions(ctx, "ana")

			// THEN: the corrupt row is reported instead of read as zero
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Nil(t, list)
		})
	}
}
