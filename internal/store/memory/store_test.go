package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/store"
	"github.com/libranexus/lending/internal/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}

func TestWithTxSerializesWriters(t *testing.T) {
	st := New()
	b := domain.Book{ID: uuid.New(), Title: "Nova", TotalCopies: 100, AvailableCopies: 100}
	require.NoError(t, st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertBook(ctx, &b)
	}))

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				locked, err := tx.LockBook(ctx, b.ID)
				if err != nil {
					return err
				}
				locked.AvailableCopies--
				return tx.UpdateBook(ctx, locked)
			}))
		}()
	}
	wg.Wait()

	got, err := st.GetBook(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableCopies)
}

func TestWithTxHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := New().WithTx(ctx, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
