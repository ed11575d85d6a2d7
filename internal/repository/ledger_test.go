package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Shivanand-hulikatti/ticket-checkin/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityLedgerInit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		ledger := NewCapacityLedger(fixedClock)

		err := s.Atomically(ctx, func(tx *Tx) error {
			c, created, err := ledger.Init(ctx, tx, 10)
			require.NoError(t, err)
			assert.True(t, created)
			assert.Equal(t, model.Capacity{Total: 10, Reserved: 0, Available: 10, UpdatedAt: testNow}, c)
			return nil
		})
		require.NoError(t, err)

		err = s.Atomically(ctx, func(tx *Tx) error {
			c, created, err := ledger.Init(ctx, tx, 99)
			require.NoError(t, err)
			assert.False(t, created, "an existing ledger is left untouched")
			assert.Equal(t, 10, c.Total)
			return nil
		})
		require.NoError(t, err)
	})
}

func TestCapacityLedgerInitRejectsNegativeTotal(t *testing.T) {
	s := NewMemoryStore()
	err := s.Atomically(context.Background(), func(tx *Tx) error {
		_, _, err := NewCapacityLedger(nil).Init(context.Background(), tx, -1)
		return err
	})
	assert.Error(t, err)
}

func TestCapacityLedgerReadBeforeInit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		err := s.View(context.Background(), func(tx *Tx) error {
			_, err := NewCapacityLedger(fixedClock).Read(context.Background(), tx)
			return err
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCapacityLedgerReserveUntilExhausted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		h := newHarness(s, PoolPolicy{})
		h.initCapacity(t, 3)

		for i := 1; i <= 3; i++ {
			err := s.Atomically(ctx, func(tx *Tx) error {
				c, err := h.ledger.ReserveOne(ctx, tx)
				require.NoError(t, err)
				assert.Equal(t, i, c.Reserved)
				assert.Equal(t, 3-i, c.Available)
				return nil
			})
			require.NoError(t, err)
		}

		err := s.Atomically(ctx, func(tx *Tx) error {
			c, err := h.ledger.ReserveOne(ctx, tx)
			assert.Equal(t, 0, c.Available)
			return err
		})
		assert.ErrorIs(t, err, ErrCapacityExhausted)

		c := h.capacity(t)
		assert.Equal(t, model.Capacity{Total: 3, Reserved: 3, Available: 0, UpdatedAt: testNow}, c)
		assert.True(t, c.IsFull())
	})
}

func TestCapacityLedgerZeroTotal(t *testing.T) {
	s := NewMemoryStore()
	h := newHarness(s, PoolPolicy{})
	h.initCapacity(t, 0)

	err := s.Atomically(context.Background(), func(tx *Tx) error {
		_, err := h.ledger.ReserveOne(context.Background(), tx)
		return err
	})
	assert.ErrorIs(t, err, ErrCapacityExhausted)
}

func TestCapacityLedgerConcurrentReservations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		const (
			total   = 10
			callers = 40
		)
		ctx := context.Background()
		h := newHarness(s, PoolPolicy{})
		h.initCapacity(t, total)

		var (
			wg        sync.WaitGroup
			granted   atomic.Int32
			exhausted atomic.Int32
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Atomically(ctx, func(tx *Tx) error {
					_, err := h.ledger.ReserveOne(ctx, tx)
					return err
				})
				switch {
				case err == nil:
					granted.Add(1)
				case errors.Is(err, ErrCapacityExhausted):
					exhausted.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.EqualValues(t, total, granted.Load())
		assert.EqualValues(t, callers-total, exhausted.Load())

		c := h.capacity(t)
		assert.Equal(t, total, c.Reserved)
		assert.Equal(t, 0, c.Available)
	})
}

func TestCapacityLedgerCorrupt(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		ledger := NewCapacityLedger(fixedClock)
		corrupt := model.Capacity{Total: 5, Reserved: 2, Available: 4, UpdatedAt: testNow}

		err := s.Atomically(ctx, func(tx *Tx) error {
			return tx.txn.storeCapacity(ctx, corrupt)
		})
		require.NoError(t, err)

		err = s.Atomically(ctx, func(tx *Tx) error {
			_, err := ledger.ReserveOne(ctx, tx)
			return err
		})
		assert.ErrorIs(t, err, ErrLedgerCorrupt)

		err = s.View(ctx, func(tx *Tx) error {
			c, err := ledger.Read(ctx, tx)
			assert.Equal(t, corrupt, c, "corrupt values are reported as stored")
			return err
		})
		assert.ErrorIs(t, err, ErrLedgerCorrupt)
	})
}
