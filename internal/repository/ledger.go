package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/ticket-checkin/internal/model"
)

// CapacityLedger guards the event's seat counters.
type CapacityLedger struct {
	now func() time.Time
}

// NewCapacityLedger constructs a CapacityLedger.
func NewCapacityLedger(now func() time.Time) *CapacityLedger {
	if now == nil {
		now = time.Now
	}
	return &CapacityLedger{now: now}
}

// Init creates the ledger with total seats and nothing reserved. An
// existing ledger is returned unchanged; created reports which happened.
func (l *CapacityLedger) Init(ctx context.Context, tx *Tx, total int) (c model.Capacity, created bool, err error) {
	if err := tx.writable(); err != nil {
		return model.Capacity{}, false, err
	}
	if total < 0 {
		return model.Capacity{}, false, fmt.Errorf("capacity total must not be negative, got %d", total)
	}

	c, err = tx.txn.loadCapacity(ctx)
	switch {
	case err == nil:
		return c, false, nil
	case !errors.Is(err, ErrNotFound):
		return model.Capacity{}, false, fmt.Errorf("load capacity: %w", err)
	}

	c = model.Capacity{
		Total:     total,
		Reserved:  0,
		Available: total,
		UpdatedAt: stamp(l.now()),
	}
	if err := tx.txn.storeCapacity(ctx, c); err != nil {
		return model.Capacity{}, false, fmt.Errorf("store capacity: %w", err)
	}
	return c, true, nil
}

// ReserveOne takes one seat. It fails with ErrCapacityExhausted when none
// remain; the caller must then not allocate an identifier.
//
// The capacity row stays locked until the unit of work ends, so two
// concurrent reservations cannot both observe available=1.
func (l *CapacityLedger) ReserveOne(ctx context.Context, tx *Tx) (model.Capacity, error) {
	if err := tx.writable(); err != nil {
		return model.Capacity{}, err
	}

	c, err := l.load(ctx, tx)
	if err != nil {
		return model.Capacity{}, err
	}
	if c.IsFull() {
		return c, ErrCapacityExhausted
	}

	c.Reserved++
	c.Available = c.Total - c.Reserved
	c.UpdatedAt = stamp(l.now())
	if err := tx.txn.storeCapacity(ctx, c); err != nil {
		return model.Capacity{}, fmt.Errorf("store capacity: %w", err)
	}
	return c, nil
}

// Read returns the current counters. A corrupt ledger is returned together
// with ErrLedgerCorrupt so that operators can see the bad values.
func (l *CapacityLedger) Read(ctx context.Context, tx *Tx) (model.Capacity, error) {
	return l.load(ctx, tx)
}

func (l *CapacityLedger) load(ctx context.Context, tx *Tx) (model.Capacity, error) {
	c, err := tx.txn.loadCapacity(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Capacity{}, fmt.Errorf("capacity ledger not initialised: %w", ErrNotFound)
		}
		return model.Capacity{}, fmt.Errorf("load capacity: %w", err)
	}
	if !c.Consistent() {
		return c, fmt.Errorf("%w: total=%d reserved=%d available=%d",
			ErrLedgerCorrupt, c.Total, c.Reserved, c.Available)
	}
	return c, nil
}
