package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/ticket-checkin/internal/model"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/ticket"
)

// DefaultMintAttempts bounds the collision retries for one new identifier.
const DefaultMintAttempts = 32

// PoolPolicy controls how the pool replenishes itself.
type PoolPolicy struct {
	// AllowMint lets Allocate create identifiers once the pre-generated
	// supply is used up.
	AllowMint bool
	// MintAttempts is the number of candidates tried before giving up.
	MintAttempts int
}

// IdentifierPool hands out unique identifiers and binds them to records.
type IdentifierPool struct {
	gen    *ticket.Generator
	policy PoolPolicy
	now    func() time.Time
}

// NewIdentifierPool constructs an IdentifierPool.
func NewIdentifierPool(gen *ticket.Generator, policy PoolPolicy, now func() time.Time) *IdentifierPool {
	if policy.MintAttempts <= 0 {
		policy.MintAttempts = DefaultMintAttempts
	}
	if now == nil {
		now = time.Now
	}
	return &IdentifierPool{gen: gen, policy: policy, now: now}
}

// Format returns the identifier format of the pool.
func (p *IdentifierPool) Format() ticket.Format { return p.gen.Format() }

// Allocate binds the lowest-sequence unassigned identifier to recordID,
// minting a new one when none is left and the policy allows it.
func (p *IdentifierPool) Allocate(ctx context.Context, tx *Tx, recordID string) (model.Identifier, error) {
	if err := tx.writable(); err != nil {
		return model.Identifier{}, err
	}
	if recordID == "" {
		return model.Identifier{}, fmt.Errorf("allocate identifier: record id is required")
	}

	id, err := tx.txn.firstUnassigned(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		if !p.policy.AllowMint {
			return model.Identifier{}, ErrPoolExhausted
		}
		id, err = p.mint(ctx, tx)
		if err != nil {
			return model.Identifier{}, err
		}
	default:
		return model.Identifier{}, fmt.Errorf("select unassigned identifier: %w", err)
	}

	at := stamp(p.now())
	bound, err := tx.txn.bindIdentifier(ctx, id.Value, recordID, at)
	if err != nil {
		return model.Identifier{}, fmt.Errorf("bind identifier %s: %w", id.Value, err)
	}
	if !bound {
		return model.Identifier{}, fmt.Errorf("%w: %s", ErrDuplicateIdentifier, id.Value)
	}

	id.Assigned = true
	id.BoundRecordID = recordID
	id.AssignedAt = &at
	return id, nil
}

// Pregenerate mints n unassigned identifiers and returns how many were
// created. It stops early with ErrPoolExhausted when the format space or
// the retry budget runs out.
func (p *IdentifierPool) Pregenerate(ctx context.Context, tx *Tx, n int) (int, error) {
	if err := tx.writable(); err != nil {
		return 0, err
	}
	created := 0
	for created < n {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		if _, err := p.mint(ctx, tx); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// mint inserts one fresh identifier. Uniqueness is enforced by the backend
// at insert time, so a candidate committed concurrently elsewhere shows up
// here as a collision and is retried.
func (p *IdentifierPool) mint(ctx context.Context, tx *Tx) (model.Identifier, error) {
	stats, err := tx.txn.countIdentifiers(ctx)
	if err != nil {
		return model.Identifier{}, fmt.Errorf("count identifiers: %w", err)
	}
	if int64(stats.Total) >= p.gen.Format().Space() {
		return model.Identifier{}, fmt.Errorf("%w: all %d values of %s-* are in use",
			ErrPoolExhausted, stats.Total, p.gen.Format().Prefix())
	}

	for attempt := 1; attempt <= p.policy.MintAttempts; attempt++ {
		candidate, err := p.gen.Next()
		if err != nil {
			return model.Identifier{}, fmt.Errorf("generate identifier: %w", err)
		}
		id, inserted, err := tx.txn.insertIdentifier(ctx, candidate, stamp(p.now()))
		if err != nil {
			return model.Identifier{}, fmt.Errorf("insert identifier: %w", err)
		}
		if inserted {
			return id, nil
		}
	}
	return model.Identifier{}, fmt.Errorf("%w: %d consecutive collisions",
		ErrPoolExhausted, p.policy.MintAttempts)
}

// Lookup returns the identifier with exactly this value.
func (p *IdentifierPool) Lookup(ctx context.Context, tx *Tx, value string) (model.Identifier, error) {
	id, err := tx.txn.identifier(ctx, value)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Identifier{}, ErrNotFound
		}
		return model.Identifier{}, fmt.Errorf("get identifier: %w", err)
	}
	return id, nil
}

// Stats counts assigned and available identifiers.
func (p *IdentifierPool) Stats(ctx context.Context, tx *Tx) (model.PoolStats, error) {
	stats, err := tx.txn.countIdentifiers(ctx)
	if err != nil {
		return model.PoolStats{}, fmt.Errorf("count identifiers: %w", err)
	}
	return stats, nil
}

// List returns identifiers in sequence order.
func (p *IdentifierPool) List(ctx context.Context, tx *Tx, f IdentifierFilter) ([]model.Identifier, error) {
	ids, err := tx.txn.listIdentifiers(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list identifiers: %w", err)
	}
	return ids, nil
}
