package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/ticket-checkin/internal/model"
)

// RegistrationStore holds registrants and their check-in state.
type RegistrationStore struct{}

// NewRegistrationStore constructs a RegistrationStore.
func NewRegistrationStore() *RegistrationStore {
	return &RegistrationStore{}
}

// Insert persists a new, not yet checked-in registration.
func (s *RegistrationStore) Insert(ctx context.Context, tx *Tx, r model.Registration) (model.Registration, error) {
	if err := tx.writable(); err != nil {
		return model.Registration{}, err
	}
	if r.RecordID == "" || r.Identifier == "" {
		return model.Registration{}, fmt.Errorf("insert registration: record id and identifier are required")
	}
	if r.CheckedIn || r.CheckedInAt != nil {
		return model.Registration{}, fmt.Errorf("insert registration: new registrations cannot be checked in")
	}

	// The pool should already have made this impossible; check anyway so
	// a concurrency bug cannot bind one ticket to two people.
	existing, err := tx.txn.registration(ctx, byIdentifier, r.Identifier)
	switch {
	case err == nil:
		return model.Registration{}, fmt.Errorf("%w: %s belongs to record %s",
			ErrDuplicateIdentifier, r.Identifier, existing.RecordID)
	case !errors.Is(err, ErrNotFound):
		return model.Registration{}, fmt.Errorf("check identifier binding: %w", err)
	}

	r.CreatedAt = stamp(r.CreatedAt)
	inserted, err := tx.txn.insertRegistration(ctx, r)
	if err != nil {
		return model.Registration{}, fmt.Errorf("insert registration: %w", err)
	}
	if !inserted {
		return model.Registration{}, fmt.Errorf("%w: %s (record %s)",
			ErrDuplicateIdentifier, r.Identifier, r.RecordID)
	}
	return r, nil
}

// FindByIdentifier returns the registration bound to an identifier.
func (s *RegistrationStore) FindByIdentifier(ctx context.Context, tx *Tx, identifier string) (model.Registration, error) {
	return s.find(ctx, tx, byIdentifier, identifier)
}

// FindByRecordID returns the registration with the given record id.
func (s *RegistrationStore) FindByRecordID(ctx context.Context, tx *Tx, recordID string) (model.Registration, error) {
	return s.find(ctx, tx, byRecordID, recordID)
}

func (s *RegistrationStore) find(ctx context.Context, tx *Tx, key lookupKey, value string) (model.Registration, error) {
	r, err := tx.txn.registration(ctx, key, value)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Registration{}, ErrNotFound
		}
		return model.Registration{}, fmt.Errorf("get registration: %w", err)
	}
	return r, nil
}

// MarkCheckedIn is the only transition of a registration. The row is read
// under lock in the same unit of work as the write, and the write itself
// only applies to a row that is still pending. Every caller after the first
// gets an *AlreadyCheckedInError with the original CheckedInAt.
func (s *RegistrationStore) MarkCheckedIn(ctx context.Context, tx *Tx, recordID string, at time.Time) (model.Registration, error) {
	if err := tx.writable(); err != nil {
		return model.Registration{}, err
	}

	r, err := s.find(ctx, tx, byRecordID, recordID)
	if err != nil {
		return model.Registration{}, err
	}
	if r.CheckedIn {
		return model.Registration{}, &AlreadyCheckedInError{Registration: r}
	}

	at = stamp(at)
	updated, err := tx.txn.setCheckedIn(ctx, recordID, at)
	if err != nil {
		return model.Registration{}, fmt.Errorf("mark checked in: %w", err)
	}
	if !updated {
		current, err := s.find(ctx, tx, byRecordID, recordID)
		if err != nil {
			return model.Registration{}, err
		}
		return model.Registration{}, &AlreadyCheckedInError{Registration: current}
	}

	r.CheckedIn = true
	r.CheckedInAt = &at
	return r, nil
}

// Counts returns total, checked-in and pending registrations.
func (s *RegistrationStore) Counts(ctx context.Context, tx *Tx) (model.RegistrationStats, error) {
	stats, err := tx.txn.countRegistrations(ctx)
	if err != nil {
		return model.RegistrationStats{}, fmt.Errorf("count registrations: %w", err)
	}
	return stats, nil
}

// List returns all registrations in creation order.
func (s *RegistrationStore) List(ctx context.Context, tx *Tx) ([]model.Registration, error) {
	regs, err := tx.txn.listRegistrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return regs, nil
}
