// Package repository persists the identifier pool, the capacity ledger and
// registrations, and implements the mutators that keep them consistent.
//
// Every read and write runs inside a unit of work opened with
// Store.Atomically (read-write) or Store.View (read-only). Backends differ
// in how they isolate units of work:
//
//	postgres  row locks (SELECT … FOR UPDATE) plus conditional UPDATEs
//	sqlite    BEGIN IMMEDIATE, one writer at a time
//	memory    one mutex, copy-on-write state
//
// The backend primitives are unexported: the only way to change the
// persisted collections is through CapacityLedger.ReserveOne,
// IdentifierPool.Allocate, RegistrationStore.Insert and
// RegistrationStore.MarkCheckedIn (plus ledger initialisation and pool
// pre-generation, which operators run before registration opens).
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/ticket-checkin/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrCapacityExhausted is returned when no seats remain.
var ErrCapacityExhausted = errors.New("no more capacity")

// ErrPoolExhausted is returned when no identifier can be allocated under
// the configured format and minting policy.
var ErrPoolExhausted = errors.New("identifier pool exhausted")

// ErrAlreadyCheckedIn is matched by *AlreadyCheckedInError.
var ErrAlreadyCheckedIn = errors.New("ticket already checked in")

// ErrDuplicateIdentifier is returned when an identifier is already bound
// to another registration.
var ErrDuplicateIdentifier = errors.New("identifier already bound")

// ErrLedgerCorrupt is returned when the persisted capacity counters break
// total = reserved + available.
var ErrLedgerCorrupt = errors.New("capacity ledger corrupt")

// ErrReadOnly is returned when a mutator runs inside Store.View.
var ErrReadOnly = errors.New("read-only unit of work")

// AlreadyCheckedInError carries the registration as stored, including the
// time of the first successful check-in.
type AlreadyCheckedInError struct {
	Registration model.Registration
}

func (e *AlreadyCheckedInError) Error() string {
	if e.Registration.CheckedInAt == nil {
		return fmt.Sprintf("ticket %s already checked in", e.Registration.Identifier)
	}
	return fmt.Sprintf("ticket %s already checked in at %s",
		e.Registration.Identifier, e.Registration.CheckedInAt.Format(time.RFC3339))
}

// Is enables errors.Is matching against ErrAlreadyCheckedIn.
func (e *AlreadyCheckedInError) Is(target error) bool {
	return target == ErrAlreadyCheckedIn
}

// IdentifierFilter narrows identifier listings.
type IdentifierFilter struct {
	// Assigned selects assigned (true) or available (false) identifiers.
	// Nil selects both.
	Assigned *bool
	// Limit caps the result size. Zero or negative means no limit.
	Limit int
}

type lookupKey int

const (
	byRecordID lookupKey = iota
	byIdentifier
)

// txn is the set of primitives a backend provides inside one unit of work.
// In read-write units, loadCapacity and registration lock the rows they
// return until the unit ends.
type txn interface {
	loadCapacity(ctx context.Context) (model.Capacity, error)
	storeCapacity(ctx context.Context, c model.Capacity) error

	firstUnassigned(ctx context.Context) (model.Identifier, error)
	identifier(ctx context.Context, value string) (model.Identifier, error)
	// insertIdentifier reports false when value already exists.
	insertIdentifier(ctx context.Context, value string, createdAt time.Time) (model.Identifier, bool, error)
	// bindIdentifier reports false when value is missing or already assigned.
	bindIdentifier(ctx context.Context, value, recordID string, at time.Time) (bool, error)
	countIdentifiers(ctx context.Context) (model.PoolStats, error)
	listIdentifiers(ctx context.Context, f IdentifierFilter) ([]model.Identifier, error)

	// insertRegistration reports false when the record id or identifier
	// is already taken.
	insertRegistration(ctx context.Context, r model.Registration) (bool, error)
	registration(ctx context.Context, key lookupKey, value string) (model.Registration, error)
	// setCheckedIn only updates a row whose checked_in flag is false and
	// reports whether it did.
	setCheckedIn(ctx context.Context, recordID string, at time.Time) (bool, error)
	countRegistrations(ctx context.Context) (model.RegistrationStats, error)
	listRegistrations(ctx context.Context) ([]model.Registration, error)
}

type backend interface {
	update(ctx context.Context, fn func(txn) error) error
	view(ctx context.Context, fn func(txn) error) error
	close() error
}

// Store is a durable home for the three ticketing collections.
type Store struct {
	backend backend
	name    string
}

// Name identifies the backend ("postgres", "sqlite", "memory").
func (s *Store) Name() string { return s.name }

// Tx is one unit of work.
type Tx struct {
	txn      txn
	readOnly bool
}

func (tx *Tx) writable() error {
	if tx.readOnly {
		return ErrReadOnly
	}
	return nil
}

// Atomically runs fn in a read-write unit of work. Everything fn writes is
// committed if fn returns nil and discarded otherwise.
func (s *Store) Atomically(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.backend.update(ctx, func(t txn) error {
		return fn(&Tx{txn: t})
	})
}

// View runs fn in a read-only unit of work.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.backend.view(ctx, func(t txn) error {
		return fn(&Tx{txn: t, readOnly: true})
	})
}

// Close releases the backend's resources.
func (s *Store) Close() error {
	return s.backend.close()
}

// stamp normalises timestamps to the precision every backend can round-trip.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
