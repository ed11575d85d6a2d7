// Package model defines the core domain types for ticket issuance and check-in.
package model

import "time"

// Capacity is the seat ledger for the event.
type Capacity struct {
	Total     int       `json:"total"`
	Reserved  int       `json:"reserved"`
	Available int       `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Consistent reports whether the counters satisfy
// total = reserved + available with reserved in [0, total].
func (c Capacity) Consistent() bool {
	return c.Total >= 0 &&
		c.Reserved >= 0 &&
		c.Reserved <= c.Total &&
		c.Available == c.Total-c.Reserved
}

// IsFull returns true when no seats remain.
func (c Capacity) IsFull() bool {
	return c.Available <= 0
}

// Identifier is a ticket token from the pool, e.g. AIK-7QX2M9.
type Identifier struct {
	Value         string     `json:"id"`
	Seq           int64      `json:"index"`
	Assigned      bool       `json:"assigned"`
	BoundRecordID string     `json:"ticket_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	AssignedAt    *time.Time `json:"assigned_at,omitempty"`
}

// Contact is the registrant-supplied part of a registration.
type Contact struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Organization string `json:"organization"`
	Role         string `json:"role"`
}

// Registration is a registrant bound to exactly one identifier.
// CheckedInAt is non-nil if and only if CheckedIn is true.
type Registration struct {
	RecordID     string     `json:"record_id"`
	Identifier   string     `json:"identifier"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone"`
	Organization string     `json:"organization"`
	Role         string     `json:"role"`
	CheckedIn    bool       `json:"checked_in"`
	CheckedInAt  *time.Time `json:"checked_in_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ScanStatus is the externally visible result of a verify or check-in.
type ScanStatus string

const (
	StatusValid   ScanStatus = "valid"
	StatusSuccess ScanStatus = "success"
	StatusUsed    ScanStatus = "used"
	StatusInvalid ScanStatus = "invalid"
)

// ScanReason is a machine-readable explanation attached to a non-successful scan.
type ScanReason string

const (
	ReasonUnrecognizedPayload ScanReason = "unrecognized_payload"
	ReasonNotFound            ScanReason = "not_found"
	ReasonNotAssigned         ScanReason = "not_assigned"
	ReasonAlreadyCheckedIn    ScanReason = "already_checked_in"
)

// ScanResult is returned by ticket verification and check-in.
type ScanResult struct {
	Status       ScanStatus    `json:"status"`
	Reason       ScanReason    `json:"reason,omitempty"`
	Identifier   string        `json:"identifier,omitempty"`
	Input        string        `json:"input"`
	Registration *Registration `json:"registration,omitempty"`
	CheckedInAt  *time.Time    `json:"checked_in_at,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// PoolStats summarises the identifier pool.
type PoolStats struct {
	Total     int `json:"total"`
	Assigned  int `json:"assigned"`
	Available int `json:"available"`
}

// UsageRate is the assigned share of the pool in percent.
func (p PoolStats) UsageRate() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Assigned) / float64(p.Total) * 100
}

// RegistrationStats summarises check-in progress.
type RegistrationStats struct {
	Total     int `json:"total"`
	CheckedIn int `json:"checked_in"`
	Pending   int `json:"pending"`
}

// Stats is the operator dashboard summary.
type Stats struct {
	Capacity      Capacity          `json:"capacity"`
	Identifiers   PoolStats         `json:"identifiers"`
	UsageRate     float64           `json:"usage_rate"`
	Registrations RegistrationStats `json:"registrations"`
	GeneratedAt   time.Time         `json:"generated_at"`
}

// ReconciliationReport lists inconsistencies between the three collections.
// A clean report has Consistent set and every slice empty.
type ReconciliationReport struct {
	Capacity            Capacity `json:"capacity"`
	LedgerCorrupt       bool     `json:"ledger_corrupt"`
	Registrations       int      `json:"registrations"`
	AssignedIdentifiers int      `json:"assigned_identifiers"`
	// UnbackedReservations is reserved seats minus persisted registrations.
	UnbackedReservations int `json:"unbacked_reservations"`
	// OrphanedIdentifiers are assigned but have no registration.
	OrphanedIdentifiers []string `json:"orphaned_identifiers"`
	// UnboundRegistrations reference an identifier that is missing,
	// unassigned, or bound to a different record.
	UnboundRegistrations []string  `json:"unbound_registrations"`
	Consistent           bool      `json:"consistent"`
	GeneratedAt          time.Time `json:"generated_at"`
}

// CreateRegistrationRequest is the payload for creating a registration.
type CreateRegistrationRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Organization string `json:"organization"`
	Role         string `json:"role"`
}

// Contact converts the request into a Contact.
func (r CreateRegistrationRequest) Contact() Contact {
	return Contact(r)
}

// ScanRequest carries raw scanner output.
type ScanRequest struct {
	Code string `json:"code"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
