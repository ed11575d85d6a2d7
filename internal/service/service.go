// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/ticket-checkin/internal/model"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/repository"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/ticket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidContact is returned when registrant details fail validation.
var ErrInvalidContact = errors.New("invalid contact")

// Issued is the outcome of a successful registration.
type Issued struct {
	Registration model.Registration
	Payload      ticket.Payload
	// Capacity is the ledger right after the reservation.
	Capacity model.Capacity
}

// RegistrationService orchestrates ticket issuance and check-in.
type RegistrationService struct {
	store  *repository.Store
	ledger *repository.CapacityLedger
	pool   *repository.IdentifierPool
	regs   *repository.RegistrationStore
	codec  *ticket.Codec
	log    zerolog.Logger
	now    func() time.Time
}

// NewRegistrationService constructs a RegistrationService with its dependencies.
func NewRegistrationService(
	store *repository.Store,
	ledger *repository.CapacityLedger,
	pool *repository.IdentifierPool,
	regs *repository.RegistrationStore,
	codec *ticket.Codec,
	log zerolog.Logger,
) *RegistrationService {
	return &RegistrationService{
		store:  store,
		ledger: ledger,
		pool:   pool,
		regs:   regs,
		codec:  codec,
		log:    log,
		now:    time.Now,
	}
}

// WithClock replaces the clock used for check-in and scan timestamps.
func (s *RegistrationService) WithClock(now func() time.Time) *RegistrationService {
	s.now = now
	return s
}

// logger prefers the request-scoped logger carried by ctx.
func (s *RegistrationService) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.log
}

// Bootstrap creates the capacity ledger if it does not exist yet and tops
// the identifier pool up to pregenerate unassigned identifiers.
func (s *RegistrationService) Bootstrap(ctx context.Context, capacity, pregenerate int) (model.Capacity, error) {
	var (
		c       model.Capacity
		created bool
		minted  int
	)
	err := s.store.Atomically(ctx, func(tx *repository.Tx) error {
		var err error
		c, created, err = s.ledger.Init(ctx, tx, capacity)
		if err != nil {
			return err
		}
		stats, err := s.pool.Stats(ctx, tx)
		if err != nil {
			return err
		}
		if missing := pregenerate - stats.Available; missing > 0 {
			minted, err = s.pool.Pregenerate(ctx, tx, missing)
		}
		return err
	})
	if err != nil {
		return model.Capacity{}, fmt.Errorf("bootstrap: %w", err)
	}

	ev := s.log.Info()
	if !created && c.Total != capacity {
		// The persisted total wins over configuration.
		ev = s.log.Warn().Int("configured", capacity)
	}
	ev.Bool("created", created).
		Int("total", c.Total).
		Int("reserved", c.Reserved).
		Int("available", c.Available).
		Int("minted", minted).
		Msg("capacity ledger ready")
	return c, nil
}

// Pregenerate mints n unassigned identifiers.
func (s *RegistrationService) Pregenerate(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("count must be a positive integer")
	}
	var created int
	err := s.store.Atomically(ctx, func(tx *repository.Tx) error {
		var err error
		created, err = s.pool.Pregenerate(ctx, tx, n)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("pregenerate identifiers: %w", err)
	}
	s.logger(ctx).Info().Int("count", created).Msg("identifiers pregenerated")
	return created, nil
}

// Create validates the contact and issues a ticket. Reserving a seat,
// allocating the identifier and inserting the registration commit together:
// if any step fails, none of them is persisted.
func (s *RegistrationService) Create(ctx context.Context, contact model.Contact) (*Issued, error) {
	contact, err := normalizeContact(contact)
	if err != nil {
		return nil, err
	}

	recordID := uuid.NewString()
	var (
		reg      model.Registration
		capacity model.Capacity
	)
	err = s.store.Atomically(ctx, func(tx *repository.Tx) error {
		var err error
		if capacity, err = s.ledger.ReserveOne(ctx, tx); err != nil {
			return err
		}
		id, err := s.pool.Allocate(ctx, tx, recordID)
		if err != nil {
			return err
		}
		reg, err = s.regs.Insert(ctx, tx, model.Registration{
			RecordID:     recordID,
			Identifier:   id.Value,
			Name:         contact.Name,
			Email:        contact.Email,
			Phone:        contact.Phone,
			Organization: contact.Organization,
			Role:         contact.Role,
			CreatedAt:    s.now(),
		})
		return err
	})
	if err != nil {
		log := s.logger(ctx)
		switch {
		case errors.Is(err, repository.ErrCapacityExhausted),
			errors.Is(err, repository.ErrPoolExhausted):
			log.Warn().Err(err).Msg("registration refused")
			return nil, err
		case errors.Is(err, repository.ErrDuplicateIdentifier),
			errors.Is(err, repository.ErrLedgerCorrupt):
			log.Error().Err(err).Str("record_id", recordID).Msg("registration integrity check failed")
			return nil, err
		}
		return nil, fmt.Errorf("create registration: %w", err)
	}

	payload, err := s.codec.Encode(reg)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	s.logger(ctx).Info().
		Str("record_id", reg.RecordID).
		Str("identifier", reg.Identifier).
		Int("available", capacity.Available).
		Msg("ticket issued")
	return &Issued{Registration: reg, Payload: payload, Capacity: capacity}, nil
}

// Verify reports whether scanned input names a valid, unused ticket. It
// never changes state. Unknown or malformed input is an invalid result,
// not an error.
func (s *RegistrationService) Verify(ctx context.Context, raw string) (*model.ScanResult, error) {
	res := s.newScan(raw)
	id, err := s.codec.Decode(raw)
	if err != nil {
		return res.invalid(model.ReasonUnrecognizedPayload), nil
	}
	res.Identifier = id

	var (
		reg    model.Registration
		reason model.ScanReason
	)
	err = s.store.View(ctx, func(tx *repository.Tx) error {
		var err error
		reg, reason, err = s.find(ctx, tx, id)
		return err
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return res.invalid(reason), nil
	case err != nil:
		return nil, fmt.Errorf("verify ticket: %w", err)
	}

	if reg.CheckedIn {
		return res.used(reg), nil
	}
	return res.valid(reg), nil
}

// find returns the registration bound to id. When there is none, the reason
// tells a pooled but unassigned identifier apart from an unknown one.
func (s *RegistrationService) find(ctx context.Context, tx *repository.Tx, id string) (model.Registration, model.ScanReason, error) {
	reg, err := s.regs.FindByIdentifier(ctx, tx, id)
	if !errors.Is(err, repository.ErrNotFound) {
		return reg, "", err
	}
	pooled, lerr := s.pool.Lookup(ctx, tx, id)
	switch {
	case lerr == nil && !pooled.Assigned:
		return reg, model.ReasonNotAssigned, err
	case lerr != nil && !errors.Is(lerr, repository.ErrNotFound):
		return reg, "", lerr
	}
	return reg, model.ReasonNotFound, err
}

// CheckIn marks the ticket in raw as used. The checked-in flag is read and
// written in one unit of work, so of any number of concurrent scans of one
// ticket exactly one succeeds; the others report it as used with the time
// of that first check-in.
func (s *RegistrationService) CheckIn(ctx context.Context, raw string) (*model.ScanResult, error) {
	res := s.newScan(raw)
	id, err := s.codec.Decode(raw)
	if err != nil {
		return res.invalid(model.ReasonUnrecognizedPayload), nil
	}
	res.Identifier = id

	var (
		reg    model.Registration
		reason = model.ReasonNotFound
	)
	err = s.store.Atomically(ctx, func(tx *repository.Tx) error {
		found, why, err := s.find(ctx, tx, id)
		if err != nil {
			reason = why
			return err
		}
		reg, err = s.regs.MarkCheckedIn(ctx, tx, found.RecordID, res.Timestamp)
		return err
	})

	var already *repository.AlreadyCheckedInError
	switch {
	case err == nil:
	case errors.As(err, &already):
		ev := s.logger(ctx).Warn().Str("identifier", id)
		if at := already.Registration.CheckedInAt; at != nil {
			ev = ev.Time("checked_in_at", *at)
		}
		ev.Msg("ticket already used")
		return res.used(already.Registration), nil
	case errors.Is(err, repository.ErrNotFound):
		return res.invalid(reason), nil
	default:
		return nil, fmt.Errorf("check in: %w", err)
	}

	s.logger(ctx).Info().
		Str("identifier", id).
		Str("record_id", reg.RecordID).
		Msg("checked in")
	return res.success(reg), nil
}

type scan struct {
	*model.ScanResult
}

func (s *RegistrationService) newScan(raw string) scan {
	return scan{&model.ScanResult{
		Input:     raw,
		Timestamp: s.now().UTC().Truncate(time.Millisecond),
	}}
}

func (r scan) invalid(reason model.ScanReason) *model.ScanResult {
	r.Status = model.StatusInvalid
	r.Reason = reason
	return r.ScanResult
}

func (r scan) valid(reg model.Registration) *model.ScanResult {
	r.Status = model.StatusValid
	r.Registration = &reg
	return r.ScanResult
}

func (r scan) success(reg model.Registration) *model.ScanResult {
	r.Status = model.StatusSuccess
	r.Registration = &reg
	r.CheckedInAt = reg.CheckedInAt
	return r.ScanResult
}

func (r scan) used(reg model.Registration) *model.ScanResult {
	r.Status = model.StatusUsed
	r.Reason = model.ReasonAlreadyCheckedIn
	r.Registration = &reg
	r.CheckedInAt = reg.CheckedInAt
	return r.ScanResult
}

// Registration returns a registration by record id.
func (s *RegistrationService) Registration(ctx context.Context, recordID string) (*model.Registration, error) {
	if recordID == "" {
		return nil, fmt.Errorf("registration id is required")
	}
	var reg model.Registration
	err := s.store.View(ctx, func(tx *repository.Tx) error {
		var err error
		reg, err = s.regs.FindByRecordID(ctx, tx, recordID)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return &reg, nil
}

// Payload re-encodes the QR payload of an existing registration.
func (s *RegistrationService) Payload(ctx context.Context, recordID string) (ticket.Payload, error) {
	reg, err := s.Registration(ctx, recordID)
	if err != nil {
		return ticket.Payload{}, err
	}
	return s.codec.Encode(*reg)
}

// Registrations returns all registrations in creation order.
func (s *RegistrationService) Registrations(ctx context.Context) ([]model.Registration, error) {
	var regs []model.Registration
	err := s.store.View(ctx, func(tx *repository.Tx) error {
		var err error
		regs, err = s.regs.List(ctx, tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return regs, nil
}

// Identifiers lists pool entries.
func (s *RegistrationService) Identifiers(ctx context.Context, f repository.IdentifierFilter) ([]model.Identifier, error) {
	var ids []model.Identifier
	err := s.store.View(ctx, func(tx *repository.Tx) error {
		var err error
		ids, err = s.pool.List(ctx, tx, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list identifiers: %w", err)
	}
	return ids, nil
}

// Stats summarises capacity, pool usage and check-in progress from one
// consistent snapshot.
func (s *RegistrationService) Stats(ctx context.Context) (*model.Stats, error) {
	var stats model.Stats
	err := s.store.View(ctx, func(tx *repository.Tx) error {
		var err error
		if stats.Capacity, err = s.ledger.Read(ctx, tx); err != nil {
			return err
		}
		if stats.Identifiers, err = s.pool.Stats(ctx, tx); err != nil {
			return err
		}
		stats.Registrations, err = s.regs.Counts(ctx, tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	stats.UsageRate = stats.Identifiers.UsageRate()
	stats.GeneratedAt = s.now().UTC()
	return &stats, nil
}

// Reconcile cross-checks the ledger, the identifier pool and the
// registrations. A corrupt ledger is reported, not returned as an error.
func (s *RegistrationService) Reconcile(ctx context.Context) (*model.ReconciliationReport, error) {
	var (
		report   model.ReconciliationReport
		assigned []model.Identifier
		regs     []model.Registration
	)
	yes := true
	err := s.store.View(ctx, func(tx *repository.Tx) error {
		var err error
		report.Capacity, err = s.ledger.Read(ctx, tx)
		switch {
		case errors.Is(err, repository.ErrLedgerCorrupt):
			report.LedgerCorrupt = true
		case err != nil:
			return err
		}
		if assigned, err = s.pool.List(ctx, tx, repository.IdentifierFilter{Assigned: &yes}); err != nil {
			return err
		}
		regs, err = s.regs.List(ctx, tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	boundTo := make(map[string]string, len(assigned))
	for _, id := range assigned {
		boundTo[id.Value] = id.BoundRecordID
	}
	registered := make(map[string]bool, len(regs))
	report.UnboundRegistrations = []string{}
	for _, r := range regs {
		registered[r.Identifier] = true
		if rec, ok := boundTo[r.Identifier]; !ok || rec != r.RecordID {
			report.UnboundRegistrations = append(report.UnboundRegistrations, r.RecordID)
		}
	}
	report.OrphanedIdentifiers = []string{}
	for _, id := range assigned {
		if !registered[id.Value] {
			report.OrphanedIdentifiers = append(report.OrphanedIdentifiers, id.Value)
		}
	}

	report.Registrations = len(regs)
	report.AssignedIdentifiers = len(assigned)
	report.UnbackedReservations = report.Capacity.Reserved - len(regs)
	report.Consistent = !report.LedgerCorrupt &&
		report.UnbackedReservations == 0 &&
		report.AssignedIdentifiers == report.Registrations &&
		len(report.OrphanedIdentifiers) == 0 &&
		len(report.UnboundRegistrations) == 0
	report.GeneratedAt = s.now().UTC()

	if !report.Consistent {
		s.logger(ctx).Error().
			Bool("ledger_corrupt", report.LedgerCorrupt).
			Int("unbacked_reservations", report.UnbackedReservations).
			Strs("orphaned_identifiers", report.OrphanedIdentifiers).
			Strs("unbound_registrations", report.UnboundRegistrations).
			Msg("store is inconsistent")
	}
	return &report, nil
}

func normalizeContact(c model.Contact) (model.Contact, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(strings.ToLower(c.Email))
	c.Phone = strings.TrimSpace(c.Phone)
	c.Organization = strings.TrimSpace(c.Organization)
	c.Role = strings.TrimSpace(c.Role)

	switch {
	case c.Name == "":
		return c, fmt.Errorf("%w: name is required", ErrInvalidContact)
	case c.Email == "":
		return c, fmt.Errorf("%w: email is required", ErrInvalidContact)
	case !isValidEmail(c.Email):
		return c, fmt.Errorf("%w: email is not a valid email address", ErrInvalidContact)
	case c.Phone == "":
		return c, fmt.Errorf("%w: phone is required", ErrInvalidContact)
	case c.Organization == "":
		return c, fmt.Errorf("%w: organization is required", ErrInvalidContact)
	}
	return c, nil
}

// isValidEmail does a basic structural check (no external deps).
func isValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}
