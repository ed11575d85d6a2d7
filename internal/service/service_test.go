package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/ticket-checkin/internal/model"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/repository"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/ticket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// firstPFX makes the generator's first candidate PFX-AAA111.
var firstPFX = []byte{0, 0, 0, 27, 27, 27}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc   *RegistrationService
	clock *clock
}

func newFixture(t *testing.T, capacity int, policy repository.PoolPolicy) *fixture {
	t.Helper()
	return newFixtureWithLogger(t, capacity, policy, zerolog.Nop())
}

func newFixtureWithLogger(t *testing.T, capacity int, policy repository.PoolPolicy, log zerolog.Logger) *fixture {
	t.Helper()

	format, err := ticket.NewFormat("PFX", 6)
	require.NoError(t, err)
	clk := newClock()

	gen := ticket.NewGeneratorFrom(format, io.MultiReader(bytes.NewReader(firstPFX), rand.Reader))
	codec := ticket.NewCodec(format, ticket.Event{Name: "Forum", Date: "2025-09-01", Venue: "Hall A"}).
		WithClock(clk.Now)
	svc := NewRegistrationService(
		repository.NewMemoryStore(),
		repository.NewCapacityLedger(clk.Now),
		repository.NewIdentifierPool(gen, policy, clk.Now),
		repository.NewRegistrationStore(),
		codec,
		log,
	).WithClock(clk.Now)

	_, err = svc.Bootstrap(context.Background(), capacity, 0)
	require.NoError(t, err)
	return &fixture{svc: svc, clock: clk}
}

func contact(name string) model.Contact {
	return model.Contact{
		Name:         name,
		Email:        name + "@example.com",
		Phone:        "+33600000000",
		Organization: "Acme",
		Role:         "Engineer",
	}
}

func TestCreateWithinCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, repository.PoolPolicy{AllowMint: true})

	issued, err := f.svc.Create(ctx, contact("a"))
	require.NoError(t, err)
	assert.Equal(t, "PFX-AAA111", issued.Registration.Identifier)
	assert.Equal(t, model.Capacity{Total: 1, Reserved: 1, Available: 0, UpdatedAt: f.clock.Now()}, issued.Capacity)
	assert.Equal(t, "PFX-AAA111", issued.Payload.Document.ID)
	assert.Equal(t, issued.Registration.RecordID, issued.Payload.Document.TicketID)
	assert.Equal(t, "Forum", issued.Payload.Document.Event)

	_, err = f.svc.Create(ctx, contact("b"))
	assert.ErrorIs(t, err, repository.ErrCapacityExhausted)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Capacity.Reserved)
	assert.Equal(t, 1, stats.Registrations.Total)
	assert.Equal(t, model.PoolStats{Total: 1, Assigned: 1, Available: 0}, stats.Identifiers)
	assert.InDelta(t, 100.0, stats.UsageRate, 0.001)
}

func TestCheckInOnlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, repository.PoolPolicy{AllowMint: true})
	_, err := f.svc.Create(ctx, contact("a"))
	require.NoError(t, err)

	first, err := f.svc.CheckIn(ctx, "PFX-AAA111")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, first.Status)
	require.NotNil(t, first.Registration)
	assert.True(t, first.Registration.CheckedIn)
	require.NotNil(t, first.CheckedInAt)
	firstAt := *first.CheckedInAt

	f.clock.Advance(time.Hour)

	second, err := f.svc.CheckIn(ctx, "PFX-AAA111")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUsed, second.Status)
	assert.Equal(t, model.ReasonAlreadyCheckedIn, second.Reason)
	require.NotNil(t, second.CheckedInAt)
	assert.Equal(t, firstAt, *second.CheckedInAt)
	assert.Equal(t, firstAt.Add(time.Hour), second.Timestamp)
}

func TestVerifyStructuredPayload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, repository.PoolPolicy{AllowMint: true})
	_, err := f.svc.Create(ctx, contact("a"))
	require.NoError(t, err)

	const scanned = `{"id":"PFX-AAA111","name":"A"}`

	before, err := f.svc.Verify(ctx, scanned)
	require.NoError(t, err)
	assert.Equal(t, model.StatusValid, before.Status)
	assert.Equal(t, "PFX-AAA111", before.Identifier)
	assert.Equal(t, scanned, before.Input)
	require.NotNil(t, before.Registration)
	assert.False(t, before.Registration.CheckedIn)

	_, err = f.svc.CheckIn(ctx, "PFX-AAA111")
	require.NoError(t, err)

	after, err := f.svc.Verify(ctx, scanned)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUsed, after.Status)
	assert.NotNil(t, after.CheckedInAt)
}

func TestVerifyInvalidInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, repository.PoolPolicy{AllowMint: true})
	_, err := f.svc.Create(ctx, contact("a"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		input  string
		reason model.ScanReason
	}{
		{name: "free text", input: "not-a-real-code", reason: model.ReasonUnrecognizedPayload},
		{name: "empty", input: "", reason: model.ReasonUnrecognizedPayload},
		{name: "json without identifier", input: `{"name":"A"}`, reason: model.ReasonUnrecognizedPayload},
		{name: "well-formed but unknown", input: "PFX-ZZZ999", reason: model.ReasonNotFound},
		{name: "other prefix", input: "AIK-AAA111", reason: model.ReasonUnrecognizedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.Verify(ctx, tt.input)
			require.NoError(t, err)
			assert.Equal(t, model.StatusInvalid, res.Status)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Nil(t, res.Registration)

			res, err = f.svc.CheckIn(ctx, tt.input)
			require.NoError(t, err)
			assert.Equal(t, model.StatusInvalid, res.Status)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestScanUnassignedIdentifier(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, repository.PoolPolicy{AllowMint: true})
	_, err := f.svc.Pregenerate(ctx, 1)
	require.NoError(t, err)

	res, err := f.svc.Verify(ctx, "PFX-AAA111")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInvalid, res.Status)
	assert.Equal(t, model.ReasonNotAssigned, res.Reason)

	res, err = f.svc.CheckIn(ctx, "PFX-AAA111")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInvalid, res.Status)
	assert.Equal(t, model.ReasonNotAssigned, res.Reason)

	issued, err := f.svc.Create(ctx, contact("a"))
	require.NoError(t, err)
	require.Equal(t, "PFX-AAA111", issued.Registration.Identifier)

	res, err = f.svc.Verify(ctx, "PFX-AAA111")
	require.NoError(t, err)
	assert.Equal(t, model.StatusValid, res.Status)
	assert.Empty(t, res.Reason)
	require.NotNil(t, res.Registration)
	assert.Equal(t, issued.Registration.RecordID, res.Registration.RecordID)
}

func TestCheckInLogsFirstCheckInTime(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	f := newFixtureWithLogger(t, 1, repository.PoolPolicy{AllowMint: true}, zerolog.New(&logs))
	issued, err := f.svc.Create(ctx, contact("a"))
	require.NoError(t, err)

	first, err := f.svc.CheckIn(ctx, issued.Registration.Identifier)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, first.Status)
	require.NotNil(t, first.CheckedInAt)

	f.clock.Advance(time.Minute)
	second, err := f.svc.CheckIn(ctx, issued.Registration.Identifier)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUsed, second.Status)

	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	last := lines[len(lines)-1]
	assert.Equal(t, "ticket already used", gjson.Get(last, "message").String())
	assert.Equal(t, "warn", gjson.Get(last, "level").String())
	assert.True(t, gjson.Get(last, "checked_in_at").Exists())
}

func TestVerifyNormalisesBareInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, repository.PoolPolicy{AllowMint: true})
	_, err := f.svc.Create(ctx, contact("a"))
	require.NoError(t, err)

	res, err := f.svc.Verify(ctx, "  pfx-aaa111\n")
	require.NoError(t, err)
	assert.Equal(t, model.StatusValid, res.Status)
	assert.Equal(t, "PFX-AAA111", res.Identifier)
}

func TestConcurrentCheckInsSucceedOnce(t *testing.T) {
	const scanners = 16
	ctx := context.Background()
	f := newFixture(t, 1, repository.PoolPolicy{AllowMint: true})
	_, err := f.svc.Create(ctx, contact("a"))
	require.NoError(t, err)

	results := make([]*model.ScanResult, scanners)
	var wg sync.WaitGroup
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.CheckIn(ctx, "PFX-AAA111")
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	var success, used int
	for _, res := range results {
		require.NotNil(t, res)
		switch res.Status {
		case model.StatusSuccess:
			success++
		case model.StatusUsed:
			used++
		default:
			t.Errorf("unexpected status %q", res.Status)
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, scanners-1, used)
}

func TestVerifyNeverMutates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, repository.PoolPolicy{AllowMint: true})
	issued, err := f.svc.Create(ctx, contact("a"))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		res, err := f.svc.Verify(ctx, issued.Payload.Text)
		require.NoError(t, err)
		assert.Equal(t, model.StatusValid, res.Status)
	}

	reg, err := f.svc.Registration(ctx, issued.Registration.RecordID)
	require.NoError(t, err)
	assert.False(t, reg.CheckedIn)
	assert.Nil(t, reg.CheckedInAt)
}

func TestPayloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 20, repository.PoolPolicy{AllowMint: true})

	for i := 0; i < 20; i++ {
		issued, err := f.svc.Create(ctx, contact(fmt.Sprintf("user%d", i)))
		require.NoError(t, err)

		id, err := f.svc.codec.Decode(issued.Payload.Text)
		require.NoError(t, err)
		assert.Equal(t, issued.Registration.Identifier, id)

		res, err := f.svc.CheckIn(ctx, issued.Payload.Text)
		require.NoError(t, err)
		assert.Equal(t, model.StatusSuccess, res.Status)
		assert.Equal(t, issued.Registration.RecordID, res.Registration.RecordID)
	}
}

func TestCreateValidatesContact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5, repository.PoolPolicy{AllowMint: true})

	tests := []struct {
		name   string
		mutate func(*model.Contact)
	}{
		{name: "missing name", mutate: func(c *model.Contact) { c.Name = "  " }},
		{name: "missing email", mutate: func(c *model.Contact) { c.Email = "" }},
		{name: "bad email", mutate: func(c *model.Contact) { c.Email = "nobody" }},
		{name: "email without domain dot", mutate: func(c *model.Contact) { c.Email = "a@localhost" }},
		{name: "missing phone", mutate: func(c *model.Contact) { c.Phone = "" }},
		{name: "missing organization", mutate: func(c *model.Contact) { c.Organization = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := contact("a")
			tt.mutate(&c)
			_, err := f.svc.Create(ctx, c)
			assert.ErrorIs(t, err, ErrInvalidContact)
		})
	}

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Capacity.Reserved, "rejected requests reserve nothing")
}

func TestCreateNormalisesContact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5, repository.PoolPolicy{AllowMint: true})

	issued, err := f.svc.Create(ctx, model.Contact{
		Name:         "  Ada Lovelace ",
		Email:        " Ada@Example.COM ",
		Phone:        "0600000000",
		Organization: "Analytical",
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", issued.Registration.Name)
	assert.Equal(t, "ada@example.com", issued.Registration.Email)
	assert.Empty(t, issued.Registration.Role)
}

func TestCreateReleasesSeatWhenPoolExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5, repository.PoolPolicy{AllowMint: false})

	_, err := f.svc.Create(ctx, contact("a"))
	assert.ErrorIs(t, err, repository.ErrPoolExhausted)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Capacity.Reserved)
	assert.Equal(t, 5, stats.Capacity.Available)
	assert.Zero(t, stats.Registrations.Total)
}

func TestConcurrentCreatesRespectCapacity(t *testing.T) {
	const (
		total   = 5
		callers = 20
	)
	ctx := context.Background()
	f := newFixture(t, total, repository.PoolPolicy{AllowMint: true})

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Create(ctx, contact(fmt.Sprintf("user%d", i)))
		}()
	}
	wg.Wait()

	var ok, full int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, repository.ErrCapacityExhausted):
			full++
		}
	}
	assert.Equal(t, total, ok)
	assert.Equal(t, callers-total, full)

	regs, err := f.svc.Registrations(ctx)
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, r := range regs {
		assert.False(t, seen[r.Identifier], "identifier %s issued twice", r.Identifier)
		seen[r.Identifier] = true
	}
	assert.Len(t, seen, total)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5, repository.PoolPolicy{AllowMint: true})

	c, err := f.svc.Bootstrap(ctx, 9, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Total, "the persisted total wins")

	_, err = f.svc.Bootstrap(ctx, 5, 3)
	require.NoError(t, err)

	available := false
	ids, err := f.svc.Identifiers(ctx, repository.IdentifierFilter{Assigned: &available})
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.Equal(t, "PFX-AAA111", ids[0].Value)
}

func TestPregenerate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5, repository.PoolPolicy{})

	_, err := f.svc.Pregenerate(ctx, 0)
	assert.Error(t, err)

	n, err := f.svc.Pregenerate(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	issued, err := f.svc.Create(ctx, contact("a"))
	require.NoError(t, err)
	assert.Equal(t, "PFX-AAA111", issued.Registration.Identifier, "pre-generated identifiers are used first")
}

func TestRegistrationLookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5, repository.PoolPolicy{AllowMint: true})
	issued, err := f.svc.Create(ctx, contact("a"))
	require.NoError(t, err)

	reg, err := f.svc.Registration(ctx, issued.Registration.RecordID)
	require.NoError(t, err)
	assert.Equal(t, issued.Registration, *reg)

	payload, err := f.svc.Payload(ctx, issued.Registration.RecordID)
	require.NoError(t, err)
	assert.Equal(t, issued.Payload, payload)

	_, err = f.svc.Registration(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.svc.Registration(ctx, "")
	assert.Error(t, err)
}

func TestReconcileConsistentStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5, repository.PoolPolicy{AllowMint: true})
	for i := 0; i < 3; i++ {
		_, err := f.svc.Create(ctx, contact(fmt.Sprintf("user%d", i)))
		require.NoError(t, err)
	}

	report, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.False(t, report.LedgerCorrupt)
	assert.Equal(t, 3, report.Registrations)
	assert.Equal(t, 3, report.AssignedIdentifiers)
	assert.Zero(t, report.UnbackedReservations)
	assert.Empty(t, report.OrphanedIdentifiers)
	assert.Empty(t, report.UnboundRegistrations)
}

func TestReconcileReportsInconsistencies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5, repository.PoolPolicy{AllowMint: true})
	s := f.svc
	_, err := s.Create(ctx, contact("ok"))
	require.NoError(t, err)

	// A reservation committed without a registration.
	err = s.store.Atomically(ctx, func(tx *repository.Tx) error {
		_, err := s.ledger.ReserveOne(ctx, tx)
		return err
	})
	require.NoError(t, err)

	// An identifier bound to a record that was never inserted.
	var orphan model.Identifier
	err = s.store.Atomically(ctx, func(tx *repository.Tx) error {
		var err error
		orphan, err = s.pool.Allocate(ctx, tx, "ghost")
		return err
	})
	require.NoError(t, err)

	// A registration pointing at an identifier that was never allocated.
	err = s.store.Atomically(ctx, func(tx *repository.Tx) error {
		_, err := s.regs.Insert(ctx, tx, model.Registration{
			RecordID:   "stray",
			Identifier: "PFX-STRAY1",
			Name:       "Stray",
			CreatedAt:  f.clock.Now(),
		})
		return err
	})
	require.NoError(t, err)

	report, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, 2, report.Capacity.Reserved)
	assert.Equal(t, 2, report.Registrations)
	assert.Equal(t, 2, report.AssignedIdentifiers)
	assert.Equal(t, 0, report.UnbackedReservations)
	assert.Equal(t, []string{orphan.Value}, report.OrphanedIdentifiers)
	assert.Equal(t, []string{"stray"}, report.UnboundRegistrations)
}
