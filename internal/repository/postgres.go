package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/ticket-checkin/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresBackend struct {
	db *pgxpool.Pool
}

// NewPostgresStore returns a Store on PostgreSQL. The schema is expected to
// be in place (see database.Migrate).
//
// ─────────────────────────────────────────────────────────────────────────────
// LOCKING
// ─────────────────────────────────────────────────────────────────────────────
//
// A naive "read state, then write state" lets two requests read the same
// snapshot before either writes:
//
//	A: SELECT checked_in FROM registrations WHERE record_id = X  → false
//	B: SELECT checked_in FROM registrations WHERE record_id = X  → false
//	A: UPDATE … SET checked_in = true                            → "success"
//	B: UPDATE … SET checked_in = true                            → "success"
//
// Inside a read-write unit of work every row the core decides on is read
// with SELECT … FOR UPDATE, which blocks any other FOR UPDATE reader of the
// row until COMMIT or ROLLBACK:
//
//   - the single capacity row, so reservations are serialised;
//   - the registration row, so check-ins of one ticket are serialised;
//   - the first unassigned identifier, with SKIP LOCKED so concurrent
//     allocations take different identifiers instead of queueing.
//
// The check-in UPDATE is additionally conditioned on checked_in = false and
// new identifier values rely on the UNIQUE constraint (ON CONFLICT DO
// NOTHING), so a concurrent mint of the same candidate is seen as a
// collision rather than committed twice.
// ─────────────────────────────────────────────────────────────────────────────
func NewPostgresStore(db *pgxpool.Pool) *Store {
	return &Store{backend: &postgresBackend{db: db}, name: "postgres"}
}

func (b *postgresBackend) update(ctx context.Context, fn func(txn) error) error {
	return b.run(ctx, pgx.TxOptions{}, true, fn)
}

func (b *postgresBackend) view(ctx context.Context, fn func(txn) error) error {
	return b.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, false, fn)
}

func (b *postgresBackend) run(ctx context.Context, opts pgx.TxOptions, lock bool, fn func(txn) error) (err error) {
	tx, err := b.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Ensure the transaction is always resolved.
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&postgresTxn{tx: tx, lock: lock}); err != nil {
		return err
	}

	// Only now does any other transaction see the change.
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (b *postgresBackend) close() error {
	b.db.Close()
	return nil
}

type postgresTxn struct {
	tx   pgx.Tx
	lock bool
}

func (t *postgresTxn) forUpdate(clause string) string {
	if !t.lock {
		return ""
	}
	return " " + clause
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (t *postgresTxn) loadCapacity(ctx context.Context) (model.Capacity, error) {
	var c model.Capacity
	err := t.tx.QueryRow(ctx,
		`SELECT total, reserved, available, updated_at
		 FROM capacity
		 WHERE id = 1`+t.forUpdate("FOR UPDATE"),
	).Scan(&c.Total, &c.Reserved, &c.Available, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Capacity{}, ErrNotFound
		}
		return model.Capacity{}, err
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (t *postgresTxn) storeCapacity(ctx context.Context, c model.Capacity) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO capacity (id, total, reserved, available, updated_at)
		 VALUES (1, $1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
		     total = EXCLUDED.total,
		     reserved = EXCLUDED.reserved,
		     available = EXCLUDED.available,
		     updated_at = EXCLUDED.updated_at`,
		c.Total, c.Reserved, c.Available, c.UpdatedAt,
	)
	return err
}

const pgIdentifierColumns = `seq, value, assigned, COALESCE(bound_record_id, ''), created_at, assigned_at`

func scanPGIdentifier(row pgx.Row) (model.Identifier, error) {
	var id model.Identifier
	err := row.Scan(&id.Seq, &id.Value, &id.Assigned, &id.BoundRecordID, &id.CreatedAt, &id.AssignedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Identifier{}, ErrNotFound
		}
		return model.Identifier{}, err
	}
	id.CreatedAt = id.CreatedAt.UTC()
	id.AssignedAt = utcPtr(id.AssignedAt)
	return id, nil
}

func (t *postgresTxn) firstUnassigned(ctx context.Context) (model.Identifier, error) {
	return scanPGIdentifier(t.tx.QueryRow(ctx,
		`SELECT `+pgIdentifierColumns+`
		 FROM identifiers
		 WHERE NOT assigned
		 ORDER BY seq
		 LIMIT 1`+t.forUpdate("FOR UPDATE SKIP LOCKED"),
	))
}

func (t *postgresTxn) identifier(ctx context.Context, value string) (model.Identifier, error) {
	return scanPGIdentifier(t.tx.QueryRow(ctx,
		`SELECT `+pgIdentifierColumns+` FROM identifiers WHERE value = $1`,
		value,
	))
}

func (t *postgresTxn) insertIdentifier(ctx context.Context, value string, createdAt time.Time) (model.Identifier, bool, error) {
	id := model.Identifier{Value: value, CreatedAt: createdAt}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO identifiers (value, assigned, created_at)
		 VALUES ($1, FALSE, $2)
		 ON CONFLICT (value) DO NOTHING
		 RETURNING seq`,
		value, createdAt,
	).Scan(&id.Seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Identifier{}, false, nil
		}
		return model.Identifier{}, false, err
	}
	return id, true, nil
}

func (t *postgresTxn) bindIdentifier(ctx context.Context, value, recordID string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE identifiers
		 SET assigned = TRUE, bound_record_id = $2, assigned_at = $3
		 WHERE value = $1 AND NOT assigned`,
		value, recordID, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *postgresTxn) countIdentifiers(ctx context.Context) (model.PoolStats, error) {
	var stats model.PoolStats
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE assigned) FROM identifiers`,
	).Scan(&stats.Total, &stats.Assigned)
	stats.Available = stats.Total - stats.Assigned
	return stats, err
}

func (t *postgresTxn) listIdentifiers(ctx context.Context, f IdentifierFilter) ([]model.Identifier, error) {
	var (
		where []string
		args  []any
	)
	if f.Assigned != nil {
		args = append(args, *f.Assigned)
		where = append(where, fmt.Sprintf("assigned = $%d", len(args)))
	}
	query := `SELECT ` + pgIdentifierColumns + ` FROM identifiers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []model.Identifier
	for rows.Next() {
		id, err := scanPGIdentifier(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identifier: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const pgRegistrationColumns = `record_id, identifier, name, email, phone, organization, role,
	checked_in, checked_in_at, created_at`

func scanPGRegistration(row pgx.Row) (model.Registration, error) {
	var r model.Registration
	err := row.Scan(&r.RecordID, &r.Identifier, &r.Name, &r.Email, &r.Phone,
		&r.Organization, &r.Role, &r.CheckedIn, &r.CheckedInAt, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Registration{}, ErrNotFound
		}
		return model.Registration{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.CheckedInAt = utcPtr(r.CheckedInAt)
	return r, nil
}

func (t *postgresTxn) insertRegistration(ctx context.Context, r model.Registration) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO registrations
		     (record_id, identifier, name, email, phone, organization, role,
		      checked_in, checked_in_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, NULL, $8)
		 ON CONFLICT DO NOTHING`,
		r.RecordID, r.Identifier, r.Name, r.Email, r.Phone, r.Organization, r.Role, r.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *postgresTxn) registration(ctx context.Context, key lookupKey, value string) (model.Registration, error) {
	column := "record_id"
	if key == byIdentifier {
		column = "identifier"
	}
	return scanPGRegistration(t.tx.QueryRow(ctx,
		`SELECT `+pgRegistrationColumns+`
		 FROM registrations
		 WHERE `+column+` = $1`+t.forUpdate("FOR UPDATE"),
		value,
	))
}

func (t *postgresTxn) setCheckedIn(ctx context.Context, recordID string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE registrations
		 SET checked_in = TRUE, checked_in_at = $2
		 WHERE record_id = $1 AND NOT checked_in`,
		recordID, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *postgresTxn) countRegistrations(ctx context.Context) (model.RegistrationStats, error) {
	var stats model.RegistrationStats
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE checked_in) FROM registrations`,
	).Scan(&stats.Total, &stats.CheckedIn)
	stats.Pending = stats.Total - stats.CheckedIn
	return stats, err
}

func (t *postgresTxn) listRegistrations(ctx context.Context) ([]model.Registration, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+pgRegistrationColumns+`
		 FROM registrations
		 ORDER BY created_at ASC, record_id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		r, err := scanPGRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, r)
	}
	return regs, rows.Err()
}
