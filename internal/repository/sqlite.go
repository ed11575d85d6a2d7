package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/ticket-checkin/internal/database"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/model"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

type sqliteBackend struct {
	pool *database.SQLitePool
}

// NewSQLiteStore returns a Store on a SQLite database. Read-write units of
// work are IMMEDIATE transactions, so SQLite admits one writer at a time.
func NewSQLiteStore(pool *database.SQLitePool) *Store {
	return &Store{backend: &sqliteBackend{pool: pool}, name: "sqlite"}
}

func (b *sqliteBackend) update(ctx context.Context, fn func(txn) error) (err error) {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer b.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlite: begin immediate: %w", err)
	}
	defer endTransaction(&err)

	return fn(&sqliteTxn{conn: conn})
}

func (b *sqliteBackend) view(ctx context.Context, fn func(txn) error) (err error) {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer b.pool.Put(conn)

	endTransaction := sqlitex.Transaction(conn)
	defer endTransaction(&err)

	return fn(&sqliteTxn{conn: conn})
}

func (b *sqliteBackend) close() error {
	return b.pool.Close()
}

type sqliteTxn struct {
	conn *sqlite.Conn
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func columnMillis(stmt *sqlite.Stmt, col int) *time.Time {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return nil
	}
	t := fromMillis(stmt.ColumnInt64(col))
	return &t
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (t *sqliteTxn) loadCapacity(context.Context) (model.Capacity, error) {
	var (
		c     model.Capacity
		found bool
	)
	err := sqlitex.Execute(t.conn,
		`SELECT total, reserved, available, updated_at FROM capacity WHERE id = 1`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				c.Total = stmt.ColumnInt(0)
				c.Reserved = stmt.ColumnInt(1)
				c.Available = stmt.ColumnInt(2)
				c.UpdatedAt = fromMillis(stmt.ColumnInt64(3))
				return nil
			},
		})
	if err != nil {
		return model.Capacity{}, err
	}
	if !found {
		return model.Capacity{}, ErrNotFound
	}
	return c, nil
}

func (t *sqliteTxn) storeCapacity(_ context.Context, c model.Capacity) error {
	return sqlitex.Execute(t.conn,
		`INSERT INTO capacity (id, total, reserved, available, updated_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     total = excluded.total,
		     reserved = excluded.reserved,
		     available = excluded.available,
		     updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{int64(c.Total), int64(c.Reserved), int64(c.Available), toMillis(c.UpdatedAt)},
		})
}

const sqliteIdentifierColumns = `seq, value, assigned, bound_record_id, created_at, assigned_at`

func scanSQLiteIdentifier(stmt *sqlite.Stmt) model.Identifier {
	return model.Identifier{
		Seq:           stmt.ColumnInt64(0),
		Value:         stmt.ColumnText(1),
		Assigned:      stmt.ColumnInt64(2) != 0,
		BoundRecordID: stmt.ColumnText(3),
		CreatedAt:     fromMillis(stmt.ColumnInt64(4)),
		AssignedAt:    columnMillis(stmt, 5),
	}
}

func (t *sqliteTxn) queryIdentifiers(query string, args ...any) ([]model.Identifier, error) {
	var ids []model.Identifier
	err := sqlitex.Execute(t.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			ids = append(ids, scanSQLiteIdentifier(stmt))
			return nil
		},
	})
	return ids, err
}

func (t *sqliteTxn) firstUnassigned(context.Context) (model.Identifier, error) {
	ids, err := t.queryIdentifiers(
		`SELECT ` + sqliteIdentifierColumns + ` FROM identifiers
		 WHERE assigned = 0 ORDER BY seq LIMIT 1`)
	if err != nil {
		return model.Identifier{}, err
	}
	if len(ids) == 0 {
		return model.Identifier{}, ErrNotFound
	}
	return ids[0], nil
}

func (t *sqliteTxn) identifier(_ context.Context, value string) (model.Identifier, error) {
	ids, err := t.queryIdentifiers(
		`SELECT `+sqliteIdentifierColumns+` FROM identifiers WHERE value = ?`, value)
	if err != nil {
		return model.Identifier{}, err
	}
	if len(ids) == 0 {
		return model.Identifier{}, ErrNotFound
	}
	return ids[0], nil
}

func (t *sqliteTxn) insertIdentifier(_ context.Context, value string, createdAt time.Time) (model.Identifier, bool, error) {
	err := sqlitex.Execute(t.conn,
		`INSERT INTO identifiers (value, assigned, created_at) VALUES (?, 0, ?)
		 ON CONFLICT (value) DO NOTHING`,
		&sqlitex.ExecOptions{Args: []any{value, toMillis(createdAt)}})
	if err != nil {
		return model.Identifier{}, false, err
	}
	if t.conn.Changes() == 0 {
		return model.Identifier{}, false, nil
	}
	return model.Identifier{
		Value:     value,
		Seq:       t.conn.LastInsertRowID(),
		CreatedAt: createdAt,
	}, true, nil
}

func (t *sqliteTxn) bindIdentifier(_ context.Context, value, recordID string, at time.Time) (bool, error) {
	err := sqlitex.Execute(t.conn,
		`UPDATE identifiers SET assigned = 1, bound_record_id = ?, assigned_at = ?
		 WHERE value = ? AND assigned = 0`,
		&sqlitex.ExecOptions{Args: []any{recordID, toMillis(at), value}})
	if err != nil {
		return false, err
	}
	return t.conn.Changes() == 1, nil
}

func (t *sqliteTxn) countIdentifiers(context.Context) (model.PoolStats, error) {
	var stats model.PoolStats
	err := sqlitex.Execute(t.conn,
		`SELECT COUNT(*), COALESCE(SUM(assigned), 0) FROM identifiers`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stats.Total = stmt.ColumnInt(0)
				stats.Assigned = stmt.ColumnInt(1)
				return nil
			},
		})
	stats.Available = stats.Total - stats.Assigned
	return stats, err
}

func (t *sqliteTxn) listIdentifiers(_ context.Context, f IdentifierFilter) ([]model.Identifier, error) {
	var (
		where []string
		args  []any
	)
	if f.Assigned != nil {
		where = append(where, "assigned = ?")
		args = append(args, boolInt(*f.Assigned))
	}
	query := `SELECT ` + sqliteIdentifierColumns + ` FROM identifiers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, int64(f.Limit))
	}
	return t.queryIdentifiers(query, args...)
}

const sqliteRegistrationColumns = `record_id, identifier, name, email, phone, organization, role,
	checked_in, checked_in_at, created_at`

func scanSQLiteRegistration(stmt *sqlite.Stmt) model.Registration {
	return model.Registration{
		RecordID:     stmt.ColumnText(0),
		Identifier:   stmt.ColumnText(1),
		Name:         stmt.ColumnText(2),
		Email:        stmt.ColumnText(3),
		Phone:        stmt.ColumnText(4),
		Organization: stmt.ColumnText(5),
		Role:         stmt.ColumnText(6),
		CheckedIn:    stmt.ColumnInt64(7) != 0,
		CheckedInAt:  columnMillis(stmt, 8),
		CreatedAt:    fromMillis(stmt.ColumnInt64(9)),
	}
}

func (t *sqliteTxn) queryRegistrations(query string, args ...any) ([]model.Registration, error) {
	var regs []model.Registration
	err := sqlitex.Execute(t.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			regs = append(regs, scanSQLiteRegistration(stmt))
			return nil
		},
	})
	return regs, err
}

func (t *sqliteTxn) insertRegistration(_ context.Context, r model.Registration) (bool, error) {
	err := sqlitex.Execute(t.conn,
		`INSERT INTO registrations
		     (record_id, identifier, name, email, phone, organization, role,
		      checked_in, checked_in_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL, ?)
		 ON CONFLICT DO NOTHING`,
		&sqlitex.ExecOptions{Args: []any{
			r.RecordID, r.Identifier, r.Name, r.Email, r.Phone, r.Organization, r.Role,
			toMillis(r.CreatedAt),
		}})
	if err != nil {
		return false, err
	}
	return t.conn.Changes() == 1, nil
}

func (t *sqliteTxn) registration(_ context.Context, key lookupKey, value string) (model.Registration, error) {
	column := "record_id"
	if key == byIdentifier {
		column = "identifier"
	}
	regs, err := t.queryRegistrations(
		`SELECT `+sqliteRegistrationColumns+` FROM registrations WHERE `+column+` = ?`, value)
	if err != nil {
		return model.Registration{}, err
	}
	if len(regs) == 0 {
		return model.Registration{}, ErrNotFound
	}
	return regs[0], nil
}

func (t *sqliteTxn) setCheckedIn(_ context.Context, recordID string, at time.Time) (bool, error) {
	err := sqlitex.Execute(t.conn,
		`UPDATE registrations SET checked_in = 1, checked_in_at = ?
		 WHERE record_id = ? AND checked_in = 0`,
		&sqlitex.ExecOptions{Args: []any{toMillis(at), recordID}})
	if err != nil {
		return false, err
	}
	return t.conn.Changes() == 1, nil
}

func (t *sqliteTxn) countRegistrations(context.Context) (model.RegistrationStats, error) {
	var stats model.RegistrationStats
	err := sqlitex.Execute(t.conn,
		`SELECT COUNT(*), COALESCE(SUM(checked_in), 0) FROM registrations`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stats.Total = stmt.ColumnInt(0)
				stats.CheckedIn = stmt.ColumnInt(1)
				return nil
			},
		})
	stats.Pending = stats.Total - stats.CheckedIn
	return stats, err
}

func (t *sqliteTxn) listRegistrations(context.Context) ([]model.Registration, error) {
	return t.queryRegistrations(
		`SELECT ` + sqliteRegistrationColumns + ` FROM registrations ORDER BY created_at, rowid`)
}
