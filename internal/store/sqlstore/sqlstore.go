// Package sqlstore implements store.Store on top of sqlx for SQLite,
// PostgreSQL, MySQL, SQL Server and Oracle. The conditional write is a
// single UPDATE guarded by the expected server_revision.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/licensor/internal/model"
	"github.com/faucetdb/licensor/internal/store"
)

const licenseColumns = `license_key, hwid, created_at, expiry_days, edition, state, server_revision,
	last_seen, owner_email, notes, revoke_reason, revoked_at, updated_at`

// Store is a SQL-backed license store.
type Store struct {
	db      *sqlx.DB
	dialect dialect
}

// Open connects to cfg.DSN with the driver named by cfg.Driver and creates
// the schema if it is missing.
func Open(ctx context.Context, cfg store.Config) (store.Store, error) {
	return New(ctx, cfg)
}

// New is Open returning the concrete type.
func New(ctx context.Context, cfg store.Config) (*Store, error) {
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}

	dsn, err := prepareDSN(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
		if cfg.ConnMaxIdleTime > 0 {
			db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
		}
	}

	s := &Store{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate license schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, m := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// licenseRow maps 1:1 to the licenses table. Optional text columns are
// nullable because Oracle stores empty strings as NULL.
type licenseRow struct {
	Key            string         `db:"license_key"`
	HWID           sql.NullString `db:"hwid"`
	CreatedAt      time.Time      `db:"created_at"`
	ExpiryDays     int            `db:"expiry_days"`
	Edition        string         `db:"edition"`
	State          string         `db:"state"`
	ServerRevision int64          `db:"server_revision"`
	LastSeen       sql.NullTime   `db:"last_seen"`
	OwnerEmail     sql.NullString `db:"owner_email"`
	Notes          sql.NullString `db:"notes"`
	RevokeReason   sql.NullString `db:"revoke_reason"`
	RevokedAt      sql.NullTime   `db:"revoked_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func licenseRowFromModel(l *model.License) licenseRow {
	return licenseRow{
		Key:            l.Key,
		HWID:           nullString(l.HWID),
		CreatedAt:      l.CreatedAt.UTC(),
		ExpiryDays:     l.ExpiryDays,
		Edition:        string(l.Edition),
		State:          string(l.State),
		ServerRevision: l.ServerRevision,
		LastSeen:       nullTime(l.LastSeen),
		OwnerEmail:     nullString(l.OwnerEmail),
		Notes:          nullString(l.Notes),
		RevokeReason:   nullString(l.RevokeReason),
		RevokedAt:      nullTime(l.RevokedAt),
		UpdatedAt:      l.UpdatedAt.UTC(),
	}
}

func (r licenseRow) toModel() *model.License {
	l := &model.License{
		Key:            r.Key,
		HWID:           r.HWID.String,
		CreatedAt:      r.CreatedAt.UTC(),
		ExpiryDays:     r.ExpiryDays,
		Edition:        model.Edition(r.Edition),
		State:          model.State(r.State),
		ServerRevision: r.ServerRevision,
		OwnerEmail:     r.OwnerEmail.String,
		Notes:          r.Notes.String,
		RevokeReason:   r.RevokeReason.String,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.LastSeen.Valid {
		t := r.LastSeen.Time.UTC()
		l.LastSeen = &t
	}
	if r.RevokedAt.Valid {
		t := r.RevokedAt.Time.UTC()
		l.RevokedAt = &t
	}
	return l
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

const insertLicenseSQL = `INSERT INTO licenses (` + licenseColumns + `)
	VALUES (:license_key, :hwid, :created_at, :expiry_days, :edition, :state, :server_revision,
	:last_seen, :owner_email, :notes, :revoke_reason, :revoked_at, :updated_at)`

const casSetSQL = `UPDATE licenses SET
	hwid = :hwid, expiry_days = :expiry_days, edition = :edition, state = :state,
	server_revision = :server_revision, owner_email = :owner_email, notes = :notes,
	revoke_reason = :revoke_reason, revoked_at = :revoked_at, updated_at = :updated_at`

const casWhereSQL = `
	WHERE license_key = :license_key AND server_revision = :expected_revision`

// casLicenseSQL keeps the stored last_seen when it is later than the new one.
const casLicenseSQL = casSetSQL + `,
	last_seen = CASE WHEN last_seen > :last_seen THEN last_seen ELSE :last_seen END` + casWhereSQL

// casUnseenSQL leaves last_seen alone for records that carry none.
const casUnseenSQL = casSetSQL + casWhereSQL

type casArgs struct {
	licenseRow
	Expected int64 `db:"expected_revision"`
}

func (s *Store) Get(ctx context.Context, key string) (*model.License, error) {
	var row licenseRow
	q := s.db.Rebind(`SELECT ` + licenseColumns + ` FROM licenses WHERE license_key = ?`)
	if err := s.db.GetContext(ctx, &row, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	q := s.db.Rebind(`SELECT COUNT(*) FROM licenses WHERE license_key = ?`)
	if err := s.db.GetContext(ctx, &n, q, key); err != nil {
		return false, fmt.Errorf("check license key: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Insert(ctx context.Context, l *model.License) error {
	if _, err := s.db.NamedExecContext(ctx, insertLicenseSQL, licenseRowFromModel(l)); err != nil {
		if isDuplicate(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

func (s *Store) InsertBatch(ctx context.Context, ls []*model.License) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, l := range ls {
		if _, err := tx.NamedExecContext(ctx, insertLicenseSQL, licenseRowFromModel(l)); err != nil {
			if isDuplicate(err) {
				return store.ErrDuplicateKey
			}
			return fmt.Errorf("insert license %s: %w", l.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit license batch: %w", err)
	}
	return nil
}

func (s *Store) CompareAndSwap(ctx context.Context, expected int64, l *model.License) error {
	q := casLicenseSQL
	if l.LastSeen == nil {
		q = casUnseenSQL
	}
	res, err := s.db.NamedExecContext(ctx, q, casArgs{licenseRow: licenseRowFromModel(l), Expected: expected})
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	if n > 0 {
		return nil
	}

	exists, err := s.Exists(ctx, l.Key)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func (s *Store) List(ctx context.Context, offset, limit int) ([]*model.License, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM licenses`); err != nil {
		return nil, 0, fmt.Errorf("count licenses: %w", err)
	}

	clause, args := s.dialect.page(limit, offset)
	q := s.db.Rebind(`SELECT ` + licenseColumns + ` FROM licenses ORDER BY license_key` + clause)

	var rows []licenseRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, 0, fmt.Errorf("list licenses: %w", err)
	}
	out := make([]*model.License, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, total, nil
}

func (s *Store) Scan(ctx context.Context, fn func(*model.License) error) error {
	rows, err := s.db.QueryxContext(ctx, `SELECT `+licenseColumns+` FROM licenses ORDER BY license_key`)
	if err != nil {
		return fmt.Errorf("scan licenses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row licenseRow
		if err := rows.StructScan(&row); err != nil {
			return fmt.Errorf("scan license row: %w", err)
		}
		if err := fn(row.toModel()); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the connection for tooling that needs raw access.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// usageRow is the flat form of model.UsageLogEntry.
type usageRow struct {
	ID             string         `db:"id"`
	LicenseKey     string         `db:"license_key"`
	Action         string         `db:"action"`
	Outcome        string         `db:"outcome"`
	HWID           sql.NullString `db:"hwid"`
	EditionBefore  sql.NullString `db:"edition_before"`
	EditionAfter   sql.NullString `db:"edition_after"`
	ExpiryBefore   sql.NullString `db:"expiry_before"`
	ExpiryAfter    sql.NullString `db:"expiry_after"`
	RevisionBefore int64          `db:"revision_before"`
	RevisionAfter  int64          `db:"revision_after"`
	Actor          sql.NullString `db:"actor"`
	IP             sql.NullString `db:"ip"`
	UserAgent      sql.NullString `db:"user_agent"`
	Detail         sql.NullString `db:"detail"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r usageRow) toModel() model.UsageLogEntry {
	return model.UsageLogEntry{
		ID:             r.ID,
		LicenseKey:     r.LicenseKey,
		Action:         model.Action(r.Action),
		Outcome:        r.Outcome,
		HWID:           r.HWID.String,
		EditionBefore:  model.Edition(r.EditionBefore.String),
		EditionAfter:   model.Edition(r.EditionAfter.String),
		ExpiryBefore:   r.ExpiryBefore.String,
		ExpiryAfter:    r.ExpiryAfter.String,
		RevisionBefore: r.RevisionBefore,
		RevisionAfter:  r.RevisionAfter,
		Actor: model.Actor{
			Identity:  r.Actor.String,
			IP:        r.IP.String,
			UserAgent: r.UserAgent.String,
		},
		Detail:    r.Detail.String,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

const usageColumns = `id, license_key, action, outcome, hwid, edition_before, edition_after,
	expiry_before, expiry_after, revision_before, revision_after, actor, ip, user_agent, detail, created_at`

var insertUsageSQL = `INSERT INTO license_usage (` + usageColumns + `) VALUES (` + namedParams(usageColumns) + `)`

// namedParams turns a column list into the matching :name placeholders.
func namedParams(columns string) string {
	names := strings.Fields(strings.ReplaceAll(columns, ",", " "))
	return ":" + strings.Join(names, ", :")
}

// Record appends a usage entry to the license_usage table.
func (s *Store) Record(ctx context.Context, e *model.UsageLogEntry) error {
	row := usageRow{
		ID:             e.ID,
		LicenseKey:     e.LicenseKey,
		Action:         string(e.Action),
		Outcome:        e.Outcome,
		HWID:           nullString(e.HWID),
		EditionBefore:  nullString(string(e.EditionBefore)),
		EditionAfter:   nullString(string(e.EditionAfter)),
		ExpiryBefore:   nullString(e.ExpiryBefore),
		ExpiryAfter:    nullString(e.ExpiryAfter),
		RevisionBefore: e.RevisionBefore,
		RevisionAfter:  e.RevisionAfter,
		Actor:          nullString(e.Actor.Identity),
		IP:             nullString(e.Actor.IP),
		UserAgent:      nullString(e.Actor.UserAgent),
		Detail:         nullString(e.Detail),
		CreatedAt:      e.CreatedAt.UTC(),
	}
	if _, err := s.db.NamedExecContext(ctx, insertUsageSQL, row); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// ListUsage returns the newest usage entries for key first.
func (s *Store) ListUsage(ctx context.Context, key string, limit int) ([]model.UsageLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	clause, pageArgs := s.dialect.page(limit, 0)
	q := s.db.Rebind(`SELECT ` + usageColumns + ` FROM license_usage WHERE license_key = ? ORDER BY created_at DESC` + clause)

	var rows []usageRow
	args := append([]interface{}{key}, pageArgs...)
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	out := make([]model.UsageLogEntry, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}
