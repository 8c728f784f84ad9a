package sqlstore

import (
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	mssql "github.com/microsoft/go-mssqldb"
	_ "github.com/sijms/go-ora/v2"
	"github.com/sijms/go-ora/v2/network"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
	sqlx.BindDriver("oracle", sqlx.NAMED)
}

// dialect captures the per-database differences: the database/sql driver
// name, the DDL and the pagination clause.
type dialect struct {
	driverName string
	schema     []string
	// page returns the clause appended after ORDER BY and its arguments.
	page func(limit, offset int) (string, []interface{})
}

func limitOffset(limit, offset int) (string, []interface{}) {
	return " LIMIT ? OFFSET ?", []interface{}{limit, offset}
}

func offsetFetch(limit, offset int) (string, []interface{}) {
	return " OFFSET ? ROWS FETCH NEXT ? ROWS ONLY", []interface{}{offset, limit}
}

var dialects = map[string]dialect{
	"sqlite": {
		driverName: "sqlite",
		page:       limitOffset,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS licenses (
				license_key TEXT PRIMARY KEY,
				hwid TEXT,
				created_at DATETIME NOT NULL,
				expiry_days INTEGER NOT NULL,
				edition TEXT NOT NULL,
				state TEXT NOT NULL,
				server_revision INTEGER NOT NULL,
				last_seen DATETIME,
				owner_email TEXT,
				notes TEXT,
				revoke_reason TEXT,
				revoked_at DATETIME,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS license_usage (
				id TEXT PRIMARY KEY,
				license_key TEXT NOT NULL,
				action TEXT NOT NULL,
				outcome TEXT NOT NULL,
				hwid TEXT,
				edition_before TEXT,
				edition_after TEXT,
				expiry_before TEXT,
				expiry_after TEXT,
				revision_before INTEGER NOT NULL DEFAULT 0,
				revision_after INTEGER NOT NULL DEFAULT 0,
				actor TEXT,
				ip TEXT,
				user_agent TEXT,
				detail TEXT,
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_license_usage_key ON license_usage(license_key, created_at)`,
		},
	},
	"postgres": {
		driverName: "pgx",
		page:       limitOffset,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS licenses (
				license_key TEXT PRIMARY KEY,
				hwid TEXT,
				created_at TIMESTAMPTZ NOT NULL,
				expiry_days INTEGER NOT NULL,
				edition TEXT NOT NULL,
				state TEXT NOT NULL,
				server_revision BIGINT NOT NULL,
				last_seen TIMESTAMPTZ,
				owner_email TEXT,
				notes TEXT,
				revoke_reason TEXT,
				revoked_at TIMESTAMPTZ,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS license_usage (
				id TEXT PRIMARY KEY,
				license_key TEXT NOT NULL,
				action TEXT NOT NULL,
				outcome TEXT NOT NULL,
				hwid TEXT,
				edition_before TEXT,
				edition_after TEXT,
				expiry_before TEXT,
				expiry_after TEXT,
				revision_before BIGINT NOT NULL DEFAULT 0,
				revision_after BIGINT NOT NULL DEFAULT 0,
				actor TEXT,
				ip TEXT,
				user_agent TEXT,
				detail TEXT,
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_license_usage_key ON license_usage(license_key, created_at)`,
		},
	},
	"mysql": {
		driverName: "mysql",
		page:       limitOffset,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS licenses (
				license_key VARCHAR(64) PRIMARY KEY,
				hwid VARCHAR(255),
				created_at DATETIME(6) NOT NULL,
				expiry_days INT NOT NULL,
				edition VARCHAR(16) NOT NULL,
				state VARCHAR(16) NOT NULL,
				server_revision BIGINT NOT NULL,
				last_seen DATETIME(6),
				owner_email VARCHAR(255),
				notes TEXT,
				revoke_reason TEXT,
				revoked_at DATETIME(6),
				updated_at DATETIME(6) NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS license_usage (
				id VARCHAR(36) PRIMARY KEY,
				license_key VARCHAR(64) NOT NULL,
				action VARCHAR(16) NOT NULL,
				outcome VARCHAR(32) NOT NULL,
				hwid VARCHAR(255),
				edition_before VARCHAR(16),
				edition_after VARCHAR(16),
				expiry_before VARCHAR(10),
				expiry_after VARCHAR(10),
				revision_before BIGINT NOT NULL DEFAULT 0,
				revision_after BIGINT NOT NULL DEFAULT 0,
				actor VARCHAR(255),
				ip VARCHAR(64),
				user_agent VARCHAR(512),
				detail TEXT,
				created_at DATETIME(6) NOT NULL,
				INDEX idx_license_usage_key (license_key, created_at)
			)`,
		},
	},
	"mssql": {
		driverName: "sqlserver",
		page:       offsetFetch,
		schema: []string{
			`IF OBJECT_ID(N'licenses', N'U') IS NULL
			CREATE TABLE licenses (
				license_key NVARCHAR(64) PRIMARY KEY,
				hwid NVARCHAR(255),
				created_at DATETIME2 NOT NULL,
				expiry_days INT NOT NULL,
				edition NVARCHAR(16) NOT NULL,
				state NVARCHAR(16) NOT NULL,
				server_revision BIGINT NOT NULL,
				last_seen DATETIME2,
				owner_email NVARCHAR(255),
				notes NVARCHAR(MAX),
				revoke_reason NVARCHAR(MAX),
				revoked_at DATETIME2,
				updated_at DATETIME2 NOT NULL
			)`,
			`IF OBJECT_ID(N'license_usage', N'U') IS NULL
			CREATE TABLE license_usage (
				id NVARCHAR(36) PRIMARY KEY,
				license_key NVARCHAR(64) NOT NULL,
				action NVARCHAR(16) NOT NULL,
				outcome NVARCHAR(32) NOT NULL,
				hwid NVARCHAR(255),
				edition_before NVARCHAR(16),
				edition_after NVARCHAR(16),
				expiry_before NVARCHAR(10),
				expiry_after NVARCHAR(10),
				revision_before BIGINT NOT NULL DEFAULT 0,
				revision_after BIGINT NOT NULL DEFAULT 0,
				actor NVARCHAR(255),
				ip NVARCHAR(64),
				user_agent NVARCHAR(512),
				detail NVARCHAR(MAX),
				created_at DATETIME2 NOT NULL,
				INDEX idx_license_usage_key (license_key, created_at)
			)`,
		},
	},
	"oracle": {
		driverName: "oracle",
		page:       offsetFetch,
		schema: []string{
			oracleCreate(`CREATE TABLE licenses (
				license_key VARCHAR2(64) PRIMARY KEY,
				hwid VARCHAR2(255),
				created_at TIMESTAMP NOT NULL,
				expiry_days NUMBER(10) NOT NULL,
				edition VARCHAR2(16) NOT NULL,
				state VARCHAR2(16) NOT NULL,
				server_revision NUMBER(19) NOT NULL,
				last_seen TIMESTAMP,
				owner_email VARCHAR2(255),
				notes VARCHAR2(4000),
				revoke_reason VARCHAR2(4000),
				revoked_at TIMESTAMP,
				updated_at TIMESTAMP NOT NULL
			)`),
			oracleCreate(`CREATE TABLE license_usage (
				id VARCHAR2(36) PRIMARY KEY,
				license_key VARCHAR2(64) NOT NULL,
				action VARCHAR2(16) NOT NULL,
				outcome VARCHAR2(32) NOT NULL,
				hwid VARCHAR2(255),
				edition_before VARCHAR2(16),
				edition_after VARCHAR2(16),
				expiry_before VARCHAR2(10),
				expiry_after VARCHAR2(10),
				revision_before NUMBER(19) DEFAULT 0 NOT NULL,
				revision_after NUMBER(19) DEFAULT 0 NOT NULL,
				actor VARCHAR2(255),
				ip VARCHAR2(64),
				user_agent VARCHAR2(512),
				detail VARCHAR2(4000),
				created_at TIMESTAMP NOT NULL
			)`),
			oracleCreate(`CREATE INDEX idx_license_usage_key ON license_usage(license_key, created_at)`),
		},
	},
}

// oracleCreate wraps DDL so that re-running it against an existing object
// (ORA-00955) is a no-op.
func oracleCreate(ddl string) string {
	return fmt.Sprintf(`BEGIN
	EXECUTE IMMEDIATE '%s';
EXCEPTION WHEN OTHERS THEN
	IF SQLCODE != -955 THEN RAISE; END IF;
END;`, ddl)
}

// prepareDSN applies the connection settings the schema relies on.
func prepareDSN(driver, dsn string) (string, error) {
	switch driver {
	case "sqlite":
		if dsn == "" {
			return ":memory:", nil
		}
	case "mysql":
		mc, err := mysqldriver.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		mc.ParseTime = true
		mc.Loc = time.UTC
		// RowsAffected must count matched rows for the conditional write.
		mc.ClientFoundRows = true
		return mc.FormatDSN(), nil
	}
	return dsn, nil
}

// Drivers lists the driver names this package can open.
func Drivers() []string {
	return []string{"mssql", "mysql", "oracle", "postgres", "sqlite"}
}

// isDuplicate reports whether err is a primary-key or unique violation from
// any of the supported drivers.
func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return msErr.Number == 2627 || msErr.Number == 2601
	}
	var oraErr *network.OracleError
	if errors.As(err, &oraErr) {
		return oraErr.ErrCode == 1
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
