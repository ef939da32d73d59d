package repository

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect captures the differences between the SQL backends.
type Dialect struct {
	Driver string
	// Returning is true when UPDATE/INSERT ... RETURNING is available.
	Returning bool
	// Numbered placeholders ($1, $2) instead of '?'.
	Numbered bool
	Schema   []string
	// PresenceSchema creates the last-seen table.
	PresenceSchema string
	Upsert         string
}

var (
	MySQL = Dialect{
		Driver: "mysql",
		Schema: []string{
			`CREATE TABLE IF NOT EXISTS messages (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				sender_id BIGINT NOT NULL,
				receiver_id BIGINT NOT NULL,
				content TEXT NOT NULL,
				attachment VARCHAR(1024) NOT NULL DEFAULT '',
				status VARCHAR(16) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				delivered_at DATETIME(6) NULL,
				read_at DATETIME(6) NULL,
				INDEX idx_messages_receiver_status (receiver_id, status),
				INDEX idx_messages_pair (sender_id, receiver_id)
			)`,
		},
		PresenceSchema: `CREATE TABLE IF NOT EXISTS user_presence (
				user_id BIGINT PRIMARY KEY,
				last_seen DATETIME(6) NOT NULL
		)`,
		Upsert: `INSERT INTO user_presence (user_id, last_seen) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE last_seen = VALUES(last_seen)`,
	}

	Postgres = Dialect{
		Driver:    "pgx",
		Returning: true,
		Numbered:  true,
		Schema: []string{
			`CREATE TABLE IF NOT EXISTS messages (
				id BIGSERIAL PRIMARY KEY,
				sender_id BIGINT NOT NULL,
				receiver_id BIGINT NOT NULL,
				content TEXT NOT NULL,
				attachment TEXT NOT NULL DEFAULT '',
				status VARCHAR(16) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				delivered_at TIMESTAMPTZ NULL,
				read_at TIMESTAMPTZ NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_receiver_status ON messages (receiver_id, status)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages (sender_id, receiver_id)`,
		},
		PresenceSchema: `CREATE TABLE IF NOT EXISTS user_presence (
				user_id BIGINT PRIMARY KEY,
				last_seen TIMESTAMPTZ NOT NULL
		)`,
		Upsert: `INSERT INTO user_presence (user_id, last_seen) VALUES (?, ?)
			ON CONFLICT (user_id) DO UPDATE SET last_seen = excluded.last_seen`,
	}

	SQLite = Dialect{
		Driver:    "sqlite3",
		Returning: true,
		Schema: []string{
			`CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				sender_id INTEGER NOT NULL,
				receiver_id INTEGER NOT NULL,
				content TEXT NOT NULL,
				attachment TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				delivered_at TIMESTAMP NULL,
				read_at TIMESTAMP NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_receiver_status ON messages (receiver_id, status)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages (sender_id, receiver_id)`,
		},
		PresenceSchema: `CREATE TABLE IF NOT EXISTS user_presence (
				user_id INTEGER PRIMARY KEY,
				last_seen TIMESTAMP NOT NULL
		)`,
		Upsert: `INSERT INTO user_presence (user_id, last_seen) VALUES (?, ?)
			ON CONFLICT (user_id) DO UPDATE SET last_seen = excluded.last_seen`,
	}
)

// DialectFor maps a STORE_DRIVER value to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "mysql":
		return MySQL, nil
	case "postgres", "pgx":
		return Postgres, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	}
	return Dialect{}, fmt.Errorf("unsupported sql driver %q", driver)
}

// Rebind rewrites '?' placeholders for dialects that number them.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// OpenSQL opens and pings a database for the given dialect.
func OpenSQL(d Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if d.Driver == SQLite.Driver {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return db, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
