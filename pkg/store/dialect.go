package store

import (
	"strconv"
	"strings"
)

// dialect captures the differences between the SQL backends SQLStore runs on.
// Queries are written with '?' placeholders and rebound per dialect.
type dialect struct {
	driver     string
	positional bool // $1, $2 ... instead of ?
	schema     string

	// activityOrder sorts the feed newest first, insertion order breaking ties.
	activityOrder string
}

var sqliteDialect = dialect{
	driver:        "sqlite3",
	activityOrder: "created_at DESC, rowid DESC",
	// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
	schema: `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		memo TEXT NOT NULL,
		interest_rate TEXT NOT NULL DEFAULT '0',
		grace_period_end DATETIME NOT NULL,
		last_compounded DATETIME NOT NULL,
		archived BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loan_borrowers (
		loan_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		PRIMARY KEY (loan_id, member_id),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS loan_borrowers_member ON loan_borrowers(member_id);
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		amount TEXT NOT NULL,
		kind TEXT NOT NULL,
		memo TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT 'manual',
		created_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS ledger_entries_loan ON ledger_entries(loan_id, seq);
	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		memo TEXT NOT NULL,
		amount TEXT NOT NULL DEFAULT '0',
		broadcast BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS activity_members (
		activity_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		PRIMARY KEY (activity_id, member_id),
		FOREIGN KEY(activity_id) REFERENCES activities(id)
	);
	CREATE TABLE IF NOT EXISTS activity_loans (
		activity_id TEXT NOT NULL,
		loan_id TEXT NOT NULL,
		PRIMARY KEY (activity_id, loan_id),
		FOREIGN KEY(activity_id) REFERENCES activities(id)
	);
	`,
}

var postgresDialect = dialect{
	driver:        "postgres",
	positional:    true,
	activityOrder: "created_at DESC, seq DESC",
	schema: `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		memo TEXT NOT NULL,
		interest_rate NUMERIC NOT NULL DEFAULT 0,
		grace_period_end TIMESTAMPTZ NOT NULL,
		last_compounded TIMESTAMPTZ NOT NULL,
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loan_borrowers (
		loan_id TEXT NOT NULL REFERENCES loans(id),
		member_id TEXT NOT NULL,
		PRIMARY KEY (loan_id, member_id)
	);
	CREATE INDEX IF NOT EXISTS loan_borrowers_member ON loan_borrowers(member_id);
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		seq INTEGER NOT NULL,
		amount NUMERIC NOT NULL,
		kind TEXT NOT NULL,
		memo TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT 'manual',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS ledger_entries_loan ON ledger_entries(loan_id, seq);
	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		memo TEXT NOT NULL,
		amount NUMERIC NOT NULL DEFAULT 0,
		broadcast BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		seq BIGSERIAL NOT NULL
	);
	CREATE TABLE IF NOT EXISTS activity_members (
		activity_id TEXT NOT NULL REFERENCES activities(id),
		member_id TEXT NOT NULL,
		PRIMARY KEY (activity_id, member_id)
	);
	CREATE TABLE IF NOT EXISTS activity_loans (
		activity_id TEXT NOT NULL REFERENCES activities(id),
		loan_id TEXT NOT NULL,
		PRIMARY KEY (activity_id, loan_id)
	);
	`,
}

// rebind rewrites '?' placeholders into the dialect's form.
func (d dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
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
