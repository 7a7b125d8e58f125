package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/loanLedger/pkg/models"
	"github.com/sirupsen/logrus"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const loanColumns = `id, memo, interest_rate, grace_period_end, last_compounded, archived, created_at, updated_at`

// SQLStore manages the database connection and operations for SQLite or Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLiteStore opens (or creates) a SQLite database file and initializes the schema.
func NewSQLiteStore(dataSourceName string, log *logrus.Logger) (*SQLStore, error) {
	db, err := sql.Open(sqliteDialect.driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// PRAGMAs are per connection; a single connection keeps them in force.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	return newSQLStore(db, sqliteDialect, log)
}

// NewPostgresStore connects to Postgres using a lib/pq connection string.
func NewPostgresStore(connStr string, log *logrus.Logger) (*SQLStore, error) {
	db, err := sql.Open(postgresDialect.driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	return newSQLStore(db, postgresDialect, log)
}

func newSQLStore(db *sql.DB, d dialect, log *logrus.Logger) (*SQLStore, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLStore{db: db, dialect: d}
	if _, err := db.Exec(d.schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.WithField("driver", d.driver).Info("Database connection established and schema initialized.")
	return s, nil
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

// CreateLoan inserts a new loan with its borrowers and initial ledger entries.
func (s *SQLStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			loan.ID.String(), loan.Memo, loan.InterestRate, loan.GracePeriodEnd.UTC(), loan.LastCompounded.UTC(),
			loan.Archived, loan.CreatedAt.UTC(), loan.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to create loan: %w", err)
		}
		return s.writeChildren(ctx, tx, loan)
	})
}

// SaveLoan updates an existing loan. Ledger entries already stored are left untouched.
func (s *SQLStore) SaveLoan(ctx context.Context, loan *models.Loan) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			s.q(`UPDATE loans SET memo = ?, interest_rate = ?, grace_period_end = ?, last_compounded = ?, archived = ?, updated_at = ? WHERE id = ?`),
			loan.Memo, loan.InterestRate, loan.GracePeriodEnd.UTC(), loan.LastCompounded.UTC(), loan.Archived, loan.UpdatedAt.UTC(), loan.ID.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to update loan: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM loan_borrowers WHERE loan_id = ?`), loan.ID.String()); err != nil {
			return fmt.Errorf("failed to clear borrowers: %w", err)
		}
		return s.writeChildren(ctx, tx, loan)
	})
}

func (s *SQLStore) writeChildren(ctx context.Context, tx *sql.Tx, loan *models.Loan) error {
	for _, member := range loan.Borrowers {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO loan_borrowers (loan_id, member_id) VALUES (?, ?)`), loan.ID.String(), member); err != nil {
			return fmt.Errorf("failed to store borrower %s: %w", member, err)
		}
	}
	for i, e := range loan.Ledger {
		_, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO ledger_entries (id, loan_id, seq, amount, kind, memo, method, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`),
			e.ID.String(), loan.ID.String(), i, e.Amount, string(e.Kind), e.Memo, string(e.Method), e.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to store ledger entry: %w", err)
		}
	}
	return nil
}

// GetLoan retrieves a loan, its borrowers and its ledger by ID.
func (s *SQLStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+loanColumns+` FROM loans WHERE id = ?`), id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	if err := s.loadChildren(ctx, loan); err != nil {
		return nil, err
	}
	return loan, nil
}

// FindLoans retrieves the loans matching filter.
func (s *SQLStore) FindLoans(ctx context.Context, filter LoanFilter) ([]*models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE 1 = 1`
	var args []any
	if filter.BorrowerID != "" {
		query += ` AND id IN (SELECT loan_id FROM loan_borrowers WHERE member_id = ?)`
		args = append(args, filter.BorrowerID)
	}
	if !filter.IncludeArchived {
		query += ` AND archived = ?`
		args = append(args, false)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find loans: %w", err)
	}
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	rows.Close()

	for _, loan := range loans {
		if err := s.loadChildren(ctx, loan); err != nil {
			return nil, err
		}
	}
	sortLoans(loans, filter.Sort)
	return loans, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr string
	if err := row.Scan(&idStr, &loan.Memo, &loan.InterestRate, &loan.GracePeriodEnd, &loan.LastCompounded, &loan.Archived, &loan.CreatedAt, &loan.UpdatedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid loan id %q: %w", idStr, err)
	}
	loan.ID = id
	loan.GracePeriodEnd = loan.GracePeriodEnd.UTC()
	loan.LastCompounded = loan.LastCompounded.UTC()
	loan.CreatedAt = loan.CreatedAt.UTC()
	loan.UpdatedAt = loan.UpdatedAt.UTC()
	return &loan, nil
}

func (s *SQLStore) loadChildren(ctx context.Context, loan *models.Loan) error {
	members, err := s.queryStrings(ctx, `SELECT member_id FROM loan_borrowers WHERE loan_id = ? ORDER BY member_id`, loan.ID.String())
	if err != nil {
		return fmt.Errorf("failed to get borrowers for loan %s: %w", loan.ID, err)
	}
	loan.Borrowers = members

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, amount, kind, memo, method, created_at FROM ledger_entries WHERE loan_id = ? ORDER BY seq ASC`), loan.ID.String())
	if err != nil {
		return fmt.Errorf("failed to get ledger for loan %s: %w", loan.ID, err)
	}
	defer rows.Close()

	loan.Ledger = []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		var idStr, kind, method string
		if err := rows.Scan(&idStr, &e.Amount, &kind, &e.Memo, &method, &e.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		if e.ID, err = uuid.Parse(idStr); err != nil {
			return fmt.Errorf("invalid ledger entry id %q: %w", idStr, err)
		}
		e.Kind = models.EntryKind(kind)
		e.Method = models.EntryMethod(method)
		e.CreatedAt = e.CreatedAt.UTC()
		loan.Ledger = append(loan.Ledger, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error during rows iteration for loan ledger: %w", err)
	}
	return nil
}

// CreateActivity inserts an activity with its members and affected loans.
func (s *SQLStore) CreateActivity(ctx context.Context, a *models.Activity) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`INSERT INTO activities (id, type, memo, amount, broadcast, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
			a.ID.String(), string(a.Type), a.Memo, a.Amount, a.Broadcast, a.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to create activity: %w", err)
		}
		for _, member := range a.Members {
			if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO activity_members (activity_id, member_id) VALUES (?, ?)`), a.ID.String(), member); err != nil {
				return fmt.Errorf("failed to store activity member: %w", err)
			}
		}
		for _, loanID := range a.AffectedLoans {
			if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO activity_loans (activity_id, loan_id) VALUES (?, ?)`), a.ID.String(), loanID.String()); err != nil {
				return fmt.Errorf("failed to store affected loan: %w", err)
			}
		}
		return nil
	})
}

// ListActivity returns a page of activity visible to memberID, newest first.
func (s *SQLStore) ListActivity(ctx context.Context, memberID string, offset, limit int) ([]*models.Activity, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, type, memo, amount, broadcast, created_at FROM activities
		WHERE broadcast = ? OR id IN (SELECT activity_id FROM activity_members WHERE member_id = ?)
		ORDER BY `+s.dialect.activityOrder+` LIMIT ? OFFSET ?`), true, memberID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	var activity []*models.Activity
	for rows.Next() {
		var a models.Activity
		var idStr, typ string
		if err := rows.Scan(&idStr, &typ, &a.Memo, &a.Amount, &a.Broadcast, &a.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("invalid activity id %q: %w", idStr, err)
		}
		a.ID = id
		a.Type = models.ActivityType(typ)
		a.CreatedAt = a.CreatedAt.UTC()
		activity = append(activity, &a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	rows.Close()

	for _, a := range activity {
		if a.Members, err = s.queryStrings(ctx, `SELECT member_id FROM activity_members WHERE activity_id = ? ORDER BY member_id`, a.ID.String()); err != nil {
			return nil, fmt.Errorf("failed to get activity members: %w", err)
		}
		loanIDs, err := s.queryStrings(ctx, `SELECT loan_id FROM activity_loans WHERE activity_id = ? ORDER BY loan_id`, a.ID.String())
		if err != nil {
			return nil, fmt.Errorf("failed to get affected loans: %w", err)
		}
		a.AffectedLoans = make([]uuid.UUID, 0, len(loanIDs))
		for _, raw := range loanIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid affected loan id %q: %w", raw, err)
			}
			a.AffectedLoans = append(a.AffectedLoans, id)
		}
	}
	return activity, nil
}

func (s *SQLStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ Storage = (*SQLStore)(nil)
