package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/mcclellann/casafacil/pkg/models"
	"go.uber.org/zap"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// PRAGMAs are per connection; a single connection keeps them in force and
	// serializes writers.
	db.SetMaxOpenConns(1)

	// Manually enable foreign keys and WAL mode
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	logger.Info("database connection established and schema initialized",
		zap.String("op", "store.NewSQLiteStore"),
		zap.String("dsn", dataSourceName),
	)
	return s, nil
}

// initSchema creates the tables if they don't already exist and adds columns
// introduced after the first release. Decimal fields are TEXT so that no
// precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		tax_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		phone TEXT NOT NULL,
		address TEXT NOT NULL,
		city TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS proposals (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		property_value TEXT NOT NULL,
		down_payment TEXT NOT NULL,
		financed_amount TEXT NOT NULL,
		term_years INTEGER NOT NULL,
		monthly_payment TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		total_interest TEXT NOT NULL,
		signature TEXT NOT NULL,
		signed_at DATETIME NOT NULL,
		user_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_proposals_user_id ON proposals(user_id);
	CREATE INDEX IF NOT EXISTS idx_proposals_created_at ON proposals(created_at);
	CREATE TABLE IF NOT EXISTS admins (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	columns := []struct{ table, definition string }{
		{"users", "zip_code TEXT NOT NULL DEFAULT ''"},
		{"proposals", "down_payment_percentage TEXT NOT NULL DEFAULT ''"},
	}
	for _, col := range columns {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", col.table, col.definition))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s.%s: %w", col.table, col.definition, err)
		}
	}
	return nil
}

// isDuplicateColumnError checks if the error indicates a duplicate column.
func isDuplicateColumnError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "duplicate column name")
}

func isUniqueViolation(err error, column string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return false
	}
	return strings.Contains(sqliteErr.Error(), column)
}

const upsertUserSQL = `
	INSERT INTO users (id, tax_id, name, email, phone, address, city, state, zip_code, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(tax_id) DO UPDATE SET
		name = excluded.name,
		email = excluded.email,
		phone = excluded.phone,
		address = excluded.address,
		city = excluded.city,
		state = excluded.state,
		zip_code = excluded.zip_code,
		updated_at = excluded.updated_at`

// CreateProposalWithUser upserts the user and inserts the proposal within a transaction.
func (s *SQLiteStore) CreateProposalWithUser(ctx context.Context, user *models.User, proposal *models.Proposal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, upsertUserSQL,
		user.ID.String(), user.TaxID, user.Name, user.Email, user.Phone, user.Address, user.City, user.State, user.ZipCode, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	// On conflict the existing row keeps its id and created_at.
	var userIDStr string
	err = tx.QueryRowContext(ctx, `SELECT id, created_at FROM users WHERE tax_id = ?`, user.TaxID).Scan(&userIDStr, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to read back user: %w", err)
	}
	user.ID = uuid.MustParse(userIDStr)
	proposal.UserID = user.ID

	_, err = tx.ExecContext(ctx,
		`INSERT INTO proposals (id, number, property_value, down_payment, financed_amount, term_years, monthly_payment, total_amount, total_interest, down_payment_percentage, signature, signed_at, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		proposal.ID.String(), proposal.Number, proposal.PropertyValue, proposal.DownPayment, proposal.FinancedAmount, proposal.TermYears, proposal.MonthlyPayment, proposal.TotalAmount, proposal.TotalInterest, proposal.DownPaymentPercentage, proposal.Signature, proposal.SignedAt, proposal.UserID.String(), proposal.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "proposals.number") {
			return ErrDuplicateNumber
		}
		return fmt.Errorf("failed to create proposal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit proposal: %w", err)
	}
	proposal.User = user
	return nil
}

const proposalSelect = `SELECT p.id, p.number, p.property_value, p.down_payment, p.financed_amount, p.term_years, p.monthly_payment, p.total_amount, p.total_interest, p.down_payment_percentage, p.signature, p.signed_at, p.user_id, p.created_at,
	u.id, u.tax_id, u.name, u.email, u.phone, u.address, u.city, u.state, u.zip_code, u.created_at, u.updated_at
	FROM proposals p JOIN users u ON u.id = p.user_id`

const proposalOrder = ` ORDER BY p.created_at DESC, p.number DESC`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*models.Proposal, error) {
	var p models.Proposal
	var u models.User
	var proposalIDStr, userIDStr, joinedUserIDStr string
	err := row.Scan(
		&proposalIDStr, &p.Number, &p.PropertyValue, &p.DownPayment, &p.FinancedAmount, &p.TermYears, &p.MonthlyPayment, &p.TotalAmount, &p.TotalInterest, &p.DownPaymentPercentage, &p.Signature, &p.SignedAt, &userIDStr, &p.CreatedAt,
		&joinedUserIDStr, &u.TaxID, &u.Name, &u.Email, &u.Phone, &u.Address, &u.City, &u.State, &u.ZipCode, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.ID = uuid.MustParse(proposalIDStr)
	p.UserID = uuid.MustParse(userIDStr)
	u.ID = uuid.MustParse(joinedUserIDStr)
	p.User = &u
	return &p, nil
}

func (s *SQLiteStore) getProposalWhere(ctx context.Context, where string, arg any) (*models.Proposal, error) {
	p, err := scanProposal(s.db.QueryRowContext(ctx, proposalSelect+" WHERE "+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	return p, nil
}

// GetProposal retrieves a proposal by its ID.
func (s *SQLiteStore) GetProposal(ctx context.Context, id uuid.UUID) (*models.Proposal, error) {
	return s.getProposalWhere(ctx, "p.id = ?", id.String())
}

// GetProposalByNumber retrieves a proposal by its human-readable number.
func (s *SQLiteStore) GetProposalByNumber(ctx context.Context, number string) (*models.Proposal, error) {
	return s.getProposalWhere(ctx, "p.number = ?", number)
}

// ListProposals retrieves a page of proposals, newest first.
func (s *SQLiteStore) ListProposals(ctx context.Context, offset, limit int) ([]*models.Proposal, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, proposalSelect+proposalOrder+" LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	return s.scanProposals(rows)
}

// ListProposalsByTaxID retrieves every proposal of one user, newest first.
func (s *SQLiteStore) ListProposalsByTaxID(ctx context.Context, taxID string) ([]*models.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, proposalSelect+" WHERE u.tax_id = ?"+proposalOrder, taxID)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals for user: %w", err)
	}
	defer rows.Close()

	return s.scanProposals(rows)
}

func (s *SQLiteStore) scanProposals(rows *sql.Rows) ([]*models.Proposal, error) {
	proposals := []*models.Proposal{}
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal row: %w", err)
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return proposals, nil
}

// CountProposals returns the number of stored proposals.
func (s *SQLiteStore) CountProposals(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM proposals`)
}

// ProposalAmounts reads only the money columns of every proposal.
func (s *SQLiteStore) ProposalAmounts(ctx context.Context) ([]models.ProposalAmounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT property_value, financed_amount, monthly_payment, total_amount FROM proposals`)
	if err != nil {
		return nil, fmt.Errorf("failed to read proposal amounts: %w", err)
	}
	defer rows.Close()

	amounts := []models.ProposalAmounts{}
	for rows.Next() {
		var a models.ProposalAmounts
		if err := rows.Scan(&a.PropertyValue, &a.FinancedAmount, &a.MonthlyPayment, &a.TotalAmount); err != nil {
			return nil, fmt.Errorf("failed to scan proposal amounts: %w", err)
		}
		amounts = append(amounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return amounts, nil
}

// LatestProposalNumber returns the greatest proposal number with the given prefix.
func (s *SQLiteStore) LatestProposalNumber(ctx context.Context, prefix string) (string, error) {
	var number sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(number) FROM proposals WHERE substr(number, 1, ?) = ?`, len(prefix), prefix).Scan(&number)
	if err != nil {
		return "", fmt.Errorf("failed to get latest proposal number: %w", err)
	}
	return number.String, nil
}

// ProposalNumbers lists the proposal numbers with the given prefix, lowest first.
func (s *SQLiteStore) ProposalNumbers(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT number FROM proposals WHERE substr(number, 1, ?) = ? ORDER BY number`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposal numbers: %w", err)
	}
	defer rows.Close()

	numbers := []string{}
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, fmt.Errorf("failed to scan proposal number: %w", err)
		}
		numbers = append(numbers, number)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return numbers, nil
}

const userColumns = `id, tax_id, name, email, phone, address, city, state, zip_code, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var idStr string
	if err := row.Scan(&idStr, &u.TaxID, &u.Name, &u.Email, &u.Phone, &u.Address, &u.City, &u.State, &u.ZipCode, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.ID = uuid.MustParse(idStr)
	return &u, nil
}

// GetUserByTaxID retrieves a user by tax ID.
func (s *SQLiteStore) GetUserByTaxID(ctx context.Context, taxID string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE tax_id = ?`, taxID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListUsers retrieves all users, most recently updated first.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return users, nil
}

// CountUsers returns the number of stored users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM users`)
}

func (s *SQLiteStore) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

// CreateAdmin inserts a new admin account.
func (s *SQLiteStore) CreateAdmin(ctx context.Context, admin *models.Admin) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admins (id, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		admin.ID.String(), admin.Email, admin.PasswordHash, admin.CreatedAt, admin.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "admins.email") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create admin: %w", err)
	}
	return nil
}

// GetAdminByEmail retrieves an admin account by email.
func (s *SQLiteStore) GetAdminByEmail(ctx context.Context, email string) (*models.Admin, error) {
	var a models.Admin
	var idStr string
	err := s.db.QueryRowContext(ctx, `SELECT id, email, password_hash, created_at, updated_at FROM admins WHERE email = ?`, email).
		Scan(&idStr, &a.Email, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}
	a.ID = uuid.MustParse(idStr)
	return &a, nil
}

// UpdateAdminPassword replaces the password hash of an admin account.
func (s *SQLiteStore) UpdateAdminPassword(ctx context.Context, id uuid.UUID, hash string, updatedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE admins SET password_hash = ?, updated_at = ? WHERE id = ?`, hash, updatedAt, id.String())
	if err != nil {
		return fmt.Errorf("failed to update admin password: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
