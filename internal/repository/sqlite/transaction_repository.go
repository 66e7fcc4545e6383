package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"momo-wallet/internal/domain"
	"momo-wallet/internal/repository"
)

const createTransactionsTable = `
CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	amount TEXT NOT NULL,
	provider TEXT NOT NULL,
	phone TEXT NOT NULL,
	status TEXT NOT NULL,
	reference TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	settled_at DATETIME NULL,
	FOREIGN KEY(user_id) REFERENCES users(id)
);
CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
`

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) repository.TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTransactionsTable); err != nil {
		return fmt.Errorf("create transactions table: %w", err)
	}
	return nil
}

func (r *TransactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
INSERT INTO transactions (id, user_id, kind, amount, provider, phone, status, reference, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.UserID,
		string(tx.Kind),
		tx.Amount.StringFixed(2),
		tx.Provider,
		tx.Phone,
		string(tx.Status),
		tx.Reference,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *TransactionRepository) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, kind, amount, provider, phone, status, reference, created_at, updated_at, settled_at
FROM transactions
WHERE id=?`,
		id,
	)
	return scanTransaction(row)
}

func (r *TransactionRepository) ListByUser(ctx context.Context, userID string) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, kind, amount, provider, phone, status, reference, created_at, updated_at, settled_at
FROM transactions
WHERE user_id=?
ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func (r *TransactionRepository) ListByStatus(ctx context.Context, status domain.TransactionStatus) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, kind, amount, provider, phone, status, reference, created_at, updated_at, settled_at
FROM transactions
WHERE status=?
ORDER BY created_at ASC, id ASC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("query transactions by status: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// Complete settles a pending transaction in a single database transaction: the
// balance update and the status update commit together or roll back together.
// Balances are written as fixed 2dp strings so the equality guard compares a
// canonical representation.
func (r *TransactionRepository) Complete(ctx context.Context, id, userID string, expected, next decimal.Decimal) (bool, error) {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin settlement: %w", err)
	}
	defer dbTx.Rollback() // safe no-op after commit

	now := time.Now().UTC()

	res, err := dbTx.ExecContext(ctx, `
UPDATE users
SET balance=?, updated_at=?
WHERE id=? AND balance=?`,
		next.StringFixed(2),
		now,
		userID,
		expected.StringFixed(2),
	)
	if err != nil {
		return false, fmt.Errorf("update balance: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("balance rows affected: %w", err)
	}
	if aff != 1 {
		return false, nil
	}

	res, err = dbTx.ExecContext(ctx, `
UPDATE transactions
SET status=?, settled_at=?, updated_at=?
WHERE id=? AND status=?`,
		string(domain.TransactionStatusCompleted),
		now,
		now,
		id,
		string(domain.TransactionStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("complete transaction: %w", err)
	}
	aff, err = res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	if aff != 1 {
		return false, nil
	}

	if err := dbTx.Commit(); err != nil {
		return false, fmt.Errorf("commit settlement: %w", err)
	}
	return true, nil
}

// Settle is guarded on status so a terminal transaction can never transition again.
func (r *TransactionRepository) Settle(ctx context.Context, id string, status domain.TransactionStatus, settledAt time.Time) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("settle requires a terminal status, got %q", status)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE transactions
SET status=?, settled_at=?, updated_at=?
WHERE id=? AND status=?`,
		string(status),
		settledAt.UTC(),
		time.Now().UTC(),
		id,
		string(domain.TransactionStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("settle transaction: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("settle rows affected: %w", err)
	}
	return aff == 1, nil
}

func collectTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

func scanTransaction(scanner interface {
	Scan(dest ...any) error
}) (*domain.Transaction, error) {
	var (
		tx        domain.Transaction
		kind      string
		amount    string
		status    string
		settledAt sql.NullTime
	)

	if err := scanner.Scan(
		&tx.ID,
		&tx.UserID,
		&kind,
		&amount,
		&tx.Provider,
		&tx.Phone,
		&status,
		&tx.Reference,
		&tx.CreatedAt,
		&tx.UpdatedAt,
		&settledAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction not found")
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	tx.Amount = parsed
	tx.Kind = domain.TransactionKind(kind)
	tx.Status = domain.TransactionStatus(status)
	if settledAt.Valid {
		t := settledAt.Time
		tx.SettledAt = &t
	}
	return &tx, nil
}
