package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"momo-wallet/internal/domain"
)

// TransactionRepository exposes persistence operations for Transaction rows.
type TransactionRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, tx *domain.Transaction) error
	Get(ctx context.Context, id string) (*domain.Transaction, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Transaction, error)
	ListByStatus(ctx context.Context, status domain.TransactionStatus) ([]domain.Transaction, error)
	// Complete atomically writes the settled balance and the completed status:
	// either both land or neither does. The balance write is guarded on
	// expected, the status write on the row still being pending. False with a
	// nil error means nothing was written, because one of the guards failed.
	Complete(ctx context.Context, id, userID string, expected, next decimal.Decimal) (bool, error)
	// Settle moves a pending transaction to a terminal status. It reports
	// whether the transition happened; false means the row was not pending.
	Settle(ctx context.Context, id string, status domain.TransactionStatus, settledAt time.Time) (bool, error)
}

// ProviderRepository manages the mobile-money provider catalogue.
type ProviderRepository interface {
	Init(ctx context.Context) error
	Seed(ctx context.Context, providers []domain.Provider) error
	List(ctx context.Context) ([]domain.Provider, error)
	GetByCode(ctx context.Context, code string) (*domain.Provider, error)
}
