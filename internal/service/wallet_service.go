package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"momo-wallet/internal/domain"
	"momo-wallet/internal/repository"
)

var (
	// ErrInvalidAmount is returned when a transaction amount is not strictly positive.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrInsufficientBalance rejects a withdrawal exceeding the current balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// how many times a settlement re-reads the balance after a conditional
// update loses to a concurrent writer
const maxBalanceRetries = 5

// WalletService coordinates transaction initiation and settlement.
type WalletService interface {
	Initiate(ctx context.Context, userID string, kind domain.TransactionKind, amount decimal.Decimal, provider, phone string) (*domain.Transaction, error)
	Settle(ctx context.Context, id string) (*domain.Transaction, error)
	Get(ctx context.Context, id string) (*domain.Transaction, error)
	History(ctx context.Context, userID string) ([]domain.Transaction, error)
	ListPending(ctx context.Context) ([]domain.Transaction, error)
}

type walletService struct {
	users        repository.UserRepository
	transactions repository.TransactionRepository
}

func NewWalletService(users repository.UserRepository, transactions repository.TransactionRepository) WalletService {
	return &walletService{
		users:        users,
		transactions: transactions,
	}
}

func (s *walletService) Initiate(ctx context.Context, userID string, kind domain.TransactionKind, amount decimal.Decimal, provider, phone string) (*domain.Transaction, error) {
	if kind != domain.TransactionKindDeposit && kind != domain.TransactionKindWithdrawal {
		return nil, fmt.Errorf("unknown transaction kind %q", kind)
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(provider) == "" {
		return nil, errors.New("provider is required")
	}
	if strings.TrimSpace(phone) == "" {
		return nil, errors.New("phone is required")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if kind == domain.TransactionKindWithdrawal && amount.GreaterThan(user.Balance) {
		return nil, ErrInsufficientBalance
	}

	tx := &domain.Transaction{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Kind:      kind,
		Amount:    amount,
		Provider:  strings.TrimSpace(provider),
		Phone:     strings.TrimSpace(phone),
		Status:    domain.TransactionStatusPending,
		Reference: newReference(),
	}

	if err := s.transactions.Create(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// Settle finalizes a pending transaction: it re-reads the balance and applies
// the mutation together with the completed status in one atomic store write, so
// the balance can never move without the row turning terminal. Any store
// failure on the way marks the transaction failed; a terminal transaction is
// returned as is.
func (s *walletService) Settle(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := s.transactions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status.Terminal() {
		return tx, nil
	}

	for attempt := 0; attempt < maxBalanceRetries; attempt++ {
		user, err := s.users.GetByID(ctx, tx.UserID)
		if err != nil {
			return s.fail(ctx, tx, fmt.Errorf("read balance: %w", err))
		}

		next := user.Balance.Add(tx.Amount)
		if tx.Kind == domain.TransactionKindWithdrawal {
			next = user.Balance.Sub(tx.Amount)
		}
		if next.IsNegative() {
			return s.fail(ctx, tx, ErrInsufficientBalance)
		}

		applied, err := s.transactions.Complete(ctx, tx.ID, user.ID, user.Balance, next)
		if err != nil {
			return s.fail(ctx, tx, fmt.Errorf("apply settlement: %w", err))
		}
		if applied {
			return s.transactions.Get(ctx, tx.ID)
		}

		current, err := s.transactions.Get(ctx, tx.ID)
		if err != nil {
			return nil, err
		}
		if current.Status.Terminal() {
			// a concurrent settlement finished the row
			return current, nil
		}
		// the balance moved under us, re-read and retry
	}

	return s.fail(ctx, tx, errors.New("balance contention retries exhausted"))
}

func (s *walletService) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.transactions.Get(ctx, id)
}

func (s *walletService) History(ctx context.Context, userID string) ([]domain.Transaction, error) {
	return s.transactions.ListByUser(ctx, userID)
}

func (s *walletService) ListPending(ctx context.Context) ([]domain.Transaction, error) {
	return s.transactions.ListByStatus(ctx, domain.TransactionStatusPending)
}

// fail records the failed status and returns the refreshed transaction along
// with the cause. If even the status write fails the row stays pending for the
// next resume pass.
func (s *walletService) fail(ctx context.Context, tx *domain.Transaction, cause error) (*domain.Transaction, error) {
	if _, err := s.transactions.Settle(ctx, tx.ID, domain.TransactionStatusFailed, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("mark failed after %v: %w", cause, err)
	}
	refreshed, err := s.transactions.Get(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	return refreshed, cause
}

// newReference builds the user-facing transaction reference: a TXN prefix, the
// initiation time in milliseconds, and a random suffix.
func newReference() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:9]
	return fmt.Sprintf("TXN%d%s", time.Now().UnixMilli(), suffix)
}
