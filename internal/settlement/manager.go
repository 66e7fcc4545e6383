package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"momo-wallet/internal/domain"
	"momo-wallet/internal/service"
	"momo-wallet/internal/storage"
)

// Manager drives asynchronous settlement of pending transactions. Every
// enqueued transaction settles after a fixed delay, modeling the provider
// confirmation window; there is no cancellation once a transaction is in.
type Manager interface {
	Start(ctx context.Context) error
	Shutdown()
	Enqueue(ctx context.Context, txID string) (*Ticket, error)
	Resume(ctx context.Context) error
}

type Config struct {
	// SettleDelay is how long a transaction stays pending before settlement.
	SettleDelay   time.Duration
	MaxConcurrent int
	Logger        *logrus.Logger
}

// Ticket tracks one scheduled settlement so callers can await its outcome
// instead of depending on wall-clock delay.
type Ticket struct {
	txID string
	done chan struct{}

	mu  sync.Mutex
	tx  *domain.Transaction
	err error
}

// Done is closed once the settlement reached a terminal outcome.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the settlement finishes or ctx is cancelled.
func (t *Ticket) Wait(ctx context.Context) (*domain.Transaction, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return t.Outcome()
	}
}

// Outcome returns the settled transaction; valid once Done is closed.
func (t *Ticket) Outcome() (*domain.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tx, t.err
}

func (t *Ticket) resolve(tx *domain.Transaction, err error) {
	t.mu.Lock()
	t.tx = tx
	t.err = err
	t.mu.Unlock()
	close(t.done)
}

type manager struct {
	cfg      Config
	wallet   service.WalletService
	receipts storage.Service

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	active map[string]*Ticket
}

// NewManager builds a settlement manager. receipts may be nil when no archive
// bucket is configured.
func NewManager(cfg Config, wallet service.WalletService, receipts storage.Service) Manager {
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &manager{
		cfg:      cfg,
		wallet:   wallet,
		receipts: receipts,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		active:   make(map[string]*Ticket),
	}
}

func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()
	m.cfg.Logger.Infof("settlement manager started, delay %s", m.cfg.SettleDelay)
	return nil
}

// Shutdown waits for in-flight settlements. Transactions still inside the
// delay window stay pending and are re-enqueued by Resume on the next start.
func (m *manager) Shutdown() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.cfg.Logger.Info("settlement manager stopped")
}

func (m *manager) Enqueue(ctx context.Context, txID string) (*Ticket, error) {
	m.mu.Lock()
	started := m.ctx != nil
	m.mu.Unlock()
	if !started {
		return nil, errors.New("settlement manager not started")
	}

	tx, err := m.wallet.Get(ctx, txID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.active[tx.ID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	ticket := &Ticket{txID: tx.ID, done: make(chan struct{})}
	if tx.Status.Terminal() {
		m.mu.Unlock()
		ticket.resolve(tx, nil)
		return ticket, nil
	}
	m.active[tx.ID] = ticket
	m.mu.Unlock()

	m.spawn(ticket)
	return ticket, nil
}

// Resume re-enqueues every pending transaction, picking up settlements that
// were scheduled before the last shutdown.
func (m *manager) Resume(ctx context.Context) error {
	pending, err := m.wallet.ListPending(ctx)
	if err != nil {
		return err
	}
	for i := range pending {
		if _, err := m.Enqueue(ctx, pending[i].ID); err != nil {
			m.cfg.Logger.WithField("tx_id", pending[i].ID).Warnf("resume enqueue: %v", err)
		}
	}
	return nil
}

func (m *manager) spawn(ticket *Ticket) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.unregister(ticket.txID)

		timer := time.NewTimer(m.cfg.SettleDelay)
		defer timer.Stop()
		select {
		case <-m.ctx.Done():
			ticket.resolve(nil, m.ctx.Err())
			return
		case <-timer.C:
		}

		select {
		case <-m.ctx.Done():
			ticket.resolve(nil, m.ctx.Err())
			return
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
		}

		m.settle(ticket)
	}()
}

func (m *manager) unregister(txID string) {
	m.mu.Lock()
	delete(m.active, txID)
	m.mu.Unlock()
}

func (m *manager) settle(ticket *Ticket) {
	logger := m.cfg.Logger.WithField("tx_id", ticket.txID)

	tx, err := m.wallet.Settle(m.ctx, ticket.txID)
	if err != nil {
		logger.Warnf("settlement failed: %v", err)
	}
	ticket.resolve(tx, err)
	if tx == nil {
		return
	}

	logger.Infof("settled %s %s as %s", tx.Kind, tx.Amount.StringFixed(2), tx.Status)

	if m.receipts != nil && tx.Status == domain.TransactionStatusCompleted {
		archiveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		location, err := m.receipts.ArchiveReceipt(archiveCtx, tx)
		if err != nil {
			logger.Warnf("archive receipt: %v", err)
			return
		}
		logger.Infof("receipt archived to %s", location)
	}
}

var _ Manager = (*manager)(nil)
