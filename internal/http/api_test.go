package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"momo-wallet/internal/domain"
	"momo-wallet/internal/service"
	"momo-wallet/internal/session"
	"momo-wallet/internal/settlement"
)

// ========================================================
// In-memory repositories
// ========================================================

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*domain.User)}
}

func (r *memUserRepo) Init(ctx context.Context) error { return nil }

func (r *memUserRepo) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return fmt.Errorf("user already exists")
		}
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user not found")
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user not found")
	}
	cp := *user
	return &cp, nil
}

type memTxRepo struct {
	mu    sync.Mutex
	txs   map[string]*domain.Transaction
	order []string
	users *memUserRepo
}

func newMemTxRepo(users *memUserRepo) *memTxRepo {
	return &memTxRepo{txs: make(map[string]*domain.Transaction), users: users}
}

func (r *memTxRepo) Init(ctx context.Context) error { return nil }

func (r *memTxRepo) Create(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	cp := *tx
	r.txs[tx.ID] = &cp
	r.order = append(r.order, tx.ID)
	return nil
}

func (r *memTxRepo) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction not found")
	}
	cp := *tx
	return &cp, nil
}

func (r *memTxRepo) ListByUser(ctx context.Context, userID string) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var txs []domain.Transaction
	for i := len(r.order) - 1; i >= 0; i-- {
		if tx := r.txs[r.order[i]]; tx.UserID == userID {
			txs = append(txs, *tx)
		}
	}
	return txs, nil
}

func (r *memTxRepo) ListByStatus(ctx context.Context, status domain.TransactionStatus) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var txs []domain.Transaction
	for _, id := range r.order {
		if tx := r.txs[id]; tx.Status == status {
			txs = append(txs, *tx)
		}
	}
	return txs, nil
}

func (r *memTxRepo) Complete(ctx context.Context, id, userID string, expected, next decimal.Decimal) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok || tx.Status != domain.TransactionStatusPending {
		return false, nil
	}

	r.users.mu.Lock()
	user, ok := r.users.users[userID]
	if !ok || !user.Balance.Equal(expected) {
		r.users.mu.Unlock()
		return false, nil
	}
	user.Balance = next
	r.users.mu.Unlock()

	now := time.Now().UTC()
	tx.Status = domain.TransactionStatusCompleted
	tx.SettledAt = &now
	tx.UpdatedAt = now
	return true, nil
}

func (r *memTxRepo) Settle(ctx context.Context, id string, status domain.TransactionStatus, settledAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok || tx.Status != domain.TransactionStatusPending {
		return false, nil
	}
	tx.Status = status
	t := settledAt
	tx.SettledAt = &t
	tx.UpdatedAt = time.Now().UTC()
	return true, nil
}

type memProviderRepo struct {
	providers []domain.Provider
}

func (r *memProviderRepo) Init(ctx context.Context) error { return nil }

func (r *memProviderRepo) Seed(ctx context.Context, providers []domain.Provider) error {
	r.providers = providers
	return nil
}

func (r *memProviderRepo) List(ctx context.Context) ([]domain.Provider, error) {
	return r.providers, nil
}

func (r *memProviderRepo) GetByCode(ctx context.Context, code string) (*domain.Provider, error) {
	for i := range r.providers {
		if r.providers[i].Code == code {
			return &r.providers[i], nil
		}
	}
	return nil, fmt.Errorf("provider not found")
}

// ========================================================
// Test server
// ========================================================

type testServer struct {
	router *gin.Engine
	users  *memUserRepo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := newMemUserRepo()
	txs := newMemTxRepo(users)
	providers := &memProviderRepo{}
	if err := providers.Seed(context.Background(), domain.DefaultProviders()); err != nil {
		t.Fatalf("seed providers: %v", err)
	}

	userService := service.NewUserService(users)
	walletService := service.NewWalletService(users, txs)
	sessions := session.NewManager("test-secret", time.Hour)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	manager := settlement.NewManager(settlement.Config{
		SettleDelay: 0,
		Logger:      logger,
	}, walletService, nil)
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start settlement manager: %v", err)
	}
	t.Cleanup(manager.Shutdown)

	router := gin.New()
	handler := NewHandler(userService, walletService, providers, sessions, manager, nil)
	handler.RegisterRoutes(router)

	return &testServer{router: router, users: users}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) signUp(t *testing.T, email string) (string, UserResponse) {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":     email,
		"password":  "s3cretpass",
		"full_name": "Ama Mensah",
		"phone":     "0244000000",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("sign up: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp authResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode auth response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a session token")
	}
	return resp.Token, resp.User
}

func (s *testServer) setBalance(t *testing.T, userID, balance string) {
	t.Helper()
	s.users.mu.Lock()
	defer s.users.mu.Unlock()
	user, ok := s.users.users[userID]
	if !ok {
		t.Fatalf("user %s not found", userID)
	}
	user.Balance = decimal.RequireFromString(balance)
}

// awaitStatus polls the transaction until it leaves pending.
func (s *testServer) awaitStatus(t *testing.T, token, txID string) TransactionResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		rr := s.do(t, http.MethodGet, "/api/transactions/"+txID, token, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("get transaction: expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp TransactionResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode transaction: %v", err)
		}
		if resp.Status != string(domain.TransactionStatusPending) {
			return resp
		}
		if time.Now().After(deadline) {
			t.Fatalf("transaction %s still pending", txID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ========================================================
// Tests
// ========================================================

func TestSignUpDuplicateEmailConflict(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "ama@example.com")

	rr := s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":     "ama@example.com",
		"password":  "otherpass123",
		"full_name": "Someone Else",
		"phone":     "0244000001",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(s.users.users) != 1 {
		t.Errorf("expected one user row, got %d", len(s.users.users))
	}
}

func TestSignInInvalidCredentials(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "ama@example.com")

	rr := s.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email":    "ama@example.com",
		"password": "wrongpass",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequestsWithoutTokenRejected(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/api/me", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestSignOutInvalidatesSession(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp(t, "ama@example.com")

	if rr := s.do(t, http.MethodPost, "/api/auth/signout", token, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("sign out: expected 204, got %d", rr.Code)
	}
	if rr := s.do(t, http.MethodGet, "/api/me", token, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after sign out, got %d", rr.Code)
	}
}

func TestListProviders(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/api/providers", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp []ProviderResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode providers: %v", err)
	}
	if len(resp) != 3 {
		t.Errorf("expected 3 providers, got %d", len(resp))
	}
}

func TestDepositSettlesAndIncreasesBalance(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp(t, "ama@example.com")

	rr := s.do(t, http.MethodPost, "/api/transactions", token, map[string]any{
		"kind":     "deposit",
		"amount":   "150.25",
		"provider": "mtn",
		"phone":    "0244123456",
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var created TransactionResponse
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	if created.Status != "pending" {
		t.Errorf("expected pending on creation, got %s", created.Status)
	}
	if created.Provider != "MTN Mobile Money" {
		t.Errorf("expected resolved provider name, got %s", created.Provider)
	}

	settled := s.awaitStatus(t, token, created.ID)
	if settled.Status != "completed" {
		t.Fatalf("expected completed, got %s", settled.Status)
	}

	me := s.do(t, http.MethodGet, "/api/me", token, nil)
	var profile UserResponse
	if err := json.NewDecoder(me.Body).Decode(&profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Balance != "150.25" {
		t.Errorf("expected balance 150.25, got %s", profile.Balance)
	}
}

func TestWithdrawalScenario(t *testing.T) {
	s := newTestServer(t)
	token, user := s.signUp(t, "ama@example.com")
	s.setBalance(t, user.ID, "1250.50")

	rr := s.do(t, http.MethodPost, "/api/transactions", token, map[string]any{
		"kind":     "withdrawal",
		"amount":   "200",
		"provider": "mtn",
		"phone":    "0244123456",
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var created TransactionResponse
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode transaction: %v", err)
	}

	settled := s.awaitStatus(t, token, created.ID)
	if settled.Status != "completed" {
		t.Fatalf("expected completed, got %s", settled.Status)
	}

	me := s.do(t, http.MethodGet, "/api/me", token, nil)
	var profile UserResponse
	if err := json.NewDecoder(me.Body).Decode(&profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Balance != "1050.50" {
		t.Errorf("expected balance 1050.50, got %s", profile.Balance)
	}
}

func TestWithdrawalInsufficientBalanceRejected(t *testing.T) {
	s := newTestServer(t)
	token, user := s.signUp(t, "ama@example.com")
	s.setBalance(t, user.ID, "100.00")

	rr := s.do(t, http.MethodPost, "/api/transactions", token, map[string]any{
		"kind":     "withdrawal",
		"amount":   "200",
		"provider": "mtn",
		"phone":    "0244123456",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}

	history := s.do(t, http.MethodGet, "/api/transactions", token, nil)
	var txs []TransactionResponse
	if err := json.NewDecoder(history.Body).Decode(&txs); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("expected no transaction rows, got %d", len(txs))
	}
}

func TestUnknownProviderRejected(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp(t, "ama@example.com")

	rr := s.do(t, http.MethodPost, "/api/transactions", token, map[string]any{
		"kind":     "deposit",
		"amount":   "10",
		"provider": "nosuch",
		"phone":    "0244123456",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTransactionsAreScopedToOwner(t *testing.T) {
	s := newTestServer(t)
	tokenA, _ := s.signUp(t, "ama@example.com")
	tokenB, _ := s.signUp(t, "kofi@example.com")

	rr := s.do(t, http.MethodPost, "/api/transactions", tokenA, map[string]any{
		"kind":     "deposit",
		"amount":   "10",
		"provider": "mtn",
		"phone":    "0244123456",
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	var created TransactionResponse
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode transaction: %v", err)
	}

	if rr := s.do(t, http.MethodGet, "/api/transactions/"+created.ID, tokenB, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign transaction, got %d", rr.Code)
	}
}

func TestReceiptsWithoutStorageConfigured(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp(t, "ama@example.com")

	rr := s.do(t, http.MethodGet, "/api/receipts", token, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
