package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"momo-wallet/internal/domain"
	"momo-wallet/internal/repository"
	"momo-wallet/internal/service"
	"momo-wallet/internal/session"
	"momo-wallet/internal/settlement"
	"momo-wallet/internal/storage"
)

const (
	authUserKey  = "authUser"
	authTokenKey = "authToken"
)

// Handler wires HTTP routes to domain services.
type Handler struct {
	users     service.UserService
	wallet    service.WalletService
	providers repository.ProviderRepository
	sessions  *session.Manager
	manager   settlement.Manager
	receipts  storage.Service
}

func NewHandler(
	users service.UserService,
	wallet service.WalletService,
	providers repository.ProviderRepository,
	sessions *session.Manager,
	manager settlement.Manager,
	receipts storage.Service,
) *Handler {
	return &Handler{
		users:     users,
		wallet:    wallet,
		providers: providers,
		sessions:  sessions,
		manager:   manager,
		receipts:  receipts,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.POST("/auth/signup", h.signUp)
		api.POST("/auth/signin", h.signIn)
		api.GET("/providers", h.listProviders)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})

		authed := api.Group("")
		authed.Use(h.authenticate())
		{
			authed.POST("/auth/signout", h.signOut)
			authed.GET("/me", h.profile)
			authed.POST("/transactions", h.createTransaction)
			authed.GET("/transactions", h.listTransactions)
			authed.GET("/transactions/:id", h.getTransaction)
			authed.GET("/receipts", h.listReceipts)
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		user, err := h.sessions.Verify(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		c.Set(authUserKey, user)
		c.Set(authTokenKey, parts[1])
		c.Next()
	}
}

func currentUser(c *gin.Context) *session.AuthUser {
	v, _ := c.Get(authUserKey)
	user, _ := v.(*session.AuthUser)
	return user
}

type signUpRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name" binding:"required"`
	Phone    string `json:"phone" binding:"required"`
}

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

func (h *Handler) signUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.SignUp(c.Request.Context(), req.Email, req.Password, req.FullName, req.Phone)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.sessions.SignIn(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, authResponse{Token: token, User: userToResponse(user)})
}

func (h *Handler) signIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	token, err := h.sessions.SignIn(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, authResponse{Token: token, User: userToResponse(user)})
}

func (h *Handler) signOut(c *gin.Context) {
	token := c.GetString(authTokenKey)
	h.sessions.SignOut(token)
	c.Status(http.StatusNoContent)
}

func (h *Handler) profile(c *gin.Context) {
	auth := currentUser(c)
	user, err := h.users.Profile(c.Request.Context(), auth.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, userToResponse(user))
}

func (h *Handler) listProviders(c *gin.Context) {
	providers, err := h.providers.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]ProviderResponse, len(providers))
	for i := range providers {
		resp[i] = ProviderResponse{Code: providers[i].Code, Name: providers[i].Name}
	}
	c.JSON(http.StatusOK, resp)
}

type createTransactionRequest struct {
	Kind     string          `json:"kind" binding:"required"`
	Amount   decimal.Decimal `json:"amount" binding:"required"`
	Provider string          `json:"provider" binding:"required"`
	Phone    string          `json:"phone" binding:"required"`
}

func (h *Handler) createTransaction(c *gin.Context) {
	var req createTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	provider, err := h.providers.GetByCode(c.Request.Context(), req.Provider)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
		return
	}

	auth := currentUser(c)
	tx, err := h.wallet.Initiate(
		c.Request.Context(),
		auth.ID,
		domain.TransactionKind(req.Kind),
		req.Amount,
		provider.Name,
		req.Phone,
	)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrInsufficientBalance):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	if _, err := h.manager.Enqueue(c.Request.Context(), tx.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, transactionToResponse(*tx))
}

func (h *Handler) listTransactions(c *gin.Context) {
	auth := currentUser(c)
	txs, err := h.wallet.History(c.Request.Context(), auth.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]TransactionResponse, len(txs))
	for i := range txs {
		resp[i] = transactionToResponse(txs[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getTransaction(c *gin.Context) {
	tx, err := h.wallet.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	auth := currentUser(c)
	if tx.UserID != auth.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}

	c.JSON(http.StatusOK, transactionToResponse(*tx))
}

func (h *Handler) listReceipts(c *gin.Context) {
	if h.receipts == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "receipt storage not configured"})
		return
	}

	auth := currentUser(c)
	objects, err := h.receipts.ListReceipts(c.Request.Context(), auth.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]ReceiptResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	Phone     string `json:"phone"`
	Balance   string `json:"balance"`
	CreatedAt string `json:"created_at"`
}

type ProviderResponse struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type TransactionResponse struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	Kind      string  `json:"kind"`
	Amount    string  `json:"amount"`
	Provider  string  `json:"provider"`
	Phone     string  `json:"phone"`
	Status    string  `json:"status"`
	Reference string  `json:"reference"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
	SettledAt *string `json:"settled_at,omitempty"`
}

type ReceiptResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func userToResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		FullName:  user.FullName,
		Phone:     user.Phone,
		Balance:   user.Balance.StringFixed(2),
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	}
}

func transactionToResponse(tx domain.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:        tx.ID,
		UserID:    tx.UserID,
		Kind:      string(tx.Kind),
		Amount:    tx.Amount.StringFixed(2),
		Provider:  tx.Provider,
		Phone:     tx.Phone,
		Status:    string(tx.Status),
		Reference: tx.Reference,
		CreatedAt: tx.CreatedAt.Format(time.RFC3339),
		UpdatedAt: tx.UpdatedAt.Format(time.RFC3339),
	}
	if tx.SettledAt != nil {
		v := tx.SettledAt.Format(time.RFC3339)
		resp.SettledAt = &v
	}
	return resp
}

func objectToResponse(obj storage.ObjectInfo) ReceiptResponse {
	resp := ReceiptResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}
