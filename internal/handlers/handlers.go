package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"spinbank/internal/auth"
	"spinbank/internal/engine"
	"spinbank/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"
)

// Settler is the engine surface the HTTP layer drives.
type Settler interface {
	Settle(ctx context.Context, accountID uuid.UUID, stake decimal.Decimal) (*engine.SettlementResult, error)
	Adjust(ctx context.Context, in engine.AdjustInput) (*engine.SettlementResult, error)
}

// WalletReader covers the read and administrative store paths outside the
// engine's commit discipline.
type WalletReader interface {
	LockAndRead(ctx context.Context, accountID uuid.UUID) (storage.Account, error)
	SetActive(ctx context.Context, accountID uuid.UUID, active bool) (storage.Account, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, filter storage.EntryFilter) ([]storage.LedgerEntry, int64, error)
	TodayStats(ctx context.Context) (storage.DayStats, error)
}

type Handler struct {
	Engine Settler
	Store  WalletReader
	Logger *slog.Logger
}

func New(eng Settler, store WalletReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Engine: eng, Store: store, Logger: logger}
}

func (h *Handler) Register(r *gin.Engine, jwtSecret []byte) {
	player := r.Group("/", auth.Middleware(jwtSecret))
	player.POST("/game/spin", h.Spin)
	player.GET("/game/history", h.History)
	player.GET("/wallet/balance", h.Balance)

	admin := r.Group("/admin", auth.Middleware(jwtSecret), auth.RequireRole(auth.RoleAdmin))
	admin.POST("/accounts/:id/adjust", h.Adjust)
	admin.GET("/accounts/:id", h.AccountDetail)
	admin.PUT("/accounts/:id/active", h.SetActive)
	admin.GET("/ledger", h.Ledger)
	admin.GET("/stats/today", h.TodayStats)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type spinRequest struct {
	Stake string `json:"stake" binding:"required"`
}

type spinResponse struct {
	Reels       []string      `json:"reels"`
	Multiplier  string        `json:"multiplier"`
	GrossReturn string        `json:"gross_return"`
	NetChange   string        `json:"net_change"`
	Balance     string        `json:"balance"`
	Entry       entryResponse `json:"entry"`
}

type entryResponse struct {
	ID            uuid.UUID `json:"id"`
	AccountID     uuid.UUID `json:"account_id"`
	Kind          string    `json:"kind"`
	Amount        string    `json:"amount"`
	GameTag       string    `json:"game_tag,omitempty"`
	Description   string    `json:"description"`
	BalanceBefore string    `json:"balance_before"`
	BalanceAfter  string    `json:"balance_after"`
	CreatedAt     string    `json:"created_at"`
}

type balanceResponse struct {
	AccountID uuid.UUID `json:"account_id"`
	Balance   string    `json:"balance"`
	Active    bool      `json:"active"`
	UpdatedAt string    `json:"updated_at"`
}

type paginationResponse struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
	Pages    int64 `json:"pages"`
}

type historyResponse struct {
	Entries    []entryResponse    `json:"entries"`
	Pagination paginationResponse `json:"pagination"`
}

func (h *Handler) Spin(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing principal"})
		return
	}

	var req spinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "stake is required"})
		return
	}
	stake, err := decimal.NewFromString(req.Stake)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "stake must be a decimal"})
		return
	}

	result, err := h.Engine.Settle(c.Request.Context(), accountID, stake)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}

	reels := make([]string, len(result.Outcome.Symbols))
	for i, s := range result.Outcome.Symbols {
		reels[i] = string(s)
	}
	c.JSON(http.StatusOK, spinResponse{
		Reels:       reels,
		Multiplier:  result.Outcome.Payout.Multiplier.String(),
		GrossReturn: result.Outcome.Payout.GrossReturn.String(),
		NetChange:   result.Entry.Amount.String(),
		Balance:     result.NewBalance.String(),
		Entry:       toEntryResponse(result.Entry),
	})
}

func (h *Handler) Balance(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing principal"})
		return
	}

	acct, err := h.Store.LockAndRead(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: "account not found"})
			return
		}
		h.Logger.Error("balance lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}
	c.JSON(http.StatusOK, toBalanceResponse(acct))
}

func (h *Handler) History(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing principal"})
		return
	}
	h.listEntries(c, accountID)
}

type adjustRequest struct {
	Delta         string `json:"delta" binding:"required"`
	Kind          string `json:"kind" binding:"required"`
	Reason        string `json:"reason" binding:"required"`
	AllowNegative bool   `json:"allow_negative"`
}

type adjustResponse struct {
	Balance string        `json:"balance"`
	Entry   entryResponse `json:"entry"`
}

func (h *Handler) Adjust(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid account id"})
		return
	}

	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "delta, kind and reason are required"})
		return
	}
	delta, err := decimal.NewFromString(req.Delta)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "delta must be a decimal"})
		return
	}

	result, err := h.Engine.Adjust(c.Request.Context(), engine.AdjustInput{
		AccountID:     accountID,
		Delta:         delta,
		Kind:          storage.EntryKind(req.Kind),
		Reason:        req.Reason,
		AllowNegative: req.AllowNegative,
	})
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, adjustResponse{
		Balance: result.NewBalance.String(),
		Entry:   toEntryResponse(result.Entry),
	})
}

type accountDetailResponse struct {
	Account balanceResponse `json:"account"`
	Entries []entryResponse `json:"entries"`
}

func (h *Handler) AccountDetail(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid account id"})
		return
	}

	acct, err := h.Store.LockAndRead(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: "account not found"})
			return
		}
		h.Logger.Error("account lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	entries, _, err := h.Store.ListEntries(c.Request.Context(), accountID, storage.EntryFilter{Page: 1, PageSize: 50})
	if err != nil {
		h.Logger.Error("account entries lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	resp := accountDetailResponse{Account: toBalanceResponse(acct), Entries: make([]entryResponse, 0, len(entries))}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, toEntryResponse(entry))
	}
	c.JSON(http.StatusOK, resp)
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (h *Handler) SetActive(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid account id"})
		return
	}

	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "active is required"})
		return
	}

	acct, err := h.Store.SetActive(c.Request.Context(), accountID, *req.Active)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: "account not found"})
			return
		}
		h.Logger.Error("set active failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}
	c.JSON(http.StatusOK, toBalanceResponse(acct))
}

func (h *Handler) Ledger(c *gin.Context) {
	accountID := uuid.Nil
	if raw := c.Query("account_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid account id"})
			return
		}
		accountID = parsed
	}
	h.listEntries(c, accountID)
}

type statsResponse struct {
	TotalWagered string `json:"total_wagered"`
	TotalPaidOut string `json:"total_paid_out"`
	EntryCount   int64  `json:"entry_count"`
}

func (h *Handler) TodayStats(c *gin.Context) {
	stats, err := h.Store.TodayStats(c.Request.Context())
	if err != nil {
		h.Logger.Error("today stats failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}
	c.JSON(http.StatusOK, statsResponse{
		TotalWagered: stats.TotalWagered.String(),
		TotalPaidOut: stats.TotalPaidOut.String(),
		EntryCount:   stats.EntryCount,
	})
}

func (h *Handler) listEntries(c *gin.Context, accountID uuid.UUID) {
	filter := storage.EntryFilter{
		Page:     parseIntQuery(c.Query("page"), 1),
		PageSize: parseIntQuery(c.Query("page_size"), storage.DefaultPageSize),
	}
	if raw := c.Query("kind"); raw != "" {
		kind := storage.EntryKind(raw)
		if !kind.Valid() {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid kind filter"})
			return
		}
		filter.Kind = kind
	}
	filter = filter.Normalize()

	entries, total, err := h.Store.ListEntries(c.Request.Context(), accountID, filter)
	if err != nil {
		h.Logger.Error("list entries failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	resp := historyResponse{
		Entries: make([]entryResponse, 0, len(entries)),
		Pagination: paginationResponse{
			Page:     filter.Page,
			PageSize: filter.PageSize,
			Total:    total,
			Pages:    (total + int64(filter.PageSize) - 1) / int64(filter.PageSize),
		},
	}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, toEntryResponse(entry))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) writeEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: "account not found"})
	case errors.Is(err, engine.ErrAccountInactive):
		c.JSON(http.StatusForbidden, errorResponse{Code: "ACCOUNT_INACTIVE", Message: "account is disabled"})
	case errors.Is(err, engine.ErrInsufficientFunds):
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INSUFFICIENT_FUNDS", Message: "insufficient balance"})
	case errors.Is(err, engine.ErrInvalidStake):
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_STAKE", Message: err.Error()})
	case errors.Is(err, engine.ErrInvalidAdjustment):
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_ADJUSTMENT", Message: err.Error()})
	case errors.Is(err, engine.ErrConflict):
		c.JSON(http.StatusConflict, errorResponse{Code: "CONFLICT", Message: "concurrent update, retry the request"})
	default:
		h.Logger.Error("settlement failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
	}
}

func toEntryResponse(entry storage.LedgerEntry) entryResponse {
	return entryResponse{
		ID:            entry.ID,
		AccountID:     entry.AccountID,
		Kind:          string(entry.Kind),
		Amount:        entry.Amount.String(),
		GameTag:       entry.GameTag,
		Description:   entry.Description,
		BalanceBefore: entry.BalanceBefore.String(),
		BalanceAfter:  entry.BalanceAfter.String(),
		CreatedAt:     entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toBalanceResponse(acct storage.Account) balanceResponse {
	return balanceResponse{
		AccountID: acct.ID,
		Balance:   acct.Balance.String(),
		Active:    acct.Active,
		UpdatedAt: acct.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func parseIntQuery(raw string, def int) int {
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return def
	}
	return val
}

func accountIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	val, ok := c.Get(auth.ContextUserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	idStr, ok := val.(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
