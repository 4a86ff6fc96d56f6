package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"connect-platform/internal/auth"
	"connect-platform/internal/availability"
	"connect-platform/internal/broker"
	"connect-platform/internal/calls"
	"connect-platform/internal/history"
	"connect-platform/internal/ledger"
	"connect-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// StatusSetter updates a counterpart's online/busy flags.
type StatusSetter interface {
	SetStatus(ctx context.Context, counterpartID string, online, busy bool) (availability.Status, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Broker       *broker.Service
	Ledger       *ledger.Engine
	History      *history.Service
	Availability StatusSetter
}

func caller(c *gin.Context) (id, role string) {
	id, _ = auth.ParticipantID(c.Request.Context())
	role, _ = auth.Role(c.Request.Context())
	return id, role
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// --- Connection requests ---

type createConnectionRequest struct {
	CounterpartID string     `json:"counterpart_id" binding:"required"`
	Mode          calls.Mode `json:"mode" binding:"required"`
}

func (h Handlers) CreateConnectionRequest(c *gin.Context) {
	var req createConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "counterpart_id and mode required")
		return
	}
	requesterID, _ := caller(c)

	out, err := h.Broker.CreateRequest(c.Request.Context(), requesterID, req.CounterpartID, req.Mode)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"connection_request": out})
}

// GetConnectionRequest is the poll path for a participant that reconnects mid-request.
// Requests the caller is not party to are reported as not found.
func (h Handlers) GetConnectionRequest(c *gin.Context) {
	req, ok := h.loadOwnRequest(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"connection_request": req})
}

func (h Handlers) AcceptConnectionRequest(c *gin.Context) {
	h.resolve(c, h.Broker.AcceptRequest)
}

func (h Handlers) RejectConnectionRequest(c *gin.Context) {
	h.resolve(c, h.Broker.RejectRequest)
}

// resolve runs accept or reject after checking the caller is the request's counterpart.
func (h Handlers) resolve(c *gin.Context, op func(ctx context.Context, id string) (broker.ConnectionRequest, error)) {
	req, ok := h.loadOwnRequest(c)
	if !ok {
		return
	}
	id, role := caller(c)
	if !rbac.IsAdmin(role) && req.CounterpartID != id {
		forbidden(c, "only the counterpart can answer this request")
		return
	}
	out, err := op(c.Request.Context(), req.ID)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connection_request": out})
}

func (h Handlers) loadOwnRequest(c *gin.Context) (broker.ConnectionRequest, bool) {
	req, err := h.Broker.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return broker.ConnectionRequest{}, false
	}
	id, role := caller(c)
	if !rbac.IsAdmin(role) && req.RequesterID != id && req.CounterpartID != id {
		writeError(c, broker.ErrNotFound, nil)
		return broker.ConnectionRequest{}, false
	}
	return req, true
}

// --- Money ---

type transferRequest struct {
	CounterpartID   string     `json:"counterpart_id" binding:"required"`
	Amount          int64      `json:"amount" binding:"required,gt=0,lte=1000000000000000"`
	Mode            calls.Mode `json:"mode" binding:"required"`
	DurationSeconds int64      `json:"duration" binding:"gte=0"`
}

// Transfer bills the calling requester for one unit of session time.
func (h Handlers) Transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "counterpart_id, positive amount and mode required")
		return
	}
	requesterID, _ := caller(c)

	tx, err := h.Ledger.Transfer(c.Request.Context(), ledger.TransferRequest{
		RequesterID:     requesterID,
		CounterpartID:   req.CounterpartID,
		Amount:          req.Amount,
		Mode:            req.Mode,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		var extra gin.H
		if tx.ID != "" {
			extra = gin.H{"transaction": tx}
		}
		writeError(c, err, extra)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

type depositRequest struct {
	Amount           int64  `json:"amount" binding:"required,gt=0,lte=1000000000000000"`
	OrderID          string `json:"order_id" binding:"required"`
	SignatureID      string `json:"signature_id" binding:"required"`
	TransactionValid *bool  `json:"transaction_valid" binding:"required"`
}

func (h Handlers) Deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "amount, order_id, signature_id and transaction_valid required")
		return
	}
	requesterID, _ := caller(c)

	d, err := h.Ledger.Deposit(c.Request.Context(), ledger.DepositRequest{
		RequesterID: requesterID,
		Amount:      req.Amount,
		OrderID:     req.OrderID,
		SignatureID: req.SignatureID,
		Valid:       *req.TransactionValid,
	})
	if err != nil {
		var extra gin.H
		if d.ID != "" {
			extra = gin.H{"deposit": d}
		}
		writeError(c, err, extra)
		return
	}

	w, err := h.History.Wallet(c.Request.Context(), ledger.AccountRequester, requesterID)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deposit": d, "balance": w.Balance})
}

// --- Reads ---

func (h Handlers) GetWallet(c *gin.Context) {
	id, role := caller(c)
	w, err := h.History.Wallet(c.Request.Context(), ledger.AccountKind(role), id)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

func (h Handlers) ListTransactions(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	id, _ := caller(c)
	out, err := h.History.Transactions(c.Request.Context(), id, limit)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

func (h Handlers) ListDeposits(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	id, _ := caller(c)
	out, err := h.History.Deposits(c.Request.Context(), id, limit)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deposits": out})
}

func (h Handlers) ListMissedCalls(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	id, _ := caller(c)
	out, err := h.History.MissedCalls(c.Request.Context(), id, limit)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"missed_calls": out})
}

// --- Availability ---

type statusRequest struct {
	Online *bool `json:"online" binding:"required"`
	Busy   *bool `json:"busy" binding:"required"`
}

func (h Handlers) SetCounterpartStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "online and busy required")
		return
	}
	id, _ := caller(c)
	st, err := h.Availability.SetStatus(c.Request.Context(), id, *req.Online, *req.Busy)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": st})
}
