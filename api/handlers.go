/*
handlers.go - HTTP API handlers for the wallet service

ENDPOINTS:
  POST   /api/signup         Provision the default wallet set
  GET    /api/wallets        Authenticated user's wallets
  GET    /api/transactions   Transaction history (cursor + limit)
  POST   /api/transfers      Send money to another user
  POST   /api/deposits       Credit own wallet
  POST   /api/withdrawals    Debit own wallet

IDEMPOTENCY:
  Mutating endpoints read the Idempotency-Key header. A missing key is
  generated server-side and echoed back, so a client that wants retry
  safety must supply its own.

ERROR HANDLING:
  The ledger error taxonomy maps onto HTTP statuses:
  - 400: malformed input (never reached the store)
  - 422: insufficient funds (recorded rejection), token payload mismatch
  - 409: contention after internal retries; retry with the same key
  - 503: store unavailable; retry with the same key

REQUEST FLOW:
  1. Identity comes from the auth middleware, never the payload
  2. Parse and validate the body
  3. Call the wallet service
  4. Serialize the entry or the mapped error
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kwachapay/wallet-engine/ledger"
	"github.com/kwachapay/wallet-engine/wallet"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *wallet.Service
}

func NewHandler(service *wallet.Service) *Handler {
	return &Handler{Service: service}
}

// =============================================================================
// WRITE ENDPOINTS
// =============================================================================

func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	defer prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/api/signup")).ObserveDuration()

	userID := IdentityFromContext(r.Context())
	views, err := h.Service.SignUp(r.Context(), userID)
	if err != nil {
		h.respondLedgerError(w, err, nil, "POST", "/api/signup")
		return
	}
	h.respondJSON(w, http.StatusCreated, WalletsDTO{UserID: userID, Wallets: views}, "POST", "/api/signup")
}

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	defer prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/api/transfers")).ObserveDuration()

	userID := IdentityFromContext(r.Context())
	token := h.idempotencyKey(w, r)

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON", false, "POST", "/api/transfers")
		return
	}
	if req.ToUserID == "" {
		h.respondError(w, http.StatusBadRequest, "to_user_id is required", false, "POST", "/api/transfers")
		return
	}

	entry, err := h.Service.Send(r.Context(), userID, req.ToUserID, req.Currency, req.Amount, token)
	if err != nil {
		h.respondLedgerError(w, err, &entry, "POST", "/api/transfers")
		return
	}
	h.respondJSON(w, http.StatusCreated, h.entryDTO(entry), "POST", "/api/transfers")
}

func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	defer prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/api/deposits")).ObserveDuration()

	userID := IdentityFromContext(r.Context())
	token := h.idempotencyKey(w, r)

	var req MovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON", false, "POST", "/api/deposits")
		return
	}

	entry, err := h.Service.Deposit(r.Context(), userID, req.Currency, req.Amount, token)
	if err != nil {
		h.respondLedgerError(w, err, &entry, "POST", "/api/deposits")
		return
	}
	h.respondJSON(w, http.StatusCreated, h.entryDTO(entry), "POST", "/api/deposits")
}

func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	defer prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/api/withdrawals")).ObserveDuration()

	userID := IdentityFromContext(r.Context())
	token := h.idempotencyKey(w, r)

	var req MovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON", false, "POST", "/api/withdrawals")
		return
	}

	entry, err := h.Service.Withdraw(r.Context(), userID, req.Currency, req.Amount, token)
	if err != nil {
		h.respondLedgerError(w, err, &entry, "POST", "/api/withdrawals")
		return
	}
	h.respondJSON(w, http.StatusCreated, h.entryDTO(entry), "POST", "/api/withdrawals")
}

// =============================================================================
// READ ENDPOINTS
// =============================================================================

func (h *Handler) ListWallets(w http.ResponseWriter, r *http.Request) {
	defer prometheus.NewTimer(httpLatency.WithLabelValues("GET", "/api/wallets")).ObserveDuration()

	userID := IdentityFromContext(r.Context())
	views, err := h.Service.Wallets(r.Context(), userID)
	if err != nil {
		h.respondLedgerError(w, err, nil, "GET", "/api/wallets")
		return
	}
	h.respondJSON(w, http.StatusOK, WalletsDTO{UserID: userID, Wallets: views}, "GET", "/api/wallets")
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	defer prometheus.NewTimer(httpLatency.WithLabelValues("GET", "/api/transactions")).ObserveDuration()

	userID := IdentityFromContext(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.respondError(w, http.StatusBadRequest, "invalid limit", false, "GET", "/api/transactions")
			return
		}
		limit = parsed
	}

	stmt, err := h.Service.Transactions(r.Context(), userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		h.respondLedgerError(w, err, nil, "GET", "/api/transactions")
		return
	}

	dto := StatementDTO{Entries: make([]EntryDTO, len(stmt.Entries)), NextCursor: stmt.NextCursor}
	for i, e := range stmt.Entries {
		dto.Entries[i] = h.entryDTO(e)
	}
	h.respondJSON(w, http.StatusOK, dto, "GET", "/api/transactions")
}

// =============================================================================
// HELPERS
// =============================================================================

// idempotencyKey returns the client's Idempotency-Key, generating one
// when absent, and echoes it so the client can retry against it.
func (h *Handler) idempotencyKey(w http.ResponseWriter, r *http.Request) string {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = uuid.NewString()
	}
	w.Header().Set("Idempotency-Key", key)
	return key
}

func (h *Handler) entryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:          e.ID,
		Kind:        string(e.Kind),
		Source:      e.Source,
		Destination: e.Destination,
		Amount:      h.Service.FormatEntryAmount(e),
		MinorUnits:  e.Amount,
		Status:      string(e.Status),
		Reason:      e.Reason,
		CommittedAt: e.CommittedAt.Format(time.RFC3339Nano),
	}
}

// respondLedgerError maps the ledger error taxonomy to HTTP statuses.
// entry carries the recorded rejection when the engine produced one.
func (h *Handler) respondLedgerError(w http.ResponseWriter, err error, entry *ledger.Entry, method, endpoint string) {
	var status int
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrDuplicateToken):
		// A token reused with a different payload is a client bug, not
		// a transient condition; keep a server-side trace of it.
		log.Printf("[API] %s %s: %v", method, endpoint, err)
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInvalidOperation):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrContention):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}

	dto := ErrorDTO{Error: err.Error(), Retryable: ledger.IsRetryable(err)}
	if entry != nil && entry.ID != "" {
		e := h.entryDTO(*entry)
		dto.Entry = &e
	}
	h.respondJSON(w, status, dto, method, endpoint)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg string, retryable bool, method, endpoint string) {
	h.respondJSON(w, code, ErrorDTO{Error: msg, Retryable: retryable}, method, endpoint)
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
