package api_test

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwachapay/wallet-engine/api"
	"github.com/kwachapay/wallet-engine/ledger"
	"github.com/kwachapay/wallet-engine/ledger/store"
	"github.com/kwachapay/wallet-engine/wallet"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

func newTestServer(t *testing.T, secret string) *httptest.Server {
	t.Helper()

	mem := store.NewMemory()
	engine := ledger.NewEngine(mem)
	svc := wallet.NewService(engine, ledger.NewQueries(mem), wallet.NewRegistry())

	router := api.NewRouter(api.NewHandler(svc), api.NewAuthenticator(secret), []string{"*"})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// do issues a request as userID using dev-mode header auth.
func do(t *testing.T, srv *httptest.Server, method, path, userID string, body any, headers map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type entryResp struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Amount     string `json:"amount"`
	MinorUnits int64  `json:"minor_units"`
	Status     string `json:"status"`
	Reason     string `json:"reason"`
}

type walletsResp struct {
	UserID  string `json:"user_id"`
	Wallets []struct {
		Currency string `json:"currency"`
		Balance  string `json:"balance"`
		Minor    int64  `json:"minor_units"`
	} `json:"wallets"`
}

type errorResp struct {
	Error     string     `json:"error"`
	Retryable bool       `json:"retryable"`
	Entry     *entryResp `json:"entry"`
}

// =============================================================================
// AUTH
// =============================================================================

func TestAPI_MissingIdentity_Unauthorized(t *testing.T) {
	srv := newTestServer(t, "")

	resp := do(t, srv, http.MethodGet, "/api/wallets", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_JWTAuth(t *testing.T) {
	const secret = "test-secret"
	srv := newTestServer(t, secret)

	// Header identity is ignored when a signing secret is configured.
	resp := do(t, srv, http.MethodGet, "/api/wallets", "alice", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	resp = do(t, srv, http.MethodGet, "/api/wallets", "", nil, map[string]string{
		"Authorization": "Bearer " + signed,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A token signed with the wrong key is rejected.
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"})
	bad, err := forged.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	resp = do(t, srv, http.MethodGet, "/api/wallets", "", nil, map[string]string{
		"Authorization": "Bearer " + bad,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// =============================================================================
// SIGNUP AND WALLETS
// =============================================================================

func TestAPI_SignUp_ProvisionsWallets(t *testing.T) {
	srv := newTestServer(t, "")

	resp := do(t, srv, http.MethodPost, "/api/signup", "alice", nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode[walletsResp](t, resp)
	assert.Equal(t, "alice", body.UserID)
	assert.Len(t, body.Wallets, 5)
	for _, w := range body.Wallets {
		assert.Zero(t, w.Minor)
	}
}

func TestAPI_ListWallets_EmptyForUnknownUser(t *testing.T) {
	srv := newTestServer(t, "")

	resp := do(t, srv, http.MethodGet, "/api/wallets", "nobody", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[walletsResp](t, resp)
	assert.Empty(t, body.Wallets)
}

// =============================================================================
// MONEY MOVEMENT
// =============================================================================

func TestAPI_DepositThenTransfer(t *testing.T) {
	srv := newTestServer(t, "")

	resp := do(t, srv, http.MethodPost, "/api/deposits", "alice",
		map[string]string{"currency": "USD", "amount": "100.00"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	dep := decode[entryResp](t, resp)
	assert.Equal(t, "completed", dep.Status)
	assert.Equal(t, int64(10000), dep.MinorUnits)
	assert.Equal(t, "100.00", dep.Amount)

	resp = do(t, srv, http.MethodPost, "/api/transfers", "alice",
		map[string]string{"to_user_id": "bob", "currency": "USD", "amount": "40.00"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/api/wallets", "bob", nil, nil)
	body := decode[walletsResp](t, resp)
	require.Len(t, body.Wallets, 1)
	assert.Equal(t, "USD", body.Wallets[0].Currency)
	assert.Equal(t, "40.00", body.Wallets[0].Balance)
}

func TestAPI_IdempotencyKey_GeneratedAndEchoed(t *testing.T) {
	srv := newTestServer(t, "")

	resp := do(t, srv, http.MethodPost, "/api/deposits", "alice",
		map[string]string{"currency": "USD", "amount": "5.00"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Idempotency-Key"))
}

func TestAPI_IdempotencyKey_ReplayReturnsSameEntry(t *testing.T) {
	srv := newTestServer(t, "")
	headers := map[string]string{"Idempotency-Key": "client-key-1"}
	body := map[string]string{"currency": "USD", "amount": "5.00"}

	resp := do(t, srv, http.MethodPost, "/api/deposits", "alice", body, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decode[entryResp](t, resp)

	resp = do(t, srv, http.MethodPost, "/api/deposits", "alice", body, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	second := decode[entryResp](t, resp)

	assert.Equal(t, first.ID, second.ID)

	// Balance credited once.
	resp = do(t, srv, http.MethodGet, "/api/wallets", "alice", nil, nil)
	wallets := decode[walletsResp](t, resp)
	require.Len(t, wallets.Wallets, 1)
	assert.Equal(t, int64(500), wallets.Wallets[0].Minor)
}

func TestAPI_IdempotencyKey_PayloadMismatch(t *testing.T) {
	srv := newTestServer(t, "")
	headers := map[string]string{"Idempotency-Key": "client-key-2"}

	var logged bytes.Buffer
	log.SetOutput(&logged)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	resp := do(t, srv, http.MethodPost, "/api/deposits", "alice",
		map[string]string{"currency": "USD", "amount": "5.00"}, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/api/deposits", "alice",
		map[string]string{"currency": "USD", "amount": "9.00"}, headers)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode[errorResp](t, resp)
	assert.False(t, body.Retryable)

	// The caller bug leaves a server-side trace.
	assert.Contains(t, logged.String(), "mismatched payload")
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_InsufficientFunds_RejectionInBody(t *testing.T) {
	srv := newTestServer(t, "")

	resp := do(t, srv, http.MethodPost, "/api/withdrawals", "alice",
		map[string]string{"currency": "USD", "amount": "10.00"}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decode[errorResp](t, resp)
	assert.False(t, body.Retryable)
	require.NotNil(t, body.Entry, "the recorded rejection rides the error body")
	assert.Equal(t, "rejected", body.Entry.Status)
	assert.Equal(t, "insufficient_funds", body.Entry.Reason)
}

func TestAPI_BadRequests(t *testing.T) {
	srv := newTestServer(t, "")

	// Unknown currency on transfer.
	resp := do(t, srv, http.MethodPost, "/api/transfers", "alice",
		map[string]string{"to_user_id": "bob", "currency": "XYZ", "amount": "1"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Missing recipient.
	resp = do(t, srv, http.MethodPost, "/api/transfers", "alice",
		map[string]string{"currency": "USD", "amount": "1"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Malformed amount.
	resp = do(t, srv, http.MethodPost, "/api/deposits", "alice",
		map[string]string{"currency": "USD", "amount": "abc"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Excess precision for the currency.
	resp = do(t, srv, http.MethodPost, "/api/deposits", "alice",
		map[string]string{"currency": "USD", "amount": "1.005"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestAPI_Transactions_Paginated(t *testing.T) {
	srv := newTestServer(t, "")

	for _, amount := range []string{"1.00", "2.00", "3.00"} {
		resp := do(t, srv, http.MethodPost, "/api/deposits", "alice",
			map[string]string{"currency": "USD", "amount": amount}, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	type stmtResp struct {
		Entries    []entryResp `json:"entries"`
		NextCursor string      `json:"next_cursor"`
	}

	resp := do(t, srv, http.MethodGet, "/api/transactions?limit=2", "alice", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[stmtResp](t, resp)
	require.Len(t, page.Entries, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.Equal(t, "3.00", page.Entries[0].Amount, "newest first")

	resp = do(t, srv, http.MethodGet, "/api/transactions?limit=2&cursor="+page.NextCursor, "alice", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rest := decode[stmtResp](t, resp)
	require.Len(t, rest.Entries, 1)
	assert.Empty(t, rest.NextCursor)
	assert.Equal(t, "1.00", rest.Entries[0].Amount)

	resp = do(t, srv, http.MethodGet, "/api/transactions?limit=0", "alice", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_HealthOpenWithoutAuth(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
