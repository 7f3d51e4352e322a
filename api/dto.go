/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *Request: request body types from clients
  - *DTO: response types returned to clients

Validation happens in handlers; DTOs are pure data carriers. Amounts in
requests are display strings ("0.5"); responses carry both the display
amount and raw minor units.
*/
package api

import (
	"github.com/kwachapay/wallet-engine/ledger"
	"github.com/kwachapay/wallet-engine/wallet"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// TransferRequest moves money from the authenticated user to another.
type TransferRequest struct {
	ToUserID string `json:"to_user_id"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// MovementRequest deposits to or withdraws from the authenticated
// user's own wallet.
type MovementRequest struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// EntryDTO is a ledger entry with its display amount attached.
type EntryDTO struct {
	ID          string             `json:"id"`
	Kind        string             `json:"kind"`
	Source      *ledger.AccountRef `json:"source,omitempty"`
	Destination *ledger.AccountRef `json:"destination,omitempty"`
	Amount      string             `json:"amount"`
	MinorUnits  int64              `json:"minor_units"`
	Status      string             `json:"status"`
	Reason      string             `json:"reason,omitempty"`
	CommittedAt string             `json:"committed_at"`
}

// WalletsDTO is the signup and wallet-list response.
type WalletsDTO struct {
	UserID  string        `json:"user_id"`
	Wallets []wallet.View `json:"wallets"`
}

// StatementDTO is one page of transaction history.
type StatementDTO struct {
	Entries    []EntryDTO `json:"entries"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// ErrorDTO is the uniform error body.
type ErrorDTO struct {
	Error     string    `json:"error"`
	Retryable bool      `json:"retryable"`
	Entry     *EntryDTO `json:"entry,omitempty"` // present on recorded rejections
}
