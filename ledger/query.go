/*
query.go - Read-side facade

PURPOSE:
  Answers "wallets for user X" and "transactions for user X" from
  committed state, independent of the write path. No side effects.

PAGINATION:
  Transaction listings are ordered by committed-at descending with
  entry-ID as tiebreaker. The continuation cursor is opaque to callers:
  it encodes the (timestamp, id) boundary of the last returned entry, so
  a restart resumes exactly where the previous page ended even while new
  entries are being appended.
*/
package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Queries is the read-only facade over a Store.
type Queries struct {
	store Store
}

func NewQueries(store Store) *Queries {
	return &Queries{store: store}
}

// ListWallets returns the user's wallets sorted by currency code.
func (q *Queries) ListWallets(ctx context.Context, userID string) ([]Account, error) {
	return q.store.ListAccounts(ctx, userID)
}

// ListTransactions returns one page of the user's entries, newest first,
// plus the cursor for the next page. An empty cursor means the listing
// is exhausted.
func (q *Queries) ListTransactions(ctx context.Context, userID, cursor string, limit int) ([]Entry, string, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	page := Page{Limit: limit + 1} // fetch one extra to detect the last page
	if cursor != "" {
		before, beforeID, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		page.BeforeTime = before
		page.BeforeID = beforeID
	}

	entries, err := q.store.ListEntries(ctx, userID, page)
	if err != nil {
		return nil, "", err
	}

	var next string
	if len(entries) > limit {
		entries = entries[:limit]
		last := entries[len(entries)-1]
		next = encodeCursor(last.CommittedAt, last.ID)
	}
	return entries, next, nil
}

// =============================================================================
// CURSOR CODEC
// =============================================================================

func encodeCursor(t time.Time, id string) string {
	raw := strconv.FormatInt(t.UnixNano(), 10) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", &InvalidOperationError{Field: "cursor", Reason: "malformed cursor"}
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", &InvalidOperationError{Field: "cursor", Reason: "malformed cursor"}
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", &InvalidOperationError{Field: "cursor", Reason: fmt.Sprintf("bad cursor timestamp: %v", err)}
	}
	return time.Unix(0, nanos).UTC(), parts[1], nil
}
