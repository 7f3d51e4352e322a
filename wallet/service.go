/*
service.go - Wallet domain service

PURPOSE:
  Wraps the ledger engine with the wallet product's three actions: send
  money between users, deposit, and withdraw. Converts display amounts
  to minor units, normalizes currency codes, and shapes read results
  for presentation.

WHY A WRAPPER?
  The engine handles any (user, currency) account and any int64 amount.
  It does not know that "0.5 BTC" means 50000000 satoshi, that signup
  provisions a fixed wallet set, or that deposits may introduce new
  crypto codes. Those product rules live here.
*/
package wallet

import (
	"context"
	"fmt"

	"github.com/kwachapay/wallet-engine/ledger"
)

// Sentinel errors. Both unwrap to ledger.ErrInvalidOperation so the API
// layer's classification helpers apply unchanged.
var (
	ErrBadAmount       = fmt.Errorf("bad amount: %w", ledger.ErrInvalidOperation)
	ErrUnknownCurrency = fmt.Errorf("unknown currency: %w", ledger.ErrInvalidOperation)
)

// Service exposes wallet operations for one deployment.
type Service struct {
	engine     *ledger.Engine
	queries    *ledger.Queries
	currencies *Registry
}

func NewService(engine *ledger.Engine, queries *ledger.Queries, currencies *Registry) *Service {
	return &Service{engine: engine, queries: queries, currencies: currencies}
}

// Currencies exposes the registry for presentation-layer formatting.
func (s *Service) Currencies() *Registry {
	return s.currencies
}

// =============================================================================
// WRITE PATH
// =============================================================================

// SignUp provisions the default wallet set for a new user. Idempotent:
// wallets that already exist keep their balances.
func (s *Service) SignUp(ctx context.Context, userID string) ([]View, error) {
	accounts, err := s.engine.Provision(ctx, userID, DefaultCurrencyCodes())
	if err != nil {
		return nil, err
	}
	return s.views(accounts), nil
}

// Send transfers a display amount between two users in one currency.
func (s *Service) Send(ctx context.Context, fromUser, toUser, code, amount, token string) (ledger.Entry, error) {
	cur, ok := s.currencies.Get(code)
	if !ok {
		return ledger.Entry{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, NormalizeCode(code))
	}
	minor, err := cur.ParseAmount(amount)
	if err != nil {
		return ledger.Entry{}, err
	}
	return s.engine.Apply(ctx, ledger.Operation{
		Kind:        ledger.KindTransfer,
		Token:       token,
		Source:      &ledger.AccountRef{UserID: fromUser, Currency: cur.Code},
		Destination: &ledger.AccountRef{UserID: toUser, Currency: cur.Code},
		Amount:      minor,
	})
}

// Deposit credits a user's wallet, creating it if absent. Unknown codes
// are registered as crypto currencies on first use.
func (s *Service) Deposit(ctx context.Context, userID, code, amount, token string) (ledger.Entry, error) {
	cur := s.currencies.GetOrRegister(code)
	minor, err := cur.ParseAmount(amount)
	if err != nil {
		return ledger.Entry{}, err
	}
	return s.engine.Apply(ctx, ledger.Operation{
		Kind:        ledger.KindDeposit,
		Token:       token,
		Destination: &ledger.AccountRef{UserID: userID, Currency: cur.Code},
		Amount:      minor,
	})
}

// Withdraw debits a user's wallet.
func (s *Service) Withdraw(ctx context.Context, userID, code, amount, token string) (ledger.Entry, error) {
	cur, ok := s.currencies.Get(code)
	if !ok {
		return ledger.Entry{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, NormalizeCode(code))
	}
	minor, err := cur.ParseAmount(amount)
	if err != nil {
		return ledger.Entry{}, err
	}
	return s.engine.Apply(ctx, ledger.Operation{
		Kind:   ledger.KindWithdraw,
		Token:  token,
		Source: &ledger.AccountRef{UserID: userID, Currency: cur.Code},
		Amount: minor,
	})
}

// =============================================================================
// READ PATH
// =============================================================================

// View is a wallet shaped for display: minor units plus the formatted
// balance in the currency's precision.
type View struct {
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
	Minor    int64  `json:"minor_units"`
}

// Statement is one page of a user's transaction history.
type Statement struct {
	Entries    []ledger.Entry `json:"entries"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// Wallets returns the user's wallets with display balances.
func (s *Service) Wallets(ctx context.Context, userID string) ([]View, error) {
	accounts, err := s.queries.ListWallets(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.views(accounts), nil
}

// Transactions returns one page of the user's history, newest first.
func (s *Service) Transactions(ctx context.Context, userID, cursor string, limit int) (Statement, error) {
	entries, next, err := s.queries.ListTransactions(ctx, userID, cursor, limit)
	if err != nil {
		return Statement{}, err
	}
	return Statement{Entries: entries, NextCursor: next}, nil
}

func (s *Service) views(accounts []ledger.Account) []View {
	views := make([]View, len(accounts))
	for i, acct := range accounts {
		cur := s.currencies.GetOrRegister(acct.Currency)
		views[i] = View{
			Currency: acct.Currency,
			Balance:  cur.FormatAmount(acct.Balance),
			Minor:    acct.Balance,
		}
	}
	return views
}

// FormatEntryAmount renders an entry's amount in its currency. Entries
// always carry at least one account ref, which names the currency.
func (s *Service) FormatEntryAmount(e ledger.Entry) string {
	var code string
	switch {
	case e.Source != nil:
		code = e.Source.Currency
	case e.Destination != nil:
		code = e.Destination.Currency
	default:
		return fmt.Sprintf("%d", e.Amount)
	}
	return s.currencies.GetOrRegister(code).FormatAmount(e.Amount)
}
