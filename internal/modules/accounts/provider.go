// Package accounts resolves the exchange account a process trades for.
package accounts

import (
	"context"

	"github.com/aristath/rebalancer/internal/domain"
)

// StaticProvider serves the single account configured for this process
type StaticProvider struct {
	account domain.ExchangeAccount
}

// Compile-time check that StaticProvider implements domain.AccountProvider
var _ domain.AccountProvider = (*StaticProvider)(nil)

// NewStaticProvider creates a provider for one configured account.
// The account is active only when it has both an id and a user id.
func NewStaticProvider(id, userID, exchange string) *StaticProvider {
	return &StaticProvider{account: domain.ExchangeAccount{
		ID:       id,
		UserID:   userID,
		Exchange: exchange,
		Active:   id != "" && userID != "",
	}}
}

// GetActiveAccount returns the configured account when accountID matches, nil otherwise
func (p *StaticProvider) GetActiveAccount(ctx context.Context, accountID string) (*domain.ExchangeAccount, error) {
	if accountID == "" || accountID != p.account.ID || !p.account.Active {
		return nil, nil
	}
	account := p.account
	return &account, nil
}

// AccountIDs lists the accounts served by this provider
func (p *StaticProvider) AccountIDs() []string {
	if !p.account.Active {
		return nil
	}
	return []string{p.account.ID}
}
