package domain

import "context"

// BalanceProvider supplies current holdings of an exchange account.
// Balances are never cached by the core.
type BalanceProvider interface {
	GetBalances(ctx context.Context, accountID string) ([]Balance, error)
}

// StrategyStore reads the current strategy of an account.
// Returns nil and no error when the account has no strategy.
type StrategyStore interface {
	GetActiveStrategy(ctx context.Context, accountID string) (*StrategyConfig, error)
}

// PriceFetcher resolves the last traded price of a symbol from the exchange
type PriceFetcher interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// ExchangeAdapter is the trading surface of a spot exchange.
//
// Orders are addressed by client order id. PlaceOrder returns the exchange
// order id. Errors wrap ErrRateLimited, ErrExchangeRejected or ErrDuplicateOrder
// when the exchange reports them.
type ExchangeAdapter interface {
	GetSymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
	GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*OrderStatusReport, error)
}

// ActiveOrderLookup returns the outstanding order of an account for a symbol, nil when none
type ActiveOrderLookup interface {
	GetActiveOrder(ctx context.Context, accountID, symbol string) (*Order, error)
}

// AccountProvider resolves the active exchange account, nil when none
type AccountProvider interface {
	GetActiveAccount(ctx context.Context, accountID string) (*ExchangeAccount, error)
}
