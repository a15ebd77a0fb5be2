// Package engine holds the trading ledger's business rules: registering users and
// instruments, reading balances and portfolios, and executing purchases and sales.
// The API layer and the price drift loop only talk to the ledger through Service.
package engine

import "context"

// Service defines the trading engine operations. Each call runs in its own
// transaction: either all of its writes commit or none do.
type Service interface {
	// Users
	RegisterUser(ctx context.Context, login string) error
	ListUsers(ctx context.Context) ([]User, error)
	GetBalance(ctx context.Context, login string) (int64, error)
	GetPortfolio(ctx context.Context, login string) ([]Position, error)

	// Instruments
	AddInstrument(ctx context.Context, name string, purchaseCost, saleCost int64) error
	UpdateInstrumentCosts(ctx context.Context, name string, purchaseCost, saleCost int64) error
	ListInstruments(ctx context.Context) ([]Instrument, error)

	// Operations
	ExecuteOperation(ctx context.Context, req OperationRequest) (Operation, error)
	ListOperations(ctx context.Context, login string) ([]Operation, error)
}
