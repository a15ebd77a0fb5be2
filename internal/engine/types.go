package engine

import (
	"time"

	"crypto-market/pkg/db"
)

// OperationType is the side of a trade.
type OperationType string

const (
	Purchase OperationType = db.OperationPurchase
	Sale     OperationType = db.OperationSale
)

// User is a registered trader.
type User struct {
	Login   string `json:"login"`
	Balance int64  `json:"balance"`
}

// Instrument is a tradable crypto-asset and its current costs in cents.
type Instrument struct {
	Name         string    `json:"name"`
	PurchaseCost int64     `json:"purchase_cost"`
	SaleCost     int64     `json:"sale_cost"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Position is the amount of one instrument a user holds.
type Position struct {
	Instrument string `json:"crypto_name"`
	Amount     int64  `json:"amount"`
}

// Operation is a recorded purchase or sale.
type Operation struct {
	ID           int64         `json:"id"`
	Login        string        `json:"login"`
	Instrument   string        `json:"crypto_name"`
	Type         OperationType `json:"operation_type"`
	Amount       int64         `json:"amount"`
	PurchaseCost int64         `json:"purchase_cost"`
	SaleCost     int64         `json:"sale_cost"`
	CreatedAt    time.Time     `json:"created"`
}

// OperationRequest carries the inputs of ExecuteOperation as received from callers.
// Time is the caller's price snapshot time in QuoteTimeLayout.
type OperationRequest struct {
	Login      string
	Instrument string
	Type       string
	Amount     int64
	Time       string
}

func toInstrument(in db.Instrument) Instrument {
	return Instrument{
		Name:         in.Name,
		PurchaseCost: in.PurchaseCost,
		SaleCost:     in.SaleCost,
		LastUpdated:  in.LastUpdated,
	}
}

func toOperation(login string, o db.Operation) Operation {
	return Operation{
		ID:           o.ID,
		Login:        login,
		Instrument:   o.InstrumentName,
		Type:         OperationType(o.Type),
		Amount:       o.Amount,
		PurchaseCost: o.PurchaseCost,
		SaleCost:     o.SaleCost,
		CreatedAt:    o.CreatedAt,
	}
}
