package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Operation types accepted by the operations table.
const (
	OperationPurchase = "purchase"
	OperationSale     = "sale"
)

// User is a registered trader with a cash balance in cents.
type User struct {
	ID        int64
	Login     string
	Balance   int64
	CreatedAt time.Time
}

// Instrument is a tradable crypto-asset with buy/sell costs in cents.
type Instrument struct {
	ID           int64
	Name         string
	PurchaseCost int64
	SaleCost     int64
	LastUpdated  time.Time
}

// Position is the amount of one instrument held by one user.
type Position struct {
	UserID         int64
	InstrumentID   int64
	InstrumentName string
	Amount         int64
}

// Operation is an immutable purchase/sale record with the costs in effect at execution.
type Operation struct {
	ID             int64
	UserID         int64
	InstrumentID   int64
	InstrumentName string
	Type           string
	Amount         int64
	PurchaseCost   int64
	SaleCost       int64
	CreatedAt      time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs ledger queries against a database handle or a transaction.
type Queries struct {
	q querier
}

// ----------------------------------------
// User Queries
// ----------------------------------------

// CreateUser inserts a new user row and returns it with its ID.
func (q *Queries) CreateUser(ctx context.Context, u User) (User, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO users (login, balance, created_at)
		VALUES (?, ?, ?)
	`, u.Login, u.Balance, u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", translate(err))
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return User{}, fmt.Errorf("user id: %w", err)
	}
	return u, nil
}

// ListUsers returns all users in registration order.
func (q *Queries) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, login, balance, created_at
		FROM users
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Login, &u.Balance, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUserByLogin returns a user or ErrNotFound.
func (q *Queries) GetUserByLogin(ctx context.Context, login string) (User, error) {
	var u User
	err := q.q.QueryRowContext(ctx, `
		SELECT id, login, balance, created_at
		FROM users WHERE login = ?
	`, login).Scan(&u.ID, &u.Login, &u.Balance, &u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("query user %q: %w", login, translate(err))
	}
	return u, nil
}

// UpdateUserBalance overwrites a user's balance.
func (q *Queries) UpdateUserBalance(ctx context.Context, userID, balance int64) error {
	_, err := q.q.ExecContext(ctx, `UPDATE users SET balance = ? WHERE id = ?`, balance, userID)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

// ----------------------------------------
// Instrument Queries
// ----------------------------------------

// CreateInstrument inserts a new instrument row and returns it with its ID.
func (q *Queries) CreateInstrument(ctx context.Context, in Instrument) (Instrument, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO instruments (name, purchase_cost, sale_cost, last_updated)
		VALUES (?, ?, ?, ?)
	`, in.Name, in.PurchaseCost, in.SaleCost, in.LastUpdated)
	if err != nil {
		return Instrument{}, fmt.Errorf("insert instrument: %w", translate(err))
	}
	if in.ID, err = res.LastInsertId(); err != nil {
		return Instrument{}, fmt.Errorf("instrument id: %w", err)
	}
	return in, nil
}

// GetInstrumentByName returns an instrument or ErrNotFound.
func (q *Queries) GetInstrumentByName(ctx context.Context, name string) (Instrument, error) {
	var in Instrument
	err := q.q.QueryRowContext(ctx, `
		SELECT id, name, purchase_cost, sale_cost, last_updated
		FROM instruments WHERE name = ?
	`, name).Scan(&in.ID, &in.Name, &in.PurchaseCost, &in.SaleCost, &in.LastUpdated)
	if err != nil {
		return Instrument{}, fmt.Errorf("query instrument %q: %w", name, translate(err))
	}
	return in, nil
}

// UpdateInstrumentCosts overwrites both costs and stamps last_updated.
func (q *Queries) UpdateInstrumentCosts(ctx context.Context, id, purchaseCost, saleCost int64, at time.Time) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE instruments
		SET purchase_cost = ?, sale_cost = ?, last_updated = ?
		WHERE id = ?
	`, purchaseCost, saleCost, at, id)
	if err != nil {
		return fmt.Errorf("update instrument costs: %w", err)
	}
	return nil
}

// ListInstruments returns all instruments in creation order.
func (q *Queries) ListInstruments(ctx context.Context) ([]Instrument, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, name, purchase_cost, sale_cost, last_updated
		FROM instruments
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query instruments: %w", err)
	}
	defer rows.Close()

	var res []Instrument
	for rows.Next() {
		var in Instrument
		if err := rows.Scan(&in.ID, &in.Name, &in.PurchaseCost, &in.SaleCost, &in.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Position Queries
// ----------------------------------------

// GetPosition returns the user's position in an instrument or ErrNotFound.
func (q *Queries) GetPosition(ctx context.Context, userID, instrumentID int64) (Position, error) {
	var p Position
	err := q.q.QueryRowContext(ctx, `
		SELECT p.user_id, p.instrument_id, i.name, p.amount
		FROM positions p
		JOIN instruments i ON i.id = p.instrument_id
		WHERE p.user_id = ? AND p.instrument_id = ?
	`, userID, instrumentID).Scan(&p.UserID, &p.InstrumentID, &p.InstrumentName, &p.Amount)
	if err != nil {
		return Position{}, fmt.Errorf("query position: %w", translate(err))
	}
	return p, nil
}

// CreatePosition inserts the first position row for a (user, instrument) pair.
func (q *Queries) CreatePosition(ctx context.Context, userID, instrumentID, amount int64) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO positions (user_id, instrument_id, amount)
		VALUES (?, ?, ?)
	`, userID, instrumentID, amount)
	if err != nil {
		return fmt.Errorf("insert position: %w", translate(err))
	}
	return nil
}

// UpdatePositionAmount overwrites the held amount.
func (q *Queries) UpdatePositionAmount(ctx context.Context, userID, instrumentID, amount int64) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE positions SET amount = ?
		WHERE user_id = ? AND instrument_id = ?
	`, amount, userID, instrumentID)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	return nil
}

// ListPositionsByUser returns every position the user has ever opened.
func (q *Queries) ListPositionsByUser(ctx context.Context, userID int64) ([]Position, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT p.user_id, p.instrument_id, i.name, p.amount
		FROM positions p
		JOIN instruments i ON i.id = p.instrument_id
		WHERE p.user_id = ?
		ORDER BY p.instrument_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.UserID, &p.InstrumentID, &p.InstrumentName, &p.Amount); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ----------------------------------------
// Operation Queries
// ----------------------------------------

// CreateOperation appends an operation record. The position row must already exist.
func (q *Queries) CreateOperation(ctx context.Context, o Operation) (Operation, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO operations (
			user_id, instrument_id, operation_type, amount, purchase_cost, sale_cost, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, o.UserID, o.InstrumentID, o.Type, o.Amount, o.PurchaseCost, o.SaleCost, o.CreatedAt)
	if err != nil {
		return Operation{}, fmt.Errorf("insert operation: %w", err)
	}
	if o.ID, err = res.LastInsertId(); err != nil {
		return Operation{}, fmt.Errorf("operation id: %w", err)
	}
	return o, nil
}

// ListOperationsByUser returns the user's operations, oldest first.
func (q *Queries) ListOperationsByUser(ctx context.Context, userID int64) ([]Operation, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT o.id, o.user_id, o.instrument_id, i.name, o.operation_type,
		       o.amount, o.purchase_cost, o.sale_cost, o.created_at
		FROM operations o
		JOIN instruments i ON i.id = o.instrument_id
		WHERE o.user_id = ?
		ORDER BY o.created_at, o.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var o Operation
		if err := rows.Scan(&o.ID, &o.UserID, &o.InstrumentID, &o.InstrumentName, &o.Type,
			&o.Amount, &o.PurchaseCost, &o.SaleCost, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, o)
	}
	return ops, rows.Err()
}

// ----------------------------------------
// Event Log Queries
// ----------------------------------------

// EventLogEntry is one journaled bus event. Payload holds the event's JSON body.
type EventLogEntry struct {
	ID          int64
	Event       string
	Payload     string
	PublishedAt time.Time
}

// InsertEventLog appends a journal entry.
func (q *Queries) InsertEventLog(ctx context.Context, e EventLogEntry) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO event_log (event, payload, published_at) VALUES (?, ?, ?)
	`, e.Event, e.Payload, e.PublishedAt)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// ListEventLog returns up to limit journal entries, newest first. An empty
// event matches every event type.
func (q *Queries) ListEventLog(ctx context.Context, event string, limit int) ([]EventLogEntry, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, event, payload, published_at
		FROM event_log
		WHERE ? = '' OR event = ?
		ORDER BY id DESC
		LIMIT ?
	`, event, event, limit)
	if err != nil {
		return nil, fmt.Errorf("query event log: %w", err)
	}
	defer rows.Close()

	var res []EventLogEntry
	for rows.Next() {
		var e EventLogEntry
		if err := rows.Scan(&e.ID, &e.Event, &e.Payload, &e.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan event log: %w", err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
