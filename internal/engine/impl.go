package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"crypto-market/internal/events"
	"crypto-market/internal/monitor"
	"crypto-market/pkg/db"
)

const (
	DefaultRefreshInterval = 10 * time.Second
	DefaultBalance         = 100000
)

// Impl implements Service on top of the SQLite ledger.
type Impl struct {
	db      *db.Database
	bus     *events.Bus
	metrics *monitor.SystemMetrics
	log     logrus.FieldLogger

	refreshInterval time.Duration
	defaultBalance  int64
	now             func() time.Time
}

// Config holds the configuration for creating an engine implementation.
type Config struct {
	DB      *db.Database
	Bus     *events.Bus            // optional
	Metrics *monitor.SystemMetrics // optional
	Logger  logrus.FieldLogger     // optional

	// RefreshInterval is how long a price snapshot stays valid (default 10s).
	RefreshInterval time.Duration
	// DefaultBalance is the starting balance of new users in cents (default 100000).
	DefaultBalance int64
	// Clock stamps instrument updates and operations (default time.Now).
	Clock func() time.Time
}

// NewImpl creates a new engine implementation.
func NewImpl(cfg Config) *Impl {
	e := &Impl{
		db:              cfg.DB,
		bus:             cfg.Bus,
		metrics:         cfg.Metrics,
		log:             cfg.Logger,
		refreshInterval: cfg.RefreshInterval,
		defaultBalance:  cfg.DefaultBalance,
		now:             cfg.Clock,
	}
	if e.metrics == nil {
		e.metrics = monitor.NewSystemMetrics()
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	if e.refreshInterval <= 0 {
		e.refreshInterval = DefaultRefreshInterval
	}
	if e.defaultBalance <= 0 {
		e.defaultBalance = DefaultBalance
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// withTx runs fn as one unit of work. Engine errors raised inside fn pass through
// unchanged; anything else is a persistence failure and becomes KindStorage.
func (e *Impl) withTx(ctx context.Context, op string, fn func(q *db.Queries) error) error {
	err := e.db.WithTx(ctx, fn)
	if err == nil {
		return nil
	}
	var engErr *Error
	if errors.As(err, &engErr) {
		return err
	}
	e.log.WithError(err).WithField("op", op).Error("ledger transaction failed")
	return &Error{Kind: KindStorage, Msg: op, Err: err}
}

func (e *Impl) clock() time.Time {
	return e.now().UTC()
}

// --- Users ---

func (e *Impl) RegisterUser(ctx context.Context, login string) error {
	if strings.TrimSpace(login) == "" {
		return newError(KindConflict, "login must not be empty")
	}

	err := e.withTx(ctx, "register user", func(q *db.Queries) error {
		_, err := q.CreateUser(ctx, db.User{
			Login:     login,
			Balance:   e.defaultBalance,
			CreatedAt: e.clock(),
		})
		if errors.Is(err, db.ErrConflict) {
			return newError(KindConflict, "login %q is already taken", login)
		}
		return err
	})
	if err != nil {
		return err
	}

	e.log.WithField("login", login).Info("user registered")
	e.bus.Publish(events.EventUserRegistered, User{Login: login, Balance: e.defaultBalance})
	return nil
}

func (e *Impl) ListUsers(ctx context.Context) ([]User, error) {
	var res []User
	err := e.withTx(ctx, "list users", func(q *db.Queries) error {
		users, err := q.ListUsers(ctx)
		if err != nil {
			return err
		}
		res = make([]User, 0, len(users))
		for _, u := range users {
			res = append(res, User{Login: u.Login, Balance: u.Balance})
		}
		return nil
	})
	return res, err
}

func (e *Impl) GetBalance(ctx context.Context, login string) (int64, error) {
	var balance int64
	err := e.withTx(ctx, "get balance", func(q *db.Queries) error {
		u, err := lookupUser(ctx, q, login)
		if err != nil {
			return err
		}
		balance = u.Balance
		return nil
	})
	return balance, err
}

func (e *Impl) GetPortfolio(ctx context.Context, login string) ([]Position, error) {
	var res []Position
	err := e.withTx(ctx, "get portfolio", func(q *db.Queries) error {
		u, err := lookupUser(ctx, q, login)
		if err != nil {
			return err
		}
		positions, err := q.ListPositionsByUser(ctx, u.ID)
		if err != nil {
			return err
		}
		res = make([]Position, 0, len(positions))
		for _, p := range positions {
			res = append(res, Position{Instrument: p.InstrumentName, Amount: p.Amount})
		}
		return nil
	})
	return res, err
}

// --- Instruments ---

func (e *Impl) AddInstrument(ctx context.Context, name string, purchaseCost, saleCost int64) error {
	if strings.TrimSpace(name) == "" {
		return newError(KindValidation, "instrument name must not be empty")
	}
	if err := validateCosts(purchaseCost, saleCost); err != nil {
		return err
	}

	var created db.Instrument
	err := e.withTx(ctx, "add instrument", func(q *db.Queries) error {
		in, err := q.CreateInstrument(ctx, db.Instrument{
			Name:         name,
			PurchaseCost: purchaseCost,
			SaleCost:     saleCost,
			LastUpdated:  e.clock(),
		})
		if errors.Is(err, db.ErrConflict) {
			return newError(KindValidation, "instrument %q already exists", name)
		}
		created = in
		return err
	})
	if err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"instrument":    name,
		"purchase_cost": purchaseCost,
		"sale_cost":     saleCost,
	}).Info("instrument added")
	e.bus.Publish(events.EventInstrumentAdded, toInstrument(created))
	return nil
}

func (e *Impl) UpdateInstrumentCosts(ctx context.Context, name string, purchaseCost, saleCost int64) error {
	if err := validateCosts(purchaseCost, saleCost); err != nil {
		return err
	}

	var updated db.Instrument
	err := e.withTx(ctx, "update instrument costs", func(q *db.Queries) error {
		in, err := lookupInstrument(ctx, q, name)
		if err != nil {
			return err
		}
		in.PurchaseCost, in.SaleCost, in.LastUpdated = purchaseCost, saleCost, e.clock()
		if err := q.UpdateInstrumentCosts(ctx, in.ID, in.PurchaseCost, in.SaleCost, in.LastUpdated); err != nil {
			return err
		}
		updated = in
		return nil
	})
	if err != nil {
		return err
	}

	e.bus.Publish(events.EventPriceUpdated, toInstrument(updated))
	return nil
}

func (e *Impl) ListInstruments(ctx context.Context) ([]Instrument, error) {
	var res []Instrument
	err := e.withTx(ctx, "list instruments", func(q *db.Queries) error {
		instruments, err := q.ListInstruments(ctx)
		if err != nil {
			return err
		}
		res = make([]Instrument, 0, len(instruments))
		for _, in := range instruments {
			res = append(res, toInstrument(in))
		}
		return nil
	})
	return res, err
}

// --- Operations ---

func (e *Impl) ExecuteOperation(ctx context.Context, req OperationRequest) (Operation, error) {
	timer := monitor.NewTimer(e.metrics.TradeLatency)
	defer timer.Stop()

	op, err := e.executeOperation(ctx, req)
	if err != nil {
		e.metrics.IncrementRejected()
		e.log.WithFields(logrus.Fields{
			"login":      req.Login,
			"instrument": req.Instrument,
			"type":       req.Type,
			"amount":     req.Amount,
		}).WithError(err).Warn("operation rejected")
		return Operation{}, err
	}

	e.metrics.IncrementOperations()
	e.log.WithFields(logrus.Fields{
		"login":      op.Login,
		"instrument": op.Instrument,
		"type":       op.Type,
		"amount":     op.Amount,
	}).Info("operation executed")
	e.bus.Publish(events.EventOperationExecuted, op)
	return op, nil
}

func (e *Impl) executeOperation(ctx context.Context, req OperationRequest) (Operation, error) {
	if req.Amount <= 0 {
		return Operation{}, newError(KindValidation, "amount must be positive")
	}
	asOf, err := ParseQuoteTime(req.Time)
	if err != nil {
		return Operation{}, err
	}

	var res Operation
	err = e.withTx(ctx, "execute operation", func(q *db.Queries) error {
		in, err := lookupInstrument(ctx, q, req.Instrument)
		if err != nil {
			return err
		}
		if isStale(asOf, in.LastUpdated, e.refreshInterval) {
			return newError(KindStaleQuote, "exchange rate of %q has been updated", in.Name)
		}
		u, err := lookupUser(ctx, q, req.Login)
		if err != nil {
			return err
		}

		var rec db.Operation
		switch OperationType(req.Type) {
		case Purchase:
			rec, err = e.purchase(ctx, q, u, in, req.Amount)
		case Sale:
			rec, err = e.sale(ctx, q, u, in, req.Amount)
		default:
			return newError(KindValidation, "wrong operation type %q", req.Type)
		}
		if err != nil {
			return err
		}
		res = toOperation(u.Login, rec)
		return nil
	})
	return res, err
}

// purchase debits the user, opens or grows the position, then records the operation.
// The position row must exist before the operation row references it.
func (e *Impl) purchase(ctx context.Context, q *db.Queries, u db.User, in db.Instrument, amount int64) (db.Operation, error) {
	cost, ok := mulCents(in.PurchaseCost, amount)
	if !ok || u.Balance < cost {
		return db.Operation{}, newError(KindInsufficientFunds, "not enough money to purchase")
	}
	if err := q.UpdateUserBalance(ctx, u.ID, u.Balance-cost); err != nil {
		return db.Operation{}, err
	}

	pos, err := q.GetPosition(ctx, u.ID, in.ID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		err = q.CreatePosition(ctx, u.ID, in.ID, amount)
	case err == nil:
		err = q.UpdatePositionAmount(ctx, u.ID, in.ID, pos.Amount+amount)
	}
	if err != nil {
		return db.Operation{}, err
	}

	return e.record(ctx, q, u, in, Purchase, amount)
}

// sale credits the user, shrinks the position, then records the operation.
func (e *Impl) sale(ctx context.Context, q *db.Queries, u db.User, in db.Instrument, amount int64) (db.Operation, error) {
	pos, err := q.GetPosition(ctx, u.ID, in.ID)
	if errors.Is(err, db.ErrNotFound) {
		return db.Operation{}, newError(KindInsufficientHoldings, "not enough crypto to sale")
	}
	if err != nil {
		return db.Operation{}, err
	}
	if pos.Amount < amount {
		return db.Operation{}, newError(KindInsufficientHoldings, "not enough crypto to sale")
	}

	proceeds, ok := mulCents(in.SaleCost, amount)
	if !ok || u.Balance > math.MaxInt64-proceeds {
		return db.Operation{}, newError(KindValidation, "sale proceeds overflow balance")
	}
	if err := q.UpdateUserBalance(ctx, u.ID, u.Balance+proceeds); err != nil {
		return db.Operation{}, err
	}
	if err := q.UpdatePositionAmount(ctx, u.ID, in.ID, pos.Amount-amount); err != nil {
		return db.Operation{}, err
	}

	return e.record(ctx, q, u, in, Sale, amount)
}

func (e *Impl) record(ctx context.Context, q *db.Queries, u db.User, in db.Instrument, typ OperationType, amount int64) (db.Operation, error) {
	rec, err := q.CreateOperation(ctx, db.Operation{
		UserID:       u.ID,
		InstrumentID: in.ID,
		Type:         string(typ),
		Amount:       amount,
		PurchaseCost: in.PurchaseCost,
		SaleCost:     in.SaleCost,
		CreatedAt:    e.clock(),
	})
	if err != nil {
		return db.Operation{}, err
	}
	rec.InstrumentName = in.Name
	return rec, nil
}

func (e *Impl) ListOperations(ctx context.Context, login string) ([]Operation, error) {
	var res []Operation
	err := e.withTx(ctx, "list operations", func(q *db.Queries) error {
		u, err := lookupUser(ctx, q, login)
		if err != nil {
			return err
		}
		ops, err := q.ListOperationsByUser(ctx, u.ID)
		if err != nil {
			return err
		}
		res = make([]Operation, 0, len(ops))
		for _, o := range ops {
			res = append(res, toOperation(u.Login, o))
		}
		return nil
	})
	return res, err
}

// ClearAll wipes the ledger. It is not part of Service; only the clear-db command uses it.
func (e *Impl) ClearAll(ctx context.Context) error {
	if err := e.withTx(ctx, "clear ledger", func(q *db.Queries) error {
		return q.ClearAll(ctx)
	}); err != nil {
		return err
	}
	e.log.Info("ledger cleared")
	return nil
}

// --- helpers ---

func lookupUser(ctx context.Context, q *db.Queries, login string) (db.User, error) {
	u, err := q.GetUserByLogin(ctx, login)
	if errors.Is(err, db.ErrNotFound) {
		return db.User{}, newError(KindNotFound, "user %q not found", login)
	}
	return u, err
}

func lookupInstrument(ctx context.Context, q *db.Queries, name string) (db.Instrument, error) {
	in, err := q.GetInstrumentByName(ctx, name)
	if errors.Is(err, db.ErrNotFound) {
		return db.Instrument{}, newError(KindNotFound, "instrument %q not found", name)
	}
	return in, err
}

func validateCosts(purchaseCost, saleCost int64) error {
	if purchaseCost <= 0 || saleCost <= 0 {
		return newError(KindValidation, "costs must be positive")
	}
	return nil
}

// mulCents multiplies a unit cost by an amount, reporting false on int64 overflow.
func mulCents(cost, amount int64) (int64, bool) {
	if cost <= 0 || amount <= 0 {
		return 0, false
	}
	if amount > math.MaxInt64/cost {
		return 0, false
	}
	return cost * amount, true
}
