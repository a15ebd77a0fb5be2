// Package market simulates price movement for the instruments in the ledger.
package market

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"crypto-market/internal/engine"
	"crypto-market/internal/monitor"
	"crypto-market/pkg/money"
)

const (
	DefaultInterval   = 10 * time.Second
	DefaultMaxPercent = 10
)

// CostUpdater is the part of engine.Service the drift loop needs.
type CostUpdater interface {
	ListInstruments(ctx context.Context) ([]engine.Instrument, error)
	UpdateInstrumentCosts(ctx context.Context, name string, purchaseCost, saleCost int64) error
}

// RandSource draws the drift offsets. *rand.Rand satisfies it.
type RandSource interface {
	IntN(n int) int
}

// TickerFunc starts a ticker and returns its channel and a stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

// Drifter nudges every instrument's purchase and sale cost by an independent random
// percentage in [-MaxPercent, +MaxPercent] once per Interval. Costs never drop below 1.
type Drifter struct {
	Engine     CostUpdater
	Interval   time.Duration
	MaxPercent int
	Rand       RandSource
	Ticker     TickerFunc
	Metrics    *monitor.SystemMetrics
	Logger     logrus.FieldLogger
}

// Start runs the drift loop in a goroutine until ctx is cancelled. The returned
// channel is closed when the loop has exited.
func (d *Drifter) Start(ctx context.Context) <-chan struct{} {
	d.defaults()
	done := make(chan struct{})

	ticks, stop := d.Ticker(d.Interval)
	go func() {
		defer close(done)
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				d.Step(ctx)
			}
		}
	}()

	d.Logger.WithFields(logrus.Fields{
		"interval":    d.Interval,
		"max_percent": d.MaxPercent,
	}).Info("price drift started")
	return done
}

// Step applies one drift iteration to every instrument. A failure on one
// instrument is logged and does not stop the others.
func (d *Drifter) Step(ctx context.Context) {
	d.defaults()
	timer := monitor.NewTimer(d.Metrics.DriftLatency)
	defer timer.Stop()

	instruments, err := d.Engine.ListInstruments(ctx)
	if err != nil {
		d.Logger.WithError(err).Error("price drift: list instruments")
		d.Metrics.IncrementDriftFailures()
		return
	}

	for _, in := range instruments {
		if ctx.Err() != nil {
			return
		}
		purchase := d.drift(in.PurchaseCost)
		sale := d.drift(in.SaleCost)
		if err := d.Engine.UpdateInstrumentCosts(ctx, in.Name, purchase, sale); err != nil {
			d.Logger.WithError(err).WithField("instrument", in.Name).Error("price drift: update costs")
			d.Metrics.IncrementDriftFailures()
			continue
		}
		d.Logger.WithFields(logrus.Fields{
			"instrument":    in.Name,
			"purchase_cost": purchase,
			"sale_cost":     sale,
		}).Debug("price drifted")
	}
	d.Metrics.IncrementDrift()
}

// drift applies one random offset to cost and clamps the result to at least 1.
func (d *Drifter) drift(cost int64) int64 {
	offset := d.Rand.IntN(2*d.MaxPercent+1) - d.MaxPercent
	return max(money.ApplyPercent(cost, int64(offset)), 1)
}

func (d *Drifter) defaults() {
	if d.Interval <= 0 {
		d.Interval = DefaultInterval
	}
	if d.MaxPercent <= 0 {
		d.MaxPercent = DefaultMaxPercent
	}
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
	if d.Ticker == nil {
		d.Ticker = func(interval time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(interval)
			return t.C, t.Stop
		}
	}
	if d.Metrics == nil {
		d.Metrics = monitor.NewSystemMetrics()
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
}
