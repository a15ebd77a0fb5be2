// Package persistence journals bus events into the ledger database.
package persistence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"crypto-market/internal/events"
	"crypto-market/pkg/db"
)

const (
	DefaultBatchSize     = 50
	DefaultFlushInterval = 500 * time.Millisecond
)

// Topics are the events a Journal records.
var Topics = []events.Event{
	events.EventUserRegistered,
	events.EventInstrumentAdded,
	events.EventPriceUpdated,
	events.EventOperationExecuted,
}

// Journal buffers bus events and writes them to the event_log table, one
// transaction per batch. A batch is flushed when it reaches maxSize entries or
// when the flush interval elapses.
type Journal struct {
	db       *db.Database
	log      logrus.FieldLogger
	maxSize  int
	interval time.Duration

	mu      sync.Mutex
	buffer  []db.EventLogEntry
	metrics JournalMetrics
}

// JournalMetrics provides statistics about batch writes.
type JournalMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewJournal creates a journal. maxSize and interval fall back to defaults when <= 0.
func NewJournal(database *db.Database, log logrus.FieldLogger, maxSize int, interval time.Duration) *Journal {
	if maxSize <= 0 {
		maxSize = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Journal{
		db:       database,
		log:      log,
		maxSize:  maxSize,
		interval: interval,
		buffer:   make([]db.EventLogEntry, 0, maxSize),
	}
}

// Record buffers one event, flushing when the batch is full.
func (j *Journal) Record(ctx context.Context, msg events.Message) error {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		j.mu.Lock()
		j.metrics.TotalErrors++
		j.mu.Unlock()
		return err
	}

	j.mu.Lock()
	j.buffer = append(j.buffer, db.EventLogEntry{
		Event:       string(msg.Event),
		Payload:     string(payload),
		PublishedAt: msg.PublishedAt,
	})
	full := len(j.buffer) >= j.maxSize
	j.mu.Unlock()

	if full {
		return j.Flush(ctx)
	}
	return nil
}

// Flush writes every buffered entry in one transaction. A failed batch is
// dropped and counted in TotalErrors.
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.Lock()
	if len(j.buffer) == 0 {
		j.mu.Unlock()
		return nil
	}
	batch := j.buffer
	j.buffer = make([]db.EventLogEntry, 0, j.maxSize)
	j.mu.Unlock()

	err := j.db.WithTx(ctx, func(q *db.Queries) error {
		for _, e := range batch {
			if err := q.InsertEventLog(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})

	j.mu.Lock()
	defer j.mu.Unlock()
	j.metrics.TotalBatches++
	j.metrics.LastBatchSize = len(batch)
	j.metrics.LastFlushTime = time.Now()
	if err != nil {
		j.metrics.TotalErrors++
		j.log.WithError(err).WithField("entries", len(batch)).Error("journal flush failed")
		return err
	}
	j.metrics.TotalWrites += uint64(len(batch))
	j.log.WithField("entries", len(batch)).Debug("journal flushed")
	return nil
}

// Run subscribes to Topics and journals them until ctx is cancelled, then
// flushes what is left. The returned channel is closed once the final flush is done.
func (j *Journal) Run(ctx context.Context, bus *events.Bus) <-chan struct{} {
	stream, unsub := bus.Subscribe(j.maxSize*4, Topics...)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case msg := <-stream:
				if err := j.Record(ctx, msg); err != nil {
					j.log.WithError(err).WithField("event", msg.Event).Warn("journal record failed")
				}
			case <-ticker.C:
				_ = j.Flush(ctx)
			case <-ctx.Done():
				unsub()
				// Keep what was already delivered.
				for msg := range stream {
					_ = j.Record(context.Background(), msg)
				}
				if err := j.Flush(context.Background()); err != nil {
					j.log.WithError(err).Warn("journal final flush failed")
				}
				return
			}
		}
	}()

	return done
}

// Pending returns the number of buffered entries.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.buffer)
}

// GetMetrics returns the current journal metrics.
func (j *Journal) GetMetrics() JournalMetrics {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.metrics
}

// Recent returns up to limit journaled entries, newest first. An empty event
// matches every event.
func (j *Journal) Recent(ctx context.Context, event string, limit int) ([]db.EventLogEntry, error) {
	return j.db.Queries().ListEventLog(ctx, event, limit)
}
