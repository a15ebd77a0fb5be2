package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crypto-market/internal/engine"
	"crypto-market/internal/monitor"
	"crypto-market/pkg/cache"
	"crypto-market/pkg/money"

	"github.com/gin-gonic/gin"
)

type balanceResponse struct {
	Login   string `json:"login"`
	Balance int64  `json:"balance"`
	Display string `json:"display"`
}

// queryInt reads a required integer query parameter. It writes a 400 and
// returns false when the value is missing or not an integer.
func queryInt(c *gin.Context, key string) (int64, bool) {
	raw := c.Query(key)
	if raw == "" {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", key+" is required")
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", key+" must be an integer")
		return 0, false
	}
	return v, true
}

// --- Users ---

func (s *Server) listUsers(c *gin.Context) {
	users, err := s.Engine.ListUsers(c.Request.Context())
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	if users == nil {
		users = []engine.User{}
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) registerUser(c *gin.Context) {
	login := c.Query("login")
	if err := s.Engine.RegisterUser(c.Request.Context(), login); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"login": login})
}

func (s *Server) getBalance(c *gin.Context) {
	login := c.Param("login")
	balance, err := s.Engine.GetBalance(c.Request.Context(), login)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse{
		Login:   login,
		Balance: balance,
		Display: money.Format(balance, s.Currency),
	})
}

func (s *Server) getPortfolio(c *gin.Context) {
	positions, err := s.Engine.GetPortfolio(c.Request.Context(), c.Param("login"))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	if positions == nil {
		positions = []engine.Position{}
	}
	c.JSON(http.StatusOK, positions)
}

// --- Operations ---

func (s *Server) listOperations(c *gin.Context) {
	ops, err := s.Engine.ListOperations(c.Request.Context(), c.Param("login"))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	if ops == nil {
		ops = []engine.Operation{}
	}
	c.JSON(http.StatusOK, ops)
}

func (s *Server) executeOperation(c *gin.Context) {
	amount, ok := queryInt(c, "amount")
	if !ok {
		return
	}

	op, err := s.Engine.ExecuteOperation(c.Request.Context(), engine.OperationRequest{
		Login:      c.Param("login"),
		Instrument: c.Query("crypto_name"),
		Type:       c.Query("operation_type"),
		Amount:     amount,
		Time:       c.Query("time"),
	})
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, op)
}

// --- Instruments ---

func (s *Server) listInstruments(c *gin.Context) {
	instruments, err := s.Engine.ListInstruments(c.Request.Context())
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	if instruments == nil {
		instruments = []engine.Instrument{}
	}
	c.JSON(http.StatusOK, instruments)
}

func (s *Server) addInstrument(c *gin.Context) {
	purchase, ok := queryInt(c, "purchase_cost")
	if !ok {
		return
	}
	sale, ok := queryInt(c, "sale_cost")
	if !ok {
		return
	}

	name := c.Query("crypto_name")
	if err := s.Engine.AddInstrument(c.Request.Context(), name, purchase, sale); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"name":          name,
		"purchase_cost": purchase,
		"sale_cost":     sale,
	})
}

func (s *Server) updateInstrumentCosts(c *gin.Context) {
	purchase, ok := queryInt(c, "purchase_cost")
	if !ok {
		return
	}
	sale, ok := queryInt(c, "sale_cost")
	if !ok {
		return
	}

	name := c.Param("name")
	if err := s.Engine.UpdateInstrumentCosts(c.Request.Context(), name, purchase, sale); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":          name,
		"purchase_cost": purchase,
		"sale_cost":     sale,
	})
}

// --- Event journal ---

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type eventResponse struct {
	ID          int64           `json:"id"`
	Event       string          `json:"event"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

// listEvents returns the newest journaled events, optionally filtered by ?event=.
func (s *Server) listEvents(c *gin.Context) {
	if s.Journal == nil {
		respondError(c, http.StatusServiceUnavailable, "JOURNAL_UNAVAILABLE", "event journal not available")
		return
	}

	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	entries, err := s.Journal.Recent(c.Request.Context(), c.Query("event"), limit)
	if err != nil {
		s.Log.WithError(err).Error("read event journal failed")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	res := make([]eventResponse, 0, len(entries))
	for _, e := range entries {
		res = append(res, eventResponse{
			ID:          e.ID,
			Event:       e.Event,
			Payload:     json.RawMessage(e.Payload),
			PublishedAt: e.PublishedAt,
		})
	}
	c.JSON(http.StatusOK, res)
}

// --- Metrics ---

type metricsResponse struct {
	monitor.MetricsSnapshot
	RateLimitBuckets cache.Stats `json:"rate_limit_buckets"`
}

// getMetrics returns system performance metrics.
func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	c.JSON(http.StatusOK, metricsResponse{
		MetricsSnapshot:  s.Metrics.GetSnapshot(),
		RateLimitBuckets: s.limiters.buckets.Stats(),
	})
}

// getPromMetrics returns a minimal Prometheus text exposition of key metrics.
func (s *Server) getPromMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.String(http.StatusServiceUnavailable, "# metrics not available\n")
		return
	}
	snapshot := s.Metrics.GetSnapshot()

	var b strings.Builder
	// Counters
	fmt.Fprintf(&b, "market_api_requests_total %d\n", snapshot.APIRequests)
	fmt.Fprintf(&b, "market_api_errors_total %d\n", snapshot.APIErrors)
	fmt.Fprintf(&b, "market_operations_executed_total %d\n", snapshot.OperationsExecuted)
	fmt.Fprintf(&b, "market_operations_rejected_total %d\n", snapshot.OperationsRejected)
	fmt.Fprintf(&b, "market_drift_iterations_total %d\n", snapshot.DriftIterations)
	fmt.Fprintf(&b, "market_drift_failures_total %d\n", snapshot.DriftFailures)

	// Gauges for latency (ms)
	writeLatency := func(prefix string, ls monitor.LatencyStats) {
		if ls.Count == 0 {
			return
		}
		fmt.Fprintf(&b, "market_%s_latency_ms_avg %f\n", prefix, ls.Avg)
		fmt.Fprintf(&b, "market_%s_latency_ms_p50 %f\n", prefix, ls.P50)
		fmt.Fprintf(&b, "market_%s_latency_ms_p95 %f\n", prefix, ls.P95)
		fmt.Fprintf(&b, "market_%s_latency_ms_p99 %f\n", prefix, ls.P99)
	}
	writeLatency("api", snapshot.APILatency)
	writeLatency("trade", snapshot.TradeLatency)
	writeLatency("drift", snapshot.DriftLatency)

	fmt.Fprintf(&b, "market_goroutines %d\n", snapshot.GoroutineCount)
	fmt.Fprintf(&b, "market_heap_alloc_bytes %d\n", snapshot.HeapAlloc)
	if s.Bus != nil {
		fmt.Fprintf(&b, "market_events_dropped_total %d\n", s.Bus.Dropped())
	}
	fmt.Fprintf(&b, "market_rate_limit_buckets %d\n", s.limiters.buckets.Len())

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.String(http.StatusOK, b.String())
}
