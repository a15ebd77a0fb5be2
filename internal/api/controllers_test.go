package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"crypto-market/internal/engine"
	"crypto-market/internal/events"
	"crypto-market/internal/monitor"
	"crypto-market/internal/persistence"
	"crypto-market/pkg/db"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	ts       *httptest.Server
	client   *http.Client
	database *db.Database
	bus      *events.Bus
	metrics  *monitor.SystemMetrics
	clock    *testClock
}

func newTestAPIServer(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()
	clock := &testClock{now: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)}

	eng := engine.NewImpl(engine.Config{
		DB:              database,
		Bus:             bus,
		Metrics:         metrics,
		Logger:          logger,
		RefreshInterval: 10 * time.Second,
		DefaultBalance:  100000,
		Clock:           clock.Now,
	})

	journal := persistence.NewJournal(database, logger, 1, time.Hour)

	server := NewServer(Config{
		Engine:         eng,
		Bus:            bus,
		Metrics:        metrics,
		Logger:         logger,
		Currency:       "USD",
		Journal:        journal,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	})

	httpServer := httptest.NewServer(server.Router)
	t.Cleanup(func() {
		httpServer.Close()
		_ = database.Close()
	})

	// Registered last so it stops before the database is closed.
	ctx, cancel := context.WithCancel(context.Background())
	journalDone := journal.Run(ctx, bus)
	t.Cleanup(func() {
		cancel()
		<-journalDone
	})

	return &testEnv{
		ts:       httpServer,
		client:   httpServer.Client(),
		database: database,
		bus:      bus,
		metrics:  metrics,
		clock:    clock,
	}
}

// do sends a request with query parameters and decodes the JSON response into out.
func (e *testEnv) do(t *testing.T, method, path string, query url.Values, out any) int {
	t.Helper()

	u := e.ts.URL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) quoteTime(offset time.Duration) string {
	return engine.FormatQuoteTime(e.clock.Now().Add(offset))
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func (e *testEnv) register(t *testing.T, login string) {
	t.Helper()
	if status := e.do(t, http.MethodPost, "/users", url.Values{"login": {login}}, nil); status != http.StatusCreated {
		t.Fatalf("register %s: status %d", login, status)
	}
}

func (e *testEnv) addInstrument(t *testing.T, name string, purchase, sale string) {
	t.Helper()
	q := url.Values{"crypto_name": {name}, "purchase_cost": {purchase}, "sale_cost": {sale}}
	if status := e.do(t, http.MethodPost, "/crypto", q, nil); status != http.StatusCreated {
		t.Fatalf("add instrument %s: status %d", name, status)
	}
}

func (e *testEnv) trade(t *testing.T, login, name, typ, amount, at string, out any) int {
	t.Helper()
	q := url.Values{"crypto_name": {name}, "operation_type": {typ}, "amount": {amount}, "time": {at}}
	return e.do(t, http.MethodPost, "/users/"+login+"/operations", q, out)
}

func TestHealth(t *testing.T) {
	env := newTestAPIServer(t)

	var resp map[string]string
	if status := env.do(t, http.MethodGet, "/health", nil, &resp); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp["status"] != "ok" {
		t.Fatalf("unexpected body %v", resp)
	}
}

func TestRegisterAndBalance(t *testing.T) {
	env := newTestAPIServer(t)
	env.register(t, "Annet")

	var bal balanceResponse
	if status := env.do(t, http.MethodGet, "/users/Annet/balance", nil, &bal); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if bal.Balance != 100000 || bal.Display != "$1,000.00" {
		t.Fatalf("unexpected balance %+v", bal)
	}

	var users []engine.User
	env.do(t, http.MethodGet, "/users", nil, &users)
	if len(users) != 1 || users[0].Login != "Annet" {
		t.Fatalf("unexpected users %+v", users)
	}
}

func TestRegisterConflicts(t *testing.T) {
	env := newTestAPIServer(t)
	env.register(t, "Annet")

	tests := []struct {
		name  string
		login string
	}{
		{name: "duplicate", login: "Annet"},
		{name: "empty", login: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp errorResponse
			status := env.do(t, http.MethodPost, "/users", url.Values{"login": {tt.login}}, &resp)
			if status != http.StatusConflict {
				t.Fatalf("expected 409, got %d", status)
			}
			if resp.Code != "CONFLICT" {
				t.Fatalf("expected code CONFLICT, got %s", resp.Code)
			}
		})
	}
}

func TestUnknownUserIs404(t *testing.T) {
	env := newTestAPIServer(t)

	for _, path := range []string{"/users/ghost/balance", "/users/ghost/portfolio", "/users/ghost/operations"} {
		var resp errorResponse
		if status := env.do(t, http.MethodGet, path, nil, &resp); status != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, status)
		}
		if resp.Code != "NOT_FOUND" {
			t.Errorf("%s: expected code NOT_FOUND, got %s", path, resp.Code)
		}
	}
}

func TestPurchaseFlow(t *testing.T) {
	env := newTestAPIServer(t)
	env.register(t, "Annet")
	env.addInstrument(t, "Favicoin", "200", "100")

	var op engine.Operation
	status := env.trade(t, "Annet", "Favicoin", "purchase", "10", env.quoteTime(5*time.Second), &op)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	if op.Instrument != "Favicoin" || op.Type != engine.Purchase || op.Amount != 10 || op.PurchaseCost != 200 {
		t.Fatalf("unexpected operation %+v", op)
	}

	var bal balanceResponse
	env.do(t, http.MethodGet, "/users/Annet/balance", nil, &bal)
	if bal.Balance != 98000 {
		t.Fatalf("expected balance 98000, got %d", bal.Balance)
	}

	var portfolio []engine.Position
	env.do(t, http.MethodGet, "/users/Annet/portfolio", nil, &portfolio)
	if len(portfolio) != 1 || portfolio[0] != (engine.Position{Instrument: "Favicoin", Amount: 10}) {
		t.Fatalf("unexpected portfolio %+v", portfolio)
	}

	var ops []engine.Operation
	env.do(t, http.MethodGet, "/users/Annet/operations", nil, &ops)
	if len(ops) != 1 || ops[0].ID != op.ID {
		t.Fatalf("unexpected operations %+v", ops)
	}

	if got := env.metrics.GetSnapshot().OperationsExecuted; got != 1 {
		t.Fatalf("expected 1 executed operation in metrics, got %d", got)
	}
}

func TestOperationErrorMapping(t *testing.T) {
	env := newTestAPIServer(t)
	env.register(t, "Annet")
	env.addInstrument(t, "Favicoin", "200", "100")

	tests := []struct {
		name       string
		login      string
		instrument string
		typ        string
		amount     string
		at         string
		wantStatus int
		wantCode   string
	}{
		{"non-integer amount", "Annet", "Favicoin", "purchase", "ten", env.quoteTime(0), http.StatusBadRequest, "INVALID_REQUEST"},
		{"zero amount", "Annet", "Favicoin", "purchase", "0", env.quoteTime(0), http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad time", "Annet", "Favicoin", "purchase", "1", "yesterday", http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad type", "Annet", "Favicoin", "gift", "1", env.quoteTime(0), http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown instrument", "Annet", "Nocoin", "purchase", "1", env.quoteTime(0), http.StatusNotFound, "NOT_FOUND"},
		{"unknown user", "ghost", "Favicoin", "purchase", "1", env.quoteTime(0), http.StatusNotFound, "NOT_FOUND"},
		{"stale quote", "Annet", "Favicoin", "purchase", "1", env.quoteTime(10 * time.Second), http.StatusBadRequest, "STALE_QUOTE"},
		{"insufficient funds", "Annet", "Favicoin", "purchase", "501", env.quoteTime(0), http.StatusBadRequest, "INSUFFICIENT_FUNDS"},
		{"insufficient holdings", "Annet", "Favicoin", "sale", "1", env.quoteTime(0), http.StatusBadRequest, "INSUFFICIENT_HOLDINGS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp errorResponse
			status := env.trade(t, tt.login, tt.instrument, tt.typ, tt.amount, tt.at, &resp)
			if status != tt.wantStatus {
				t.Fatalf("expected %d, got %d (%+v)", tt.wantStatus, status, resp)
			}
			if resp.Code != tt.wantCode {
				t.Fatalf("expected code %s, got %s", tt.wantCode, resp.Code)
			}
		})
	}

	var bal balanceResponse
	env.do(t, http.MethodGet, "/users/Annet/balance", nil, &bal)
	if bal.Balance != 100000 {
		t.Fatalf("rejected operations changed the balance: %d", bal.Balance)
	}
}

func TestInstrumentEndpoints(t *testing.T) {
	env := newTestAPIServer(t)
	env.addInstrument(t, "Favicoin", "200", "100")

	var resp errorResponse
	q := url.Values{"crypto_name": {"Favicoin"}, "purchase_cost": {"1"}, "sale_cost": {"1"}}
	if status := env.do(t, http.MethodPost, "/crypto", q, &resp); status != http.StatusBadRequest {
		t.Fatalf("duplicate instrument: expected 400, got %d", status)
	}

	q = url.Values{"crypto_name": {"Zerocoin"}, "purchase_cost": {"0"}, "sale_cost": {"1"}}
	if status := env.do(t, http.MethodPost, "/crypto", q, &resp); status != http.StatusBadRequest {
		t.Fatalf("zero cost: expected 400, got %d", status)
	}

	q = url.Values{"crypto_name": {"Halfcoin"}, "purchase_cost": {"1.5"}, "sale_cost": {"1"}}
	if status := env.do(t, http.MethodPost, "/crypto", q, &resp); status != http.StatusBadRequest {
		t.Fatalf("fractional cost: expected 400, got %d", status)
	}

	env.clock.Advance(time.Minute)
	q = url.Values{"purchase_cost": {"250"}, "sale_cost": {"120"}}
	if status := env.do(t, http.MethodPut, "/crypto/Favicoin", q, nil); status != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", status)
	}
	if status := env.do(t, http.MethodPut, "/crypto/Nocoin", q, &resp); status != http.StatusNotFound {
		t.Fatalf("update unknown: expected 404, got %d", status)
	}

	var instruments []engine.Instrument
	env.do(t, http.MethodGet, "/crypto", nil, &instruments)
	if len(instruments) != 1 {
		t.Fatalf("expected 1 instrument, got %d", len(instruments))
	}
	got := instruments[0]
	if got.PurchaseCost != 250 || got.SaleCost != 120 || !got.LastUpdated.Equal(env.clock.Now()) {
		t.Fatalf("unexpected instrument %+v", got)
	}
}

func TestStorageFailureIs500(t *testing.T) {
	env := newTestAPIServer(t)
	_ = env.database.Close()

	var resp errorResponse
	if status := env.do(t, http.MethodGet, "/users", nil, &resp); status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", status)
	}
	if resp.Code != "INTERNAL_ERROR" || strings.Contains(resp.Error, "sql") {
		t.Fatalf("unexpected error body %+v", resp)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	env := newTestAPIServer(t)
	env.do(t, http.MethodGet, "/health", nil, nil)

	var snap metricsResponse
	if status := env.do(t, http.MethodGet, "/api/metrics", nil, &snap); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if snap.APIRequests < 1 {
		t.Fatalf("expected api requests to be counted, got %d", snap.APIRequests)
	}
	if snap.RateLimitBuckets.TotalItems != 1 {
		t.Fatalf("expected one rate limit bucket for the test client, got %+v", snap.RateLimitBuckets)
	}

	resp, err := env.client.Get(env.ts.URL + "/api/metrics/prom")
	if err != nil {
		t.Fatalf("get prom metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "market_api_requests_total") {
		t.Fatalf("prom output missing counters: %s", body)
	}
	if !strings.Contains(string(body), "market_rate_limit_buckets 1\n") {
		t.Fatalf("prom output missing rate limit gauge: %s", body)
	}
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	r := gin.New()
	r.Use(RateLimitMiddleware(logger, newIPLimiters(1, 2)))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestAPIServer(t)

	resp, err := env.client.Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
}

func TestWebsocketStreamsPriceUpdates(t *testing.T) {
	env := newTestAPIServer(t)
	env.register(t, "Annet")
	env.addInstrument(t, "Favicoin", "200", "100")

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered after the upgrade; retry the trigger until a message arrives.
	received := make(chan events.Message, 1)
	go func() {
		var msg events.Message
		if err := conn.ReadJSON(&msg); err == nil {
			received <- msg
		}
	}()

	deadline := time.After(2 * time.Second)
	q := url.Values{"purchase_cost": {"200"}, "sale_cost": {"100"}}
	for {
		env.do(t, http.MethodPut, "/crypto/Favicoin", q, nil)
		select {
		case msg := <-received:
			if msg.Event != events.EventPriceUpdated {
				t.Fatalf("unexpected event %s", msg.Event)
			}
			return
		case <-deadline:
			t.Fatal("no websocket message received")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestEventJournalEndpoint(t *testing.T) {
	env := newTestAPIServer(t)
	env.register(t, "Annet")
	env.addInstrument(t, "Favicoin", "200", "100")

	type eventEntry struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}

	// The journal writes asynchronously; poll until both events are visible.
	var entries []eventEntry
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries = nil
		if status := env.do(t, http.MethodGet, "/api/events", nil, &entries); status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if len(entries) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 journaled events, got %d", len(entries))
	}
	if entries[0].Event != string(events.EventInstrumentAdded) || entries[1].Event != string(events.EventUserRegistered) {
		t.Fatalf("unexpected order %+v", entries)
	}

	var filtered []eventEntry
	env.do(t, http.MethodGet, "/api/events", url.Values{"event": {string(events.EventUserRegistered)}}, &filtered)
	if len(filtered) != 1 {
		t.Fatalf("expected 1 filtered event, got %d", len(filtered))
	}

	var resp errorResponse
	if status := env.do(t, http.MethodGet, "/api/events", url.Values{"limit": {"0"}}, &resp); status != http.StatusBadRequest {
		t.Fatalf("limit=0: expected 400, got %d", status)
	}
}
