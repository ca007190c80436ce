package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"accusim/internal/cache"
	"accusim/internal/core"
	"accusim/internal/remote/memory"
)

func newTestClient(t *testing.T, h http.Handler, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	c, err := NewClient(opts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func bounded(start, end time.Time) core.DateRange {
	return core.DateRange{}.SetStart(&start).SetEnd(&end)
}

func TestNewClient_RejectsBadBaseURL(t *testing.T) {
	for _, base := range []string{"", "ftp://example.com", "://bad"} {
		if _, err := NewClient(Options{BaseURL: base}); err == nil {
			t.Errorf("NewClient(%q) should fail", base)
		}
	}
}

func TestClient_URL(t *testing.T) {
	c, err := NewClient(Options{BaseURL: "http://api.local:5000/"})
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)

	tests := []struct {
		name      string
		endpoint  Endpoint
		rng       core.DateRange
		wantPath  string
		wantQuery bool
	}{
		{"unfiltered", EndpointTransactions, core.DateRange{}, "/api/transactions", false},
		{"start only", EndpointAdvisor, core.DateRange{}.SetStart(&start), "/api/advisor", false},
		{"end only", EndpointAudit, core.DateRange{}.SetEnd(&end), "/api/audit", false},
		{"bounded", EndpointIncomeStatement, bounded(start, end), "/api/income-statement", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := c.URL(tt.endpoint, tt.rng)
			u, err := url.Parse(raw)
			if err != nil {
				t.Fatalf("parse %q: %v", raw, err)
			}
			if u.Host != "api.local:5000" || u.Path != tt.wantPath {
				t.Fatalf("URL = %s", raw)
			}
			q := u.Query()
			if !tt.wantQuery {
				if u.RawQuery != "" {
					t.Fatalf("unexpected query in %s", raw)
				}
				return
			}
			if q.Get("startDate") != "2024-01-01T00:00:00.000Z" {
				t.Errorf("startDate = %q", q.Get("startDate"))
			}
			if q.Get("endDate") != "2024-01-31T23:59:59.000Z" {
				t.Errorf("endDate = %q", q.Get("endDate"))
			}
		})
	}
}

func TestClient_TransactionsSkipsMalformedRows(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"_id":"1","type":"revenue","amount":100,"description":"sale","date":"2024-01-01T10:00:00Z"},
			{"_id":"2","type":"refund","amount":5,"description":"?","date":"2024-01-01T10:00:00Z"},
			{"_id":"3","type":"expense","description":"no amount","date":"2024-01-01T10:00:00Z"},
			{"id":4,"type":"expense","amount":"40.5","description":"rent","date":"2024-01-02T10:00:00Z"}
		]`))
	})
	c := newTestClient(t, h, Options{})

	txs, err := c.Transactions(context.Background(), core.DateRange{})
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("len = %d, want 2 (%+v)", len(txs), txs)
	}
	if txs[0].ID != "1" || txs[1].ID != "4" {
		t.Fatalf("ids = %s, %s", txs[0].ID, txs[1].ID)
	}
	if !txs[1].Amount.Equal(decimal.RequireFromString("40.5")) {
		t.Fatalf("amount = %s", txs[1].Amount)
	}
}

func TestClient_ErrorKinds(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantKind   ErrorKind
		wantStatus int
		wantMsg    string
	}{
		{
			name: "status with message",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				w.Write([]byte(`{"message":"upstream down"}`))
			},
			wantKind:   KindStatus,
			wantStatus: http.StatusBadGateway,
			wantMsg:    "upstream down",
		},
		{
			name: "status without body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantKind:   KindStatus,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "Internal Server Error",
		},
		{
			name: "undecodable body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<html>oops</html>`))
			},
			wantKind: KindDecode,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler, Options{})
			_, err := c.Advice(context.Background(), core.DateRange{})
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("error = %v, want *FetchError", err)
			}
			if fe.Kind != tt.wantKind || fe.Status != tt.wantStatus || fe.Endpoint != EndpointAdvisor {
				t.Fatalf("FetchError = %+v", fe)
			}
			if tt.wantMsg != "" && !strings.Contains(fe.Error(), tt.wantMsg) {
				t.Fatalf("Error() = %q, want it to contain %q", fe.Error(), tt.wantMsg)
			}
		})
	}
}

func TestClient_TransportErrorAndTimeout(t *testing.T) {
	block := make(chan struct{})
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	})
	c := newTestClient(t, h, Options{Timeout: 50 * time.Millisecond})
	defer close(block)

	_, err := c.Audit(context.Background(), core.DateRange{})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != KindTransport {
		t.Fatalf("error = %v, want transport FetchError", err)
	}
	if !fe.Timeout() {
		t.Fatalf("expected a timeout, got %v", fe.Err)
	}

	dead, err := NewClient(Options{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dead.Transactions(context.Background(), core.DateRange{}); KindOf(err) != KindTransport {
		t.Fatalf("unreachable host error = %v, want transport", err)
	}
}

func TestClient_SharesConcurrentIdenticalGets(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		w.Write([]byte(`{"totalRevenue":10,"totalExpenses":4,"netIncome":6}`))
	})
	c := newTestClient(t, h, Options{})

	var wg sync.WaitGroup
	results := make([]core.IncomeStatement, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st, err := c.IncomeStatement(context.Background(), core.DateRange{})
			if err != nil {
				t.Errorf("IncomeStatement: %v", err)
			}
			results[i] = st
		}(i)
	}
	// Let every goroutine join the in-flight call before the server answers.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("server saw %d requests, want 1", n)
	}
	for _, st := range results {
		if !st.NetIncome.Equal(decimal.NewFromInt(6)) {
			t.Fatalf("statement = %+v", st)
		}
	}
}

func TestClient_CacheAndInvalidationOnCreate(t *testing.T) {
	store := memory.New(memory.Seed{})
	var gets int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			atomic.AddInt32(&gets, 1)
		}
		store.Handler().ServeHTTP(w, r)
	})
	c := newTestClient(t, h, Options{Cache: cache.NewLRUCache[[]byte](16, time.Minute)})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Transactions(ctx, core.DateRange{}); err != nil {
			t.Fatal(err)
		}
	}
	if n := atomic.LoadInt32(&gets); n != 1 {
		t.Fatalf("GETs = %d, want 1 with cache", n)
	}

	draft := core.Draft{Type: core.Expense, Amount: "9,99", Description: "  lunch ", Date: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)}
	tx, err := c.CreateTransaction(ctx, draft)
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if tx.ID == "" || tx.Description != "lunch" || !tx.Amount.Equal(decimal.RequireFromString("9.99")) {
		t.Fatalf("created = %+v", tx)
	}

	txs, err := c.Transactions(ctx, core.DateRange{})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 {
		t.Fatalf("after create len = %d, want 1", len(txs))
	}
	if n := atomic.LoadInt32(&gets); n != 2 {
		t.Fatalf("GETs = %d, want 2 after invalidation", n)
	}
}

func TestClient_CreateTransaction(t *testing.T) {
	var gotKey, gotType string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"amount too large"}`))
	})
	c := newTestClient(t, h, Options{})

	_, err := c.CreateTransaction(context.Background(), core.Draft{Type: core.Revenue, Amount: "1", Description: "x", Date: time.Now()})
	if KindOf(err) != KindStatus || !strings.Contains(err.Error(), "amount too large") {
		t.Fatalf("error = %v", err)
	}
	if gotKey == "" || gotType != "application/json" {
		t.Fatalf("headers: key=%q content-type=%q", gotKey, gotType)
	}

	if _, err := c.CreateTransaction(context.Background(), core.Draft{Type: core.Revenue, Amount: "", Description: "x", Date: time.Now()}); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("invalid draft error = %v, want ErrInvalidAmount", err)
	}
}

func TestClient_MemoryRoundTrip(t *testing.T) {
	store := memory.New(memory.Seed{
		Transactions: []core.Transaction{
			{ID: "1", Type: core.Revenue, Amount: decimal.NewFromInt(100), Description: "a", Date: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
			{ID: "2", Type: core.Expense, Amount: decimal.NewFromInt(30), Description: "b", Date: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		},
	})
	c := newTestClient(t, store.Handler(), Options{})
	rng := bounded(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))

	txs, err := c.Transactions(context.Background(), rng)
	if err != nil || len(txs) != 1 || txs[0].ID != "1" {
		t.Fatalf("Transactions = %+v, %v", txs, err)
	}
	st, err := c.IncomeStatement(context.Background(), core.DateRange{})
	if err != nil || !st.NetIncome.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("IncomeStatement = %+v, %v", st, err)
	}
	issues, err := c.Audit(context.Background(), core.DateRange{})
	if err != nil || issues == nil || len(issues) != 0 {
		t.Fatalf("Audit = %#v, %v", issues, err)
	}
}

func TestClient_GetInFlightAcrossCreateIsNotCached(t *testing.T) {
	store := memory.New(memory.Seed{})
	started := make(chan struct{})
	release := make(chan struct{})
	var gets int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && atomic.AddInt32(&gets, 1) == 1 {
			// Answer from the store as it is now, but only once released.
			rec := httptest.NewRecorder()
			store.Handler().ServeHTTP(rec, r)
			close(started)
			<-release
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.Code)
			w.Write(rec.Body.Bytes())
			return
		}
		store.Handler().ServeHTTP(w, r)
	})
	c := newTestClient(t, h, Options{Cache: cache.NewLRUCache[[]byte](16, time.Minute)})
	ctx := context.Background()

	slow := make(chan int, 1)
	go func() {
		txs, err := c.Transactions(ctx, core.DateRange{})
		if err != nil {
			t.Errorf("slow Transactions: %v", err)
		}
		slow <- len(txs)
	}()
	<-started

	if _, err := c.CreateTransaction(ctx, core.Draft{Type: core.Revenue, Amount: "5", Description: "late", Date: time.Now()}); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	joined := make(chan int, 1)
	go func() {
		txs, err := c.Transactions(ctx, core.DateRange{})
		if err != nil {
			t.Errorf("Transactions after create: %v", err)
		}
		joined <- len(txs)
	}()
	if n := <-joined; n != 1 {
		t.Fatalf("request issued after create returned %d transactions, want 1", n)
	}

	close(release)
	if n := <-slow; n != 0 {
		t.Fatalf("slow request returned %d, want the pre-create list", n)
	}

	txs, err := c.Transactions(ctx, core.DateRange{})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != store.Len() {
		t.Fatalf("refetch after create returned %d, store has %d", len(txs), store.Len())
	}
}
