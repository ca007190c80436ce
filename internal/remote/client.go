// Package remote talks to the bookkeeping API: it builds date-scoped request
// URLs, decodes responses into core types and tracks which response is the
// latest for each endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"accusim/internal/cache"
	"accusim/internal/core"
	"accusim/internal/log"
)

const (
	DefaultTimeout = 7 * time.Second
	maxBodyBytes   = 4 << 20
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	// Cache stores successful GET bodies keyed by request URL. Nil disables caching.
	Cache  cache.Cache[[]byte]
	Logger *log.Logger
}

// Client issues requests against one remote API base URL.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	cache   cache.Cache[[]byte]
	group   singleflight.Group
	logger  *log.Logger

	// epoch counts cache invalidations. A GET stores its body only if no
	// invalidation happened while it was in flight.
	cacheMu sync.Mutex
	epoch   uint64
	newKey  func() string
}

func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q: scheme must be http or https", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Client{
		baseURL: base,
		timeout: timeout,
		http:    hc,
		cache:   opts.Cache,
		logger:  logger.WithComponent(log.ComponentRemote),
		newKey:  func() string { return uuid.NewString() },
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// URL builds the request URL for endpoint. The startDate and endDate
// parameters are added only when rng has both bounds.
func (c *Client) URL(endpoint Endpoint, rng core.DateRange) string {
	u := c.baseURL + endpoint.Path()
	if q := rng.Query(); len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// Transactions lists transactions within rng. Rows without a known type or an
// amount are dropped with a warning instead of failing the whole response.
func (c *Client) Transactions(ctx context.Context, rng core.DateRange) ([]core.Transaction, error) {
	body, u, err := c.get(ctx, EndpointTransactions, rng)
	if err != nil {
		return nil, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, decodeError(EndpointTransactions, http.MethodGet, u, err)
	}
	txs := make([]core.Transaction, 0, len(rows))
	for i, row := range rows {
		var tx core.Transaction
		if err := json.Unmarshal(row, &tx); err != nil {
			c.logger.WarnContext(ctx, "Skipping malformed transaction",
				log.FieldEndpoint, string(EndpointTransactions),
				log.FieldURL, u,
				"index", i,
				log.FieldError, err,
				log.FieldErrorType, log.ErrorTypeDecode)
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (c *Client) Advice(ctx context.Context, rng core.DateRange) ([]core.AdvisoryTip, error) {
	tips := []core.AdvisoryTip{}
	if err := c.getJSON(ctx, EndpointAdvisor, rng, &tips); err != nil {
		return nil, err
	}
	if tips == nil {
		tips = []core.AdvisoryTip{}
	}
	return tips, nil
}

func (c *Client) IncomeStatement(ctx context.Context, rng core.DateRange) (core.IncomeStatement, error) {
	var st core.IncomeStatement
	if err := c.getJSON(ctx, EndpointIncomeStatement, rng, &st); err != nil {
		return core.IncomeStatement{}, err
	}
	return st, nil
}

func (c *Client) Audit(ctx context.Context, rng core.DateRange) ([]core.AuditIssue, error) {
	issues := []core.AuditIssue{}
	if err := c.getJSON(ctx, EndpointAudit, rng, &issues); err != nil {
		return nil, err
	}
	if issues == nil {
		issues = []core.AuditIssue{}
	}
	return issues, nil
}

// CreateTransaction posts d and returns the transaction as stored by the
// remote API, including the identifier it assigned. Every attempt carries a
// fresh Idempotency-Key header.
func (c *Client) CreateTransaction(ctx context.Context, d core.Draft) (core.Transaction, error) {
	req, err := d.Request()
	if err != nil {
		return core.Transaction{}, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("marshal create request: %w", err)
	}

	u := c.URL(EndpointTransactions, core.DateRange{})
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.do(ctx, http.MethodPost, EndpointTransactions, u, payload, map[string]string{
		"Content-Type":    "application/json",
		"Idempotency-Key": c.newKey(),
	})
	if err != nil {
		return core.Transaction{}, err
	}

	var tx core.Transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return core.Transaction{}, decodeError(EndpointTransactions, http.MethodPost, u, err)
	}

	if n := c.invalidate(); n > 0 {
		c.logger.DebugContext(ctx, "Response cache invalidated", log.FieldCount, n)
	}

	c.logger.InfoContext(ctx, "Transaction created",
		log.NewFields().
			WithOperation(log.OpCreate).
			WithTransaction(tx.ID.String(), string(tx.Type), core.FormatPlain(tx.Amount), tx.Description).
			ToSlice()...)

	return tx, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint Endpoint, rng core.DateRange, v any) error {
	body, u, err := c.get(ctx, endpoint, rng)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return decodeError(endpoint, http.MethodGet, u, err)
	}
	return nil
}

// get returns the body of a successful GET. Concurrent calls for the same URL
// share one round trip, which runs detached from any single caller's
// cancellation but is bounded by the client timeout.
func (c *Client) get(ctx context.Context, endpoint Endpoint, rng core.DateRange) ([]byte, string, error) {
	u := c.URL(endpoint, rng)

	if c.cache != nil {
		if body, ok := c.cache.Get(u); ok {
			return body, u, nil
		}
	}

	start := time.Now()
	epoch := c.currentEpoch()
	// Keying flights by epoch keeps callers that arrive after a write from
	// joining a request that started before it.
	ch := c.group.DoChan(fmt.Sprintf("%d|%s", epoch, u), func() (any, error) {
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		body, err := c.do(reqCtx, http.MethodGet, endpoint, u, nil, nil)
		if err != nil {
			return nil, err
		}
		c.store(epoch, u, body)
		return body, nil
	})

	select {
	case <-ctx.Done():
		return nil, u, &FetchError{
			Endpoint: endpoint,
			Method:   http.MethodGet,
			URL:      u,
			Kind:     KindTransport,
			Err:      ctx.Err(),
		}
	case res := <-ch:
		if res.Err != nil {
			return nil, u, res.Err
		}
		c.logger.DebugContext(ctx, "Remote fetch completed",
			log.FieldEndpoint, string(endpoint),
			log.FieldURL, u,
			log.FieldRange, rng.Key(),
			log.FieldDuration, time.Since(start).Milliseconds(),
			"shared", res.Shared)
		return res.Val.([]byte), u, nil
	}
}

func (c *Client) currentEpoch() uint64 {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	return c.epoch
}

// store caches body unless the cache was invalidated after epoch was read.
func (c *Client) store(epoch uint64, u string, body []byte) {
	if c.cache == nil {
		return
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if c.epoch == epoch {
		c.cache.Set(u, body)
	}
}

// invalidate drops every cached response of this API and returns how many
// entries were removed.
func (c *Client) invalidate() int {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.epoch++
	if c.cache == nil {
		return 0
	}
	return c.cache.DeletePrefix(c.baseURL)
}

func (c *Client) do(ctx context.Context, method string, endpoint Endpoint, u string, payload []byte, headers map[string]string) ([]byte, error) {
	fail := func(kind ErrorKind, status int, err error) error {
		return &FetchError{Endpoint: endpoint, Method: method, URL: u, Kind: kind, Status: status, Err: err}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fail(KindTransport, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fail(KindTransport, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fail(KindTransport, resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fail(KindStatus, resp.StatusCode, errors.New(remoteMessage(resp.StatusCode, body)))
	}
	return body, nil
}

// remoteMessage extracts {"message": ...} or {"error": ...} from an error body.
func remoteMessage(status int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return http.StatusText(status)
}

func decodeError(endpoint Endpoint, method, u string, err error) error {
	return &FetchError{Endpoint: endpoint, Method: method, URL: u, Kind: KindDecode, Err: err}
}
