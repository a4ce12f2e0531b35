// Package indexer reads vault ledger events from a remote indexed-events API.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vadiminshakov/vaultpnl/internal/domain"
	"github.com/vadiminshakov/vaultpnl/pkg/retrier"
)

const (
	defaultTimeout = 15 * time.Second
	defaultRate    = 5
	// maxPages guards against an API that never stops returning next_page.
	maxPages = 1000
)

// StatusError non-2xx response from the API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("indexer responded %d: %s", e.Code, e.Body)
}

// Client paginated events API client. Ordinals are unix timestamps.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retrier *retrier.Retrier
	l       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetrier replaces the retry policy applied to each page request.
func WithRetrier(r *retrier.Retrier) Option {
	return func(c *Client) {
		c.retrier = r
	}
}

// New creates a Client for the API rooted at baseURL.
func New(l *zap.Logger, baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, &domain.ConfigurationError{Setting: "indexer_url"}
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &domain.ConfigurationError{Setting: "indexer_url", Reason: "invalid url " + baseURL}
	}
	if l == nil {
		l = zap.NewNop()
	}

	c := &Client{
		base:    base,
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(defaultRate), defaultRate),
		l:       l.With(zap.String("indexer", base.Host)),
	}
	c.retrier = retrier.New(retrier.WithOnRetry(func(attempt int, err error) {
		c.l.Warn("indexer request failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}))
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "indexer:" + base.Host,
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: healthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.l.Warn("indexer circuit breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return c, nil
}

// healthy reports whether err says nothing about the health of the API:
// client errors and requests abandoned by the caller.
func healthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Code < 500 && se.Code != http.StatusTooManyRequests
}

// SupportsResume the API accepts a since timestamp.
func (c *Client) SupportsResume(domain.Chain) bool {
	return true
}

// OrdinalKind ordinals are unix timestamps.
func (c *Client) OrdinalKind(domain.Chain) domain.OrdinalKind {
	return domain.OrdinalTimestamp
}

type eventsPage struct {
	Events   []apiEvent `json:"events"`
	NextPage int        `json:"next_page"`
}

type apiEvent struct {
	Kind            string          `json:"kind"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionHash string          `json:"transaction_hash"`
	LogIndex        uint            `json:"log_index"`
	Timestamp       uint64          `json:"timestamp"`
}

// EventsFor pages through every event of q.User in q.Vault, from q.Since when set.
func (c *Client) EventsFor(ctx context.Context, q domain.EventQuery) ([]domain.LedgerEvent, error) {
	events := make([]domain.LedgerEvent, 0)

	for page, n := 1, 0; page > 0; n++ {
		if n >= maxPages {
			return nil, errors.Errorf("indexer pagination exceeded %d pages", maxPages)
		}

		res, err := retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) (*eventsPage, error) {
			return c.fetchPage(ctx, q, page)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "fetch events page %d", page)
		}

		for _, e := range res.Events {
			kind, err := domain.ParseEventKind(strings.ToLower(e.Kind))
			if err != nil {
				return nil, errors.Wrapf(err, "event %s", e.TransactionHash)
			}
			if e.Amount.IsNegative() {
				return nil, errors.Errorf("event %s: negative amount %s", e.TransactionHash, e.Amount.String())
			}
			events = append(events, domain.LedgerEvent{
				Kind:            kind,
				Amount:          e.Amount,
				TransactionHash: strings.ToLower(e.TransactionHash),
				LogIndex:        e.LogIndex,
				Ordinal:         e.Timestamp,
				Chain:           q.Chain,
			})
		}

		if res.NextPage <= page {
			break
		}
		page = res.NextPage
	}

	c.l.Debug("fetched indexed events", zap.String("vault", q.Vault), zap.Int("events", len(events)))

	return events, nil
}

func (c *Client) fetchPage(ctx context.Context, q domain.EventQuery, page int) (*eventsPage, error) {
	u := *c.base
	u.Path = u.Path + "/v1/vaults/" + url.PathEscape(q.Vault) + "/events"

	params := url.Values{}
	params.Set("chain", q.Chain.String())
	params.Set("owner", q.User)
	params.Set("page", strconv.Itoa(page))
	if q.Since != nil {
		params.Set("since", strconv.FormatUint(*q.Since, 10))
	}
	u.RawQuery = params.Encode()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, retrier.Permanent(err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.get(ctx, u.String())
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, retrier.Permanent(err)
		}
		var se *StatusError
		if errors.As(err, &se) && se.Code < 500 && se.Code != http.StatusTooManyRequests {
			return nil, retrier.Permanent(err)
		}
		return nil, err
	}

	return out.(*eventsPage), nil
}

func (c *Client) get(ctx context.Context, rawurl string) (*eventsPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var page eventsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, errors.Wrap(err, "decode events page")
	}

	return &page, nil
}
