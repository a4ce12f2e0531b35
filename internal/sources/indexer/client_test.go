package indexer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpnl/internal/domain"
	"github.com/vadiminshakov/vaultpnl/pkg/retrier"
)

const (
	vault = "0x000000000000000000000000000000000000000a"
	user  = "0x00000000000000000000000000000000000000aa"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(zap.NewNop(), srv.URL,
		WithHTTPClient(srv.Client()),
		WithRateLimit(1000, 10),
		WithRetrier(retrier.New(retrier.WithMaxRetries(2), retrier.WithInitialInterval(time.Millisecond))),
	)
	require.NoError(t, err)
	return c
}

func TestClient_EventsFor_Paginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/vaults/"+vault+"/events", r.URL.Path)
		assert.Equal(t, "arbitrum", r.URL.Query().Get("chain"))
		assert.Equal(t, user, r.URL.Query().Get("owner"))
		assert.Equal(t, "1700000000", r.URL.Query().Get("since"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "1":
			_, _ = w.Write([]byte(`{"events":[{"kind":"deposit","amount":"100.5","transaction_hash":"0xAB","log_index":2,"timestamp":1700000100}],"next_page":2}`))
		case "2":
			_, _ = w.Write([]byte(`{"events":[{"kind":"Withdraw","amount":30,"transaction_hash":"0xcd","log_index":0,"timestamp":1700000200}],"next_page":0}`))
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	since := uint64(1700000000)

	events, err := c.EventsFor(context.Background(), domain.EventQuery{
		Chain: domain.ChainArbitrum, Vault: vault, User: user, Since: &since,
	})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, domain.EventDeposit, events[0].Kind)
	assert.True(t, events[0].Amount.Equal(decimal.RequireFromString("100.5")))
	assert.Equal(t, "0xab", events[0].TransactionHash)
	assert.Equal(t, uint(2), events[0].LogIndex)
	assert.Equal(t, uint64(1700000100), events[0].Ordinal)
	assert.Equal(t, domain.ChainArbitrum, events[0].Chain)

	assert.Equal(t, domain.EventWithdraw, events[1].Kind)
	assert.True(t, events[1].Amount.Equal(decimal.NewFromInt(30)))
	assert.True(t, c.SupportsResume(domain.ChainArbitrum))
	assert.Equal(t, domain.OrdinalTimestamp, c.OrdinalKind(domain.ChainArbitrum))
}

func TestClient_EventsFor_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("since"))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"events":[]}`))
	}))
	defer srv.Close()

	events, err := newTestClient(t, srv).EventsFor(context.Background(), domain.EventQuery{Chain: domain.ChainBase, Vault: vault, User: user})
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_EventsFor_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unknown vault", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).EventsFor(context.Background(), domain.EventQuery{Chain: domain.ChainBase, Vault: vault, User: user})
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "unknown vault", se.Body)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_EventsFor_RejectsBadEvents(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown kind", body: `{"events":[{"kind":"borrow","amount":"1","transaction_hash":"0x1","timestamp":1}]}`},
		{name: "negative amount", body: `{"events":[{"kind":"deposit","amount":"-1","transaction_hash":"0x1","timestamp":1}]}`},
		{name: "malformed json", body: `{"events":[`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv).EventsFor(context.Background(), domain.EventQuery{Chain: domain.ChainBase, Vault: vault, User: user})
			assert.Error(t, err)
		})
	}
}

func TestClient_BreakerOpensOnRepeatedFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	q := domain.EventQuery{Chain: domain.ChainBase, Vault: vault, User: user}

	// 3 attempts per call; the breaker trips after 5 consecutive failures
	_, err := c.EventsFor(context.Background(), q)
	require.Error(t, err)
	_, err = c.EventsFor(context.Background(), q)
	require.Error(t, err)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))

	_, err = c.EventsFor(context.Background(), q)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}

func TestClient_CancelledReadsKeepBreakerClosed(t *testing.T) {
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) > 6 {
			_, _ = w.Write([]byte(`{"events":[],"next_page":0}`))
			return
		}
		arrived <- struct{}{}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv)
	q := domain.EventQuery{Chain: domain.ChainBase, Vault: vault, User: user}

	// more cancelled reads than the breaker tolerates failures
	for i := 0; i < 6; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-arrived
			cancel()
		}()
		_, err := c.EventsFor(ctx, q)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		cancel()
	}
	assert.Equal(t, gobreaker.StateClosed, c.breaker.State())

	// a cancelled context never reaches the limiter or the breaker
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.EventsFor(ctx, q)
	require.Error(t, err)
	assert.Equal(t, int32(6), atomic.LoadInt32(&calls))

	events, err := c.EventsFor(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestHealthy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "success", err: nil, want: true},
		{name: "cancelled", err: errors.Wrap(context.Canceled, "get"), want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "not found", err: &StatusError{Code: http.StatusNotFound}, want: true},
		{name: "rate limited", err: &StatusError{Code: http.StatusTooManyRequests}, want: false},
		{name: "server error", err: &StatusError{Code: http.StatusBadGateway}, want: false},
		{name: "transport", err: errors.New("connection refused"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, healthy(tt.err))
		})
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "")
	require.Error(t, err)
	assert.True(t, domain.IsConfiguration(err))

	_, err = New(nil, "not a url")
	require.Error(t, err)
	assert.True(t, domain.IsConfiguration(err))
}
