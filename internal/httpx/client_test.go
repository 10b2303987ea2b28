package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleep struct {
	calls []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return nil
}

func TestGetJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		w.Write([]byte(`{"value": 42}`))
	}))
	defer srv.Close()

	c := New("test")
	var out struct{ Value int }
	err := c.GetJSON(context.Background(), srv.URL, http.Header{"X-Token": {"secret"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, 42, out.Value)
}

func TestGet_RateLimitRetriesOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"errorDescription":"Too many requests"}`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	rec := &recordingSleep{}
	c := New("monobank", WithSleep(rec.sleep))

	body, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, []time.Duration{60 * time.Second}, rec.calls)
}

func TestGet_RateLimitTwiceSurfacesProviderError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`slow down`))
	}))
	defer srv.Close()

	rec := &recordingSleep{}
	c := New("monobank", WithSleep(rec.sleep), WithBackoff(time.Second))

	_, err := c.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)

	var pe *domain.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, "slow down", pe.Body)
	assert.Equal(t, int32(2), hits.Load())
	assert.Len(t, rec.calls, 1)
}

func TestGet_NonSuccessCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"name":"INVALID_REQUEST"}`))
	}))
	defer srv.Close()

	rec := &recordingSleep{}
	_, err := New("paypal", WithSleep(rec.sleep)).Get(context.Background(), srv.URL, nil)

	var pe *domain.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Contains(t, pe.Body, "INVALID_REQUEST")
	assert.Empty(t, rec.calls, "only rate-limit responses are retried")
}

func TestGetJSON_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	var out map[string]any
	err := New("privatbank").GetJSON(context.Background(), srv.URL, nil, &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProvider))

	var pe *domain.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "<html>oops</html>", pe.Body)
}

func TestSleep_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGet_OversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transaction_details":[]}`))
	}))
	defer srv.Close()

	_, err := New("paypal", WithMaxBody(8)).Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	var pErr *domain.ProviderError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, http.StatusOK, pErr.StatusCode)
	assert.Contains(t, pErr.Error(), "exceeds 8 bytes")

	body, err := New("paypal", WithMaxBody(26)).Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Len(t, body, 26)
}
