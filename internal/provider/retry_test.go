package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func shortBackoff(t *testing.T) {
	t.Helper()
	prev := backoffUnit
	backoffUnit = time.Millisecond
	t.Cleanup(func() { backoffUnit = prev })
}

func TestDoWithRetry_ZeroRetriesIsSingleAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := DoWithRetry(context.Background(), srv.Client(), 0, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	}, testLogger())

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoWithRetry_RecoversFromTransientFailure(t *testing.T) {
	shortBackoff(t)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := DoWithRetry(context.Background(), srv.Client(), 2, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	}, testLogger())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	resp.Body.Close()
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoWithRetry_DoesNotRetryClientErrors(t *testing.T) {
	shortBackoff(t)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := DoWithRetry(context.Background(), srv.Client(), 3, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	}, testLogger())
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if calls != 1 {
		t.Fatalf("404 should not be retried, got %d calls", calls)
	}
}
