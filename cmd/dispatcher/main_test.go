package main

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/config"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/queue"
)

func TestLoggingMiddleware_PassesThroughAndCapturesStatus(t *testing.T) {
	var rec *statusRecorder
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, _ = w.(*statusRecorder)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rr.Code)
	}
	if body := rr.Body.String(); body != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", body)
	}
	if rec == nil || rec.status != http.StatusCreated {
		t.Fatalf("expected recorder to capture %d, got %+v", http.StatusCreated, rec)
	}
}

func TestLoggingMiddleware_DefaultsToOK(t *testing.T) {
	var rec *statusRecorder
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, _ = w.(*statusRecorder)
		_, _ = w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if rec == nil || rec.status != http.StatusOK {
		t.Fatalf("expected default status 200, got %+v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestRetryPolicy_OverridesDefaults(t *testing.T) {
	p := retryPolicy(config.RetryConfig{Max: 5, Intervals: []time.Duration{time.Second}})
	if p.MaxRetries != 5 {
		t.Fatalf("expected 5 retries, got %d", p.MaxRetries)
	}
	if !slices.Equal(p.Intervals, []time.Duration{time.Second}) {
		t.Fatalf("unexpected intervals %v", p.Intervals)
	}
}

func TestRetryPolicy_KeepsDefaultIntervals(t *testing.T) {
	p := retryPolicy(config.RetryConfig{Max: 0})
	if p.MaxRetries != 0 {
		t.Fatalf("expected retries disabled, got %d", p.MaxRetries)
	}
	if !slices.Equal(p.Intervals, queue.DefaultRetryPolicy().Intervals) {
		t.Fatalf("expected default intervals, got %v", p.Intervals)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("expected valid policy, got %v", err)
	}
}
