package xadmit

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestAdmissionResult_RetryAfterSeconds(t *testing.T) {
	cases := []struct {
		name       string
		retryAfter time.Duration
		want       int
	}{
		{"zero", 0, 0},
		{"negative", -time.Second, 0},
		{"exact minute", time.Minute, 60},
		{"sub-second rounds up", 200 * time.Millisecond, 1},
		{"fractional rounds up", 1500 * time.Millisecond, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &AdmissionResult{RetryAfter: tc.retryAfter}
			if got := r.RetryAfterSeconds(); got != tc.want {
				t.Fatalf("RetryAfterSeconds() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAdmissionResult_Headers(t *testing.T) {
	resetAt := time.Date(2026, 1, 15, 12, 1, 0, 0, time.UTC)

	t.Run("allowed", func(t *testing.T) {
		r := &AdmissionResult{Allowed: true, Limit: 100, Remaining: 42, ResetAt: resetAt}
		headers := r.Headers()

		if headers["X-RateLimit-Limit"] != "100" {
			t.Fatalf("limit header = %q", headers["X-RateLimit-Limit"])
		}
		if headers["X-RateLimit-Remaining"] != "42" {
			t.Fatalf("remaining header = %q", headers["X-RateLimit-Remaining"])
		}
		if headers["X-RateLimit-Reset"] != "1768478460" {
			t.Fatalf("reset header = %q", headers["X-RateLimit-Reset"])
		}
		if _, ok := headers["Retry-After"]; ok {
			t.Fatal("allowed result must not carry Retry-After")
		}
	})

	t.Run("denied", func(t *testing.T) {
		r := &AdmissionResult{Allowed: false, Limit: 100, ResetAt: resetAt, RetryAfter: time.Minute}
		if got := r.Headers()["Retry-After"]; got != "60" {
			t.Fatalf("Retry-After = %q, want 60", got)
		}
	})
}

func TestAdmissionResult_SetHeaders(t *testing.T) {
	t.Run("writes quota headers", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := &AdmissionResult{Allowed: true, Limit: 10, Remaining: 9, ResetAt: time.Now()}
		r.SetHeaders(w)

		if w.Header().Get("X-RateLimit-Limit") != "10" {
			t.Fatalf("limit header = %q", w.Header().Get("X-RateLimit-Limit"))
		}
	})

	t.Run("skips when no quota information", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := &AdmissionResult{Allowed: true, Degraded: true}
		r.SetHeaders(w)

		if len(w.Header()) != 0 {
			t.Fatalf("expected no headers, got %v", w.Header())
		}
	})
}
