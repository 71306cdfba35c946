package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestOpsRoutes(t *testing.T) {
	cases := []struct {
		name string
		db   pinger
		path string
		want int
		body string
	}{
		{"health", stubPinger{}, "/health", http.StatusOK, `"status":"ok"`},
		{"db up", stubPinger{}, "/health/db", http.StatusOK, `"postgres":"connected"`},
		{"db down", stubPinger{err: errors.New("refused")}, "/health/db", http.StatusServiceUnavailable, "postgres unavailable"},
		{"metrics", stubPinger{}, "/metrics", http.StatusOK, "go_goroutines"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			registerOpsRoutes(mux, tc.db)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tc.body) {
				t.Errorf("body missing %q", tc.body)
			}
		})
	}
}
