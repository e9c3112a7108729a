package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"healthy", http.StatusOK, `{"status":"ok"}`, false},
		{"server error", http.StatusServiceUnavailable, `{"status":"ok"}`, true},
		{"wrong status field", http.StatusOK, `{"status":"starting"}`, true},
		{"not json", http.StatusOK, `ok`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/health" {
					http.NotFound(w, r)
					return
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := check(context.Background(), srv.Client(), srv.URL+"/api/health")
			if (err != nil) != tt.wantErr {
				t.Errorf("check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvSeconds(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Second},
		{"2", 2 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"250ms", 250 * time.Millisecond},
		{"soon", time.Second},
	}
	for _, tt := range tests {
		t.Setenv("SLEEP_TIME", tt.value)
		if got := envSeconds("SLEEP_TIME", time.Second); got != tt.want {
			t.Errorf("envSeconds(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
