// Command smoketest waits for a deployed icauth to report healthy.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	serverURL := strings.TrimRight(envOr("SERVER_URL", "http://localhost:8001"), "/")
	basePath := strings.TrimRight(os.Getenv("BASE_PATH"), "/")
	retries := envInt("HEALTH_CHECK_RETRIES", 100)
	sleep := envSeconds("SLEEP_TIME", time.Second)
	url := serverURL + basePath + "/health"

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 5 * time.Second}
	for attempt := 1; attempt <= retries; attempt++ {
		err := check(ctx, client, url)
		if err == nil {
			slog.Info("service healthy", "url", url, "attempt", attempt)
			return
		}
		slog.Warn("health check failed", "url", url, "attempt", attempt, "retries", retries, "error", err)

		select {
		case <-ctx.Done():
			slog.Error("smoke test interrupted")
			os.Exit(1)
		case <-time.After(sleep):
		}
	}
	slog.Error("service never became healthy", "url", url, "retries", retries)
	os.Exit(1)
}

func check(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding body: %w", err)
	}
	if body.Status != "ok" {
		return fmt.Errorf("status field %q", body.Status)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// envSeconds accepts "2" or "2s".
func envSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second))
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}
