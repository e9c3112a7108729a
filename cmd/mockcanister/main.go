package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"icauth/internal/mockcanister"
	"icauth/internal/platform/server"
)

func main() {
	addr := envOr("MOCK_CANISTER_ADDR", ":8000")
	enc := mockcanister.Encoding(envOr("WIRE_FORMAT", string(mockcanister.EncodingFlat)))
	canisterID := os.Getenv("CANISTER_MOTOKO_ID")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	mock := mockcanister.New(enc, canisterID)
	mock.SetDelay(envDuration("MOCK_DELAY_MS", 0))

	// MOCK_SECRETS=principal:password,principal:password
	var seeded []string
	for _, pair := range strings.Split(os.Getenv("MOCK_SECRETS"), ",") {
		principal, secret, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || principal == "" || secret == "" {
			continue
		}
		mock.SetSecret(principal, secret)
		seeded = append(seeded, principal)
	}

	slog.Info("mock canister starting",
		"addr", addr,
		"wire_format", string(enc),
		"canister_id", canisterID,
		"seeded_principals", seeded,
	)

	srv := server.New(addr, mock.Handler(), 30*time.Second, logger)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envDuration reads a duration in milliseconds from an env var (e.g. "50" -> 50ms).
func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}
