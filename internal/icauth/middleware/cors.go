package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// Allowed request methods and headers for cross-origin calls from the
// web client.
var (
	corsMethods = []string{"DELETE", "GET", "OPTIONS", "PATCH", "POST", "PUT"}
	corsHeaders = []string{
		"Accept",
		"Accept-Encoding",
		"Accept-Language",
		"Access-Control-Request-Headers",
		"Access-Control-Request-Method",
		"Authorization",
		"Content-Type",
		"DNT",
		"Origin",
		"X-CSRFToken",
		"X-Requested-With",
		"X-Request-ID",
		"Referer",
		"Sec-Fetch-Dest",
		"Sec-Fetch-Mode",
		"Sec-Fetch-Site",
		"Sec-CH-UA",
		"Sec-CH-UA-Mobile",
		"Sec-CH-UA-Platform",
		"User-Agent",
	}
)

// CORS allows credentialed requests from origins. With no origins the
// middleware is a no-op.
func CORS(origins []string) Middleware {
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   corsMethods,
		AllowedHeaders:   corsHeaders,
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	})
}
