package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/cors"
)

// CORS restricts browser access to the configured dashboard origins.
// A single "*" entry disables the origin check; this only makes sense
// in development, since the API allows credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowOriginFunc:  originAllowed(allowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	})

	return c.Handler
}

func originAllowed(allowed []string) func(string) bool {
	return func(origin string) bool {
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}
