package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"

	"github.com/frahmantamala/approval-workflow/internal/auth"
)

// CORS admits the comma-separated allowedOrigins, or any origin when empty.
func CORS(allowedOrigins string) func(http.Handler) http.Handler {
	origins := []string{"*"}
	if strings.TrimSpace(allowedOrigins) != "" {
		origins = origins[:0]
		for _, o := range strings.Split(allowedOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, auth.StaleHeader},
		AllowCredentials: false,
		MaxAge:           300,
	})
}
