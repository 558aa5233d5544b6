package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/cors"
)

// CORSHandler builds the CORS policy for browser uploads. Origins are
// compared without a trailing slash; an empty list allows any origin.
// Credentials are only allowed for an explicit origin list.
func CORSHandler(allowedOrigins []string) cors.Options {
	origins := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		// Browsers need these to name the downloaded file and correlate runs.
		ExposedHeaders:   []string{"Content-Disposition", "Content-Length", "X-Run-ID"},
		AllowCredentials: !slices.Contains(origins, "*"),
		MaxAge:           300,
	}
}

// CORS wraps next with the policy from CORSHandler.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(CORSHandler(allowedOrigins))
}
