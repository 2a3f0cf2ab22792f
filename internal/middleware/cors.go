package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// CORSConfig holds configuration for the CORS middleware.
type CORSConfig struct {
	// AllowedOrigins is the exact list of origins, e.g. "http://localhost:5173".
	// A "*" entry reflects any origin, which is only sensible in development.
	AllowedOrigins []string

	// Defaults to GET, POST, PUT, PATCH, DELETE, OPTIONS if empty.
	AllowedMethods []string

	// Defaults to Accept, Authorization, Content-Type, X-Request-Id if empty.
	AllowedHeaders []string

	ExposedHeaders []string

	// MaxAge is how long (in seconds) preflight results can be cached.
	// Defaults to 3600 if 0.
	MaxAge int

	// AllowCredentials lets the browser send the session cookie.
	AllowCredentials bool
}

// CORS returns go-chi/cors middleware for cfg.
//
// With credentials the literal "*" is not valid, so a wildcard config
// echoes the request origin instead. An empty origin list allows nothing.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	if len(cfg.AllowedMethods) == 0 {
		cfg.AllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	if len(cfg.AllowedHeaders) == 0 {
		cfg.AllowedHeaders = []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"}
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 3600
	}

	allowAny := false
	origins := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			allowAny = true
			continue
		}
		origins[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}

	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			if allowAny {
				return true
			}
			_, ok := origins[strings.ToLower(origin)]
			return ok
		},
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   cfg.ExposedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	})
}
