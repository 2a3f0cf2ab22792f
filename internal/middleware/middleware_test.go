package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// =========================================================================
// LOGGER TESTS
// =========================================================================

func TestLogger_RecordsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID, Logger(logger))
	r.Get("/teapot", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	req := httptest.NewRequest(http.MethodGet, "/teapot?token=secret", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request completed", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "/teapot", entry["path"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
	assert.EqualValues(t, len("short and stout"), entry["bytes"])
	assert.NotEmpty(t, entry["requestID"])
	assert.NotContains(t, buf.String(), "secret")
}

// =========================================================================
// METRICS TESTS
// =========================================================================

func TestMetrics_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/games/{id}", okHandler)

	counter := httpRequestsTotal.WithLabelValues("GET", "/games/{id}", "200")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/games/"+id, nil))
	}

	assert.Equal(t, before+3, testutil.ToFloat64(counter))
	assert.Zero(t, testutil.ToFloat64(httpRequestsInFlight))
}

func TestMetrics_UnknownRoute(t *testing.T) {
	counter := httpRequestsTotal.WithLabelValues("GET", "unknown", "200")
	before := testutil.ToFloat64(counter)

	Metrics(http.HandlerFunc(okHandler)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

// =========================================================================
// THROTTLE TESTS
// =========================================================================

func TestThrottle_LimitsPerIP(t *testing.T) {
	th := NewThrottle(1, 2, time.Minute, quietLogger())
	t.Cleanup(func() { th.Close() })
	h := th.Handler(http.HandlerFunc(okHandler))

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, send("198.51.100.1:1000").Code)
	assert.Equal(t, http.StatusOK, send("198.51.100.1:1001").Code)

	rr := send("198.51.100.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), `"code":"throttled"`)

	assert.Equal(t, http.StatusOK, send("198.51.100.2:1000").Code, "other IPs have their own bucket")
}

func TestThrottle_CleanupEvictsIdleVisitors(t *testing.T) {
	th := NewThrottle(10, 10, time.Minute, quietLogger())
	t.Cleanup(func() { th.Close() })

	now := time.Now()
	th.nowFunc = func() time.Time { return now }
	th.getVisitor("a")
	th.getVisitor("b")

	now = now.Add(30 * time.Second)
	th.getVisitor("b")

	now = now.Add(45 * time.Second)
	th.cleanup()

	assert.Equal(t, 1, th.len())
}

func TestThrottle_CloseIsIdempotent(t *testing.T) {
	th := NewThrottle(1, 1, time.Minute, quietLogger())
	assert.NoError(t, th.Close())
	assert.NoError(t, th.Close())
}

// =========================================================================
// CORS TESTS
// =========================================================================

func TestCORS(t *testing.T) {
	h := CORS(CORSConfig{
		AllowedOrigins:   []string{"http://localhost:5173/"},
		AllowCredentials: true,
	})(http.HandlerFunc(okHandler))

	tests := []struct {
		name        string
		method      string
		origin      string
		wantAllowed string
	}{
		{"allowed origin", http.MethodGet, "http://localhost:5173", "http://localhost:5173"},
		{"preflight", http.MethodOptions, "http://localhost:5173", "http://localhost:5173"},
		{"foreign origin", http.MethodGet, "http://evil.test", ""},
		{"foreign preflight", http.MethodOptions, "http://evil.test", ""},
		{"no origin", http.MethodGet, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/users/me", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", http.MethodGet)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Less(t, rr.Code, 300)
			assert.Equal(t, tt.wantAllowed, rr.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantAllowed != "" {
				assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
			}
		})
	}
}

func TestCORS_PreflightHeaders(t *testing.T) {
	h := CORS(CORSConfig{AllowedOrigins: []string{"*"}, AllowCredentials: true})(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodOptions, "/games", nil)
	req.Header.Set("Origin", "http://anything.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Less(t, rr.Code, 300)
	assert.Empty(t, rr.Body.String(), "preflight must not reach the handler")
	assert.Equal(t, "http://anything.test", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Equal(t, "3600", rr.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_EmptyOriginListAllowsNothing(t *testing.T) {
	h := CORS(CORSConfig{})(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/games", nil)
	req.Header.Set("Origin", "http://anything.test")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
