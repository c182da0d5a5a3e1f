package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"untrusted keeps remote", "203.0.113.5:4000", map[string]string{"X-Real-IP": "1.2.3.4"}, "203.0.113.5:4000"},
		{"trusted uses X-Real-IP", "10.1.2.3:4000", map[string]string{"X-Real-IP": "198.51.100.9"}, "198.51.100.9"},
		{"trusted uses first forwarded", "10.1.2.3:4000", map[string]string{"X-Forwarded-For": "198.51.100.9, 10.1.2.3"}, "198.51.100.9"},
		{"forwarded skips trusted hops", "10.1.2.3:4000", map[string]string{"X-Forwarded-For": "203.0.113.7, 198.51.100.9, 10.1.2.4"}, "198.51.100.9"},
		{"all hops trusted keeps remote", "10.1.2.3:4000", map[string]string{"X-Forwarded-For": "10.9.9.9"}, "10.1.2.3:4000"},
		{"trusted single ip entry", "192.168.1.10:80", map[string]string{"X-Real-IP": "198.51.100.1"}, "198.51.100.1"},
		{"garbage header ignored", "10.1.2.3:4000", map[string]string{"X-Real-IP": "not-an-ip"}, "10.1.2.3:4000"},
	}

	h := TrustedRealIP([]string{"10.0.0.0/8", "192.168.1.10", "bogus"})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) { got = r.RemoteAddr })

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h(next).ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}

type recordedRequest struct {
	route  string
	status int
}

type recordingObserver struct{ got []recordedRequest }

func (o *recordingObserver) ObserveRequest(route string, status int, _ time.Duration) {
	o.got = append(o.got, recordedRequest{route, status})
}

func TestLogger_ObservesRoutePattern(t *testing.T) {
	obs := &recordingObserver{}
	r := chi.NewRouter()
	r.Use(Logger(obs))
	r.Get("/api/imports/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/imports/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, []recordedRequest{
		{"/api/imports/{id}", http.StatusNotFound},
		{"unmatched", http.StatusNotFound},
	}, obs.got)
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	called := false
	h := APIKeyAuth(false, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestAPIKeyAuth_RequiredWithoutKeysRejects(t *testing.T) {
	h := APIKeyAuth(true, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"invalid API key","message":"invalid API key","code":"AUTH002"}`, rec.Body.String())
}
