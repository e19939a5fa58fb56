package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/stretchr/testify/assert"
)

func healthMonitor(url string, codes []int, regex string) *database.Monitor {
	m := &database.Monitor{
		Type:            database.MonitorHealthCheck,
		IntervalSeconds: 30,
		HealthCheck: &database.HealthCheckSpec{
			URL:                 url,
			ExpectedStatusCodes: codes,
			BodyMatchRegex:      regex,
		},
	}
	m.ApplyDefaults()
	return m
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"status":"healthy"}`))
		case "/created":
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	p := NewHTTPProber(srv.Client())
	ctx := context.Background()

	tests := []struct {
		name    string
		monitor *database.Monitor
		want    bool
	}{
		{"default expects 200", healthMonitor(srv.URL+"/ok", nil, ""), true},
		{"body matches", healthMonitor(srv.URL+"/ok", nil, `"status":"healthy"`), true},
		{"body mismatch", healthMonitor(srv.URL+"/ok", nil, `degraded`), false},
		{"custom status list", healthMonitor(srv.URL+"/created", []int{200, 201}, ""), true},
		{"unexpected status", healthMonitor(srv.URL+"/down", nil, ""), false},
		{"unreachable", healthMonitor("http://127.0.0.1:1/", nil, ""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Probe(ctx, tt.monitor)
			assert.Equal(t, tt.want, res.Success, res.Output)
		})
	}
}
