// internal/monitoring/prober.go
package monitoring

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
)

// maxProbeBody bounds how much of a response is read for body matching.
const maxProbeBody = 1 << 20

type ProbeResult struct {
	Success    bool
	StatusCode int
	Duration   time.Duration
	Output     string
}

// Prober performs one active check against a health-check monitor.
type Prober interface {
	Probe(ctx context.Context, monitor *database.Monitor) *ProbeResult
}

type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber(client *http.Client) *HTTPProber {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProber{client: client}
}

// Probe succeeds when the status code is expected and, if a body regex is
// configured, the body matches it. Transport errors and timeouts are failed
// probes, never errors.
func (p *HTTPProber) Probe(ctx context.Context, monitor *database.Monitor) *ProbeResult {
	spec := monitor.HealthCheck
	if spec == nil {
		return &ProbeResult{Output: "monitor has no health check settings"}
	}

	timeout := time.Duration(spec.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, spec.URL, nil)
	if err != nil {
		return &ProbeResult{Output: fmt.Sprintf("invalid request: %v", err)}
	}
	req.Header.Set("User-Agent", "sentinel-healthcheck")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return &ProbeResult{Duration: time.Since(start), Output: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	result := &ProbeResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
	if err != nil {
		result.Output = fmt.Sprintf("failed to read body: %v", err)
		return result
	}

	if !statusExpected(resp.StatusCode, spec.ExpectedStatusCodes) {
		result.Output = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return result
	}

	if spec.BodyMatchRegex != "" {
		re, err := regexp.Compile(spec.BodyMatchRegex)
		if err != nil {
			result.Output = fmt.Sprintf("invalid body regex: %v", err)
			return result
		}
		if !re.Match(body) {
			result.Output = "body did not match"
			return result
		}
	}

	result.Success = true
	result.Output = fmt.Sprintf("status %d", resp.StatusCode)
	return result
}

func statusExpected(code int, expected []int) bool {
	if len(expected) == 0 {
		return code == http.StatusOK
	}
	for _, c := range expected {
		if c == code {
			return true
		}
	}
	return false
}
