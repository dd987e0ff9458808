package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/perimeterhq/perimeter/internal/traces"
)

const maxResponseSize = 10 * 1024 * 1024 // 10MB

// ForwardResponse is the result of one backend call.
type ForwardResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	LatencyMs  int64
}

// Failed reports whether the response should count as a backend failure
// for circuit-breaking purposes. Only 5xx counts: a 4xx is the client's
// problem, not the backend's.
func (r *ForwardResponse) Failed() bool {
	return r.StatusCode >= 500
}

// Forwarder sends requests to backend services.
type Forwarder struct {
	client *http.Client
}

// NewForwarder creates a forwarder. Pass timeout=0 for the default.
func NewForwarder(timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultProxyTimeout
	}
	return &Forwarder{
		client: &http.Client{Timeout: timeout},
	}
}

// Forward replays the inbound request against baseURL+path. The tenant ID
// travels to the backend in X-Tenant-ID; hop-by-hop headers are dropped.
// Transport errors are classified into ErrBackendTimeout and
// ErrBackendUnreachable so the pipeline can map them to responses.
func (f *Forwarder) Forward(ctx context.Context, baseURL, path, rawQuery string, inbound *http.Request, tenantID string) (*ForwardResponse, error) {
	ctx, span := traces.StartSpan(ctx, "gateway.Forward",
		traces.TenantID(tenantID), traces.Endpoint(path))
	defer span.End()

	target := strings.TrimRight(baseURL, "/") + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	if _, err := url.Parse(target); err != nil {
		return nil, fmt.Errorf("build target url: %w", err)
	}

	var body io.Reader
	if inbound.Body != nil {
		data, err := io.ReadAll(io.LimitReader(inbound.Body, maxResponseSize))
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, inbound.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	copyForwardHeaders(req.Header, inbound.Header)
	req.Header.Set("X-Tenant-ID", tenantID)
	req.Header.Set("X-Forwarded-Host", inbound.Host)

	start := time.Now()
	resp, err := f.client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		err = classifyTransportError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend call failed")
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &ForwardResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       respBody,
		LatencyMs:  latency,
	}, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrBackendTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrBackendTimeout
	}
	return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
}

// hop-by-hop headers plus auth material that must not leak to backends.
var skipHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"X-Api-Key":           true,
	"Authorization":       true,
}

func copyForwardHeaders(dst, src http.Header) {
	for k, vv := range src {
		if skipHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
