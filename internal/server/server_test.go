package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/perimeterhq/perimeter/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing (in-memory everything)
func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		BaseDomain:       "api.example.com",
		ProxyTimeout:     2 * time.Second,
		CacheTTL:         time.Minute,
		AnalyticsQueue:   64,
		BreakerThreshold: 5,
		BreakerRecovery:  time.Minute,
		AdminSecret:      "test-secret",
		AllowedOrigins:   []string{"*"},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func adminRequest(method, path, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-Admin-Secret", "test-secret")
	return req
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	// No external dependencies registered in memory mode.
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/status", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["storage"] != "memory" {
		t.Errorf("Expected memory storage, got %v", resp["storage"])
	}
	if resp["rate_limiter"] != "local" {
		t.Errorf("Expected local rate limiter, got %v", resp["rate_limiter"])
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/status",
		"GET:/metrics",
		"POST:/admin/v1/tenants",
		"GET:/admin/v1/tenants/:id",
		"GET:/admin/v1/tenants/:id/usage",
		"POST:/admin/v1/tenants/:id/policies",
		"POST:/admin/v1/services",
		"GET:/admin/v1/tenants/:id/requests",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

func TestProxyRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	found := 0
	for _, route := range s.router.Routes() {
		if route.Path == "/api/v1/:service/*rest" || route.Path == "/tenant/:tenant/api/v1/:service/*rest" {
			found++
		}
	}
	// gin registers one entry per method for Any().
	if found == 0 {
		t.Error("Proxy routes not registered")
	}
}

// ---------------------------------------------------------------------------
// Admin auth tests
// ---------------------------------------------------------------------------

func TestAdminRoutesRequireSecret(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/admin/v1/tenants", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without secret, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, adminRequest("GET", "/admin/v1/tenants", ""))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with secret, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Tenant provisioning test
// ---------------------------------------------------------------------------

func TestTenantProvisioning(t *testing.T) {
	s := newTestServer(t)

	body := `{"name":"Acme","domain":"acme","plan":"starter"}`
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, adminRequest("POST", "/admin/v1/tenants", body))

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["apiKey"] == nil || resp["apiKey"] == "" {
		t.Error("Expected apiKey in provisioning response")
	}

	tn, ok := resp["tenant"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected tenant object, got %v", resp["tenant"])
	}
	id, _ := tn["id"].(string)
	if id == "" {
		t.Fatal("Expected tenant id")
	}

	// Plan defaults were seeded: the usage snapshot lists governed resources.
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, adminRequest("GET", "/admin/v1/tenants/"+id+"/usage", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for usage, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "api_calls") {
		t.Errorf("Expected seeded api_calls quota, got %s", w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Malformed ID test
// ---------------------------------------------------------------------------

func TestMalformedTenantIDRejected(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, adminRequest("GET", "/admin/v1/tenants/not-an-id!", ""))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed id, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
