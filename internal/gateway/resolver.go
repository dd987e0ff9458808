package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/perimeterhq/perimeter/internal/tenant"
)

// Resolver maps an incoming request to a tenant. Three mechanisms are
// tried in order, and the first one present decides: a subdomain of the
// configured base domain, the X-Tenant-ID header, then a /tenant/{id}/
// path prefix. A present-but-wrong identifier fails the request rather
// than falling through to the next mechanism.
type Resolver struct {
	dir        *tenant.Directory
	baseDomain string
}

// NewResolver creates a tenant resolver. baseDomain may be empty to
// disable subdomain resolution.
func NewResolver(dir *tenant.Directory, baseDomain string) *Resolver {
	return &Resolver{dir: dir, baseDomain: strings.ToLower(baseDomain)}
}

// Resolve identifies the tenant behind req. Returns ErrTenantNotResolved
// when no mechanism is present, or tenant.ErrTenantNotFound when an
// identifier is present but unknown.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (*tenant.Tenant, error) {
	if sub := r.subdomain(req.Host); sub != "" {
		return r.dir.GetByDomain(ctx, sub)
	}
	if id := req.Header.Get("X-Tenant-ID"); id != "" {
		return r.dir.Get(ctx, id)
	}
	if id := pathTenantID(req.URL.Path); id != "" {
		return r.dir.Get(ctx, id)
	}
	return nil, ErrTenantNotResolved
}

// subdomain extracts the tenant label from hosts like acme.api.example.com
// when the base domain is api.example.com. Nested labels do not resolve.
func (r *Resolver) subdomain(host string) string {
	if r.baseDomain == "" {
		return ""
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	host = strings.ToLower(host)
	if !strings.HasSuffix(host, "."+r.baseDomain) {
		return ""
	}
	label := strings.TrimSuffix(host, "."+r.baseDomain)
	if label == "" || strings.Contains(label, ".") {
		return ""
	}
	return label
}

// pathTenantID extracts the id from /tenant/{id}/... paths.
func pathTenantID(path string) string {
	const prefix = "/tenant/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := path[len(prefix):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// StripTenantPrefix removes a /tenant/{id} prefix so downstream routing
// sees the same path regardless of the resolution mechanism used.
func StripTenantPrefix(path string) string {
	id := pathTenantID(path)
	if id == "" {
		return path
	}
	stripped := strings.TrimPrefix(path, "/tenant/"+id)
	if stripped == "" {
		return "/"
	}
	return stripped
}
