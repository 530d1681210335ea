package api

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/mediaflow/internal/jobs"
	"github.com/mattjoyce/mediaflow/internal/workspace"
)

// DefaultClient is used when no usable address is found.
const DefaultClient = "default_user"

type ctxKey int

const (
	clientKey ctxKey = iota
	serviceKey
)

// proxyHeaders are consulted after X-Forwarded-For, in order.
var proxyHeaders = []string{"X-Real-IP", "CF-Connecting-IP"}

// ClientIdentity derives the client partition key for r. Proxy headers are
// only read when trustHeaders is set. Loopback 127.0.0.1 and addresses
// starting with "::" are skipped.
func ClientIdentity(r *http.Request, trustHeaders bool) string {
	if trustHeaders {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if usableAddr(first) {
				return workspace.SafeSegment(first)
			}
		}
		for _, h := range proxyHeaders {
			if v := strings.TrimSpace(r.Header.Get(h)); usableAddr(v) {
				return workspace.SafeSegment(v)
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if usableAddr(host) {
		return workspace.SafeSegment(host)
	}
	return DefaultClient
}

func usableAddr(v string) bool {
	return v != "" && v != "127.0.0.1" && !strings.HasPrefix(v, "::")
}

// serviceMiddleware rejects unknown services and stores the service and
// client identity on the request context.
func (s *Server) serviceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		service := chi.URLParam(r, "service")
		if !s.knownService(service) {
			s.writeError(w, jobs.NotFound("unknown service %q", service))
			return
		}
		ctx := context.WithValue(r.Context(), serviceKey, service)
		ctx = context.WithValue(ctx, clientKey, ClientIdentity(r, s.config.TrustProxyHeaders))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) knownService(name string) bool {
	for _, svc := range s.dispatcher.Services() {
		if svc == name {
			return true
		}
	}
	return false
}

func clientFrom(r *http.Request) string {
	if v, ok := r.Context().Value(clientKey).(string); ok {
		return v
	}
	return DefaultClient
}

func serviceFrom(r *http.Request) string {
	v, _ := r.Context().Value(serviceKey).(string)
	return v
}
