package oidc

import (
	"net/http"
	"strings"
)

// Policy maps an HTTP request to a list of required roles/scopes.
// An empty or nil result means no RBAC check for that request.
type Policy func(*http.Request) []string

// RBAC enforces role/scope checks using the provided policy. It expects that
// the OIDC middleware has already attached a Subject to the context.
func RBAC(policy Policy) func(http.Handler) http.Handler {
	if policy == nil {
		policy = func(r *http.Request) []string { return nil }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			required := policy(r)
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			subj, ok := SubjectFromContext(r.Context())
			if !ok || !hasAny(subj, required) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// hasAny reports whether the subject has ANY of the required roles/scopes
// (exact match).
func hasAny(s *Subject, required []string) bool {
	if s == nil {
		return false
	}
	for _, req := range required {
		for _, r := range s.Roles {
			if r == req {
				return true
			}
		}
		for _, sc := range s.Scopes {
			if sc == req {
				return true
			}
		}
	}
	return false
}

// DefaultAdminPolicy defines minimal role requirements for Admin API endpoints:
// read endpoints (health, version, stats) require "admin.read"; the bucket
// emptier requires "admin.write". Non-admin routes carry no RBAC requirement.
func DefaultAdminPolicy() Policy {
	return func(r *http.Request) []string {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/admin/buckets/empty":
			return []string{"admin.write"}
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/admin/"):
			return []string{"admin.read"}
		default:
			return nil
		}
	}
}
