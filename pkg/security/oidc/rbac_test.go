package oidc

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func makeReq(method, path string, subj *Subject) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if subj != nil {
		req = req.WithContext(WithSubject(req.Context(), subj))
	}
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestDefaultAdminPolicyMappings(t *testing.T) {
	p := DefaultAdminPolicy()

	cases := []struct {
		method string
		path   string
		want   string // empty means no requirement
	}{
		{http.MethodGet, "/admin/health", "admin.read"},
		{http.MethodGet, "/admin/version", "admin.read"},
		{http.MethodGet, "/admin/stats", "admin.read"},
		{http.MethodPost, "/admin/buckets/empty", "admin.write"},
		{http.MethodGet, "/metrics", ""},
		{http.MethodPut, "/mybucket/key", ""},
	}
	for _, c := range cases {
		got := p(httptest.NewRequest(c.method, c.path, nil))
		if c.want == "" {
			if got != nil {
				t.Fatalf("policy(%s %s) = %v, want nil", c.method, c.path, got)
			}
			continue
		}
		if len(got) != 1 || got[0] != c.want {
			t.Fatalf("policy(%s %s) = %v, want [%s]", c.method, c.path, got, c.want)
		}
	}
}

func TestRBACNoRequirementPassesWithoutSubject(t *testing.T) {
	h := RBAC(nil)(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, makeReq(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}
}

func TestRBACRequireRoleNoSubjectForbidden(t *testing.T) {
	policy := func(r *http.Request) []string { return []string{"admin.read"} }
	h := RBAC(policy)(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, makeReq(http.MethodGet, "/admin/health", nil))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("want 403, got %d", rr.Code)
	}
}

func TestRBACRoleOrScopeSatisfies(t *testing.T) {
	policy := func(r *http.Request) []string { return []string{"admin.write"} }
	h := RBAC(policy)(okHandler())

	for _, subj := range []*Subject{
		{Subject: "alice", Roles: []string{"admin.write"}},
		{Subject: "bob", Scopes: []string{"admin.write"}},
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, makeReq(http.MethodPost, "/admin/buckets/empty", subj))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: want 200, got %d", subj.Subject, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, makeReq(http.MethodPost, "/admin/buckets/empty",
		&Subject{Subject: "carol", Roles: []string{"admin.read"}}))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("wrong role: want 403, got %d", rr.Code)
	}
}
