package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
)

// Config defines OIDC verification settings for the Admin API.
// Typical minimal config requires Issuer and ClientID, or a JWKSURL + Audience.
type Config struct {
	// Issuer is the OIDC issuer URL. When provided, the provider's well-known
	// metadata is used to discover JWKS and other endpoints.
	Issuer string

	// ClientID is the expected audience/client_id for ID tokens. If Audience
	// is not set, ClientID is used as the expected audience.
	ClientID string

	// Audience, when set, overrides ClientID as the expected audience value.
	Audience string

	// JWKSURL is an optional direct JWKS endpoint URL. When provided without
	// Issuer, verification uses a remote key set fetched from JWKSURL.
	JWKSURL string
}

// Verifier validates Bearer tokens using OIDC discovery or a direct JWKS URL.
type Verifier struct {
	verifier *gooidc.IDTokenVerifier
}

// NewVerifier builds a token verifier based on the provided Config.
func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	expectedAud := cfg.Audience
	if expectedAud == "" {
		expectedAud = cfg.ClientID
	}

	switch {
	case cfg.Issuer != "":
		provider, err := gooidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("oidc: provider discovery failed: %w", err)
		}
		return &Verifier{verifier: provider.Verifier(&gooidc.Config{ClientID: expectedAud})}, nil
	case cfg.JWKSURL != "":
		ks := gooidc.NewRemoteKeySet(ctx, cfg.JWKSURL)
		// Empty issuer skips the issuer check.
		return &Verifier{verifier: gooidc.NewVerifier(cfg.Issuer, ks, &gooidc.Config{ClientID: expectedAud})}, nil
	default:
		return nil, errors.New("oidc: either Issuer or JWKSURL must be provided")
	}
}

// Subject holds verified identity fields extracted from the token.
type Subject struct {
	Subject   string
	Issuer    string
	Audience  string
	ExpiresAt time.Time
	Roles     []string
	Scopes    []string
}

// Verify parses and validates a Bearer token string and returns subject info.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Subject, error) {
	if v == nil || v.verifier == nil {
		return nil, errors.New("oidc: verifier not initialized")
	}
	idt, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("oidc: token verification failed: %w", err)
	}
	var claims struct {
		Exp         int64  `json:"exp"`
		Sub         string `json:"sub"`
		Iss         string `json:"iss"`
		Aud         any    `json:"aud"` // string or []string
		Roles       any    `json:"roles"`
		Scope       string `json:"scope"`
		Scp         any    `json:"scp"`
		RealmAccess struct {
			Roles []string `json:"roles"`
		} `json:"realm_access"`
	}
	if err := idt.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oidc: parse claims: %w", err)
	}

	roles := stringList(claims.Roles)
	roles = append(roles, claims.RealmAccess.Roles...)
	roles = dedup(roles)

	var scopes []string
	scopes = append(scopes, splitScope(claims.Scope)...)
	switch t := claims.Scp.(type) {
	case string:
		scopes = append(scopes, splitScope(t)...)
	default:
		scopes = append(scopes, stringList(t)...)
	}

	return &Subject{
		Subject:   claims.Sub,
		Issuer:    claims.Iss,
		Audience:  firstAudience(claims.Aud),
		ExpiresAt: time.Unix(claims.Exp, 0).UTC(),
		Roles:     roles,
		Scopes:    dedup(scopes),
	}, nil
}

// firstAudience normalizes the aud claim, which may be a string or a list.
func firstAudience(aud any) string {
	switch t := aud.(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	case []string:
		if len(t) > 0 {
			return t[0]
		}
	}
	return ""
}

// stringList accepts the loose claim encodings IdPs use for role-like fields:
// a JSON array, a string array, or a single string.
func stringList(v any) []string {
	var out []string
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range t {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		if strings.TrimSpace(t) != "" {
			out = append(out, strings.TrimSpace(t))
		}
	}
	return out
}

func splitScope(s string) []string {
	var out []string
	for _, p := range strings.Fields(s) {
		out = append(out, p)
	}
	return out
}

func dedup(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// VerifierIface allows plugging a custom verifier (and simplifies testing).
type VerifierIface interface {
	Verify(ctx context.Context, rawToken string) (*Subject, error)
}

// Context helpers to access the verified subject downstream (e.g., RBAC).
type contextKey string

const subjectContextKey contextKey = "oidcSubject"

func WithSubject(ctx context.Context, s *Subject) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, subjectContextKey, s)
}

func SubjectFromContext(ctx context.Context) (*Subject, bool) {
	s, ok := ctx.Value(subjectContextKey).(*Subject)
	return s, ok && s != nil
}

// Middleware enforces OIDC Bearer auth on incoming requests. It expects
// Authorization: Bearer <token>. On success it sets X-Admin-Subject and
// attaches the subject to the request context. On failure it returns 401.
func Middleware(v VerifierIface, exempt func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt != nil && exempt(r) {
				next.ServeHTTP(w, r)
				return
			}
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
			subj, err := v.Verify(r.Context(), raw)
			if err != nil || subj == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			w.Header().Set("X-Admin-Subject", subj.Subject)
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subj)))
		})
	}
}
