package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func serve(t *testing.T, handler http.Handler, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireFirebaseAuth_AllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "host-1",
			Claims: map[string]any{
				"role":   []any{"Host", "admin", "host"},
				"locale": "ar-BH",
				"email":  "host@example.com",
			},
		},
	}
	authn := NewAuthenticator(verifier)

	called := false
	handler := authn.RequireFirebaseAuth(RoleHost)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "host-1" || identity.Locale != "ar-BH" || identity.Email != "host@example.com" {
			t.Fatalf("unexpected identity %+v", identity)
		}
		if len(identity.Roles) != 2 || !identity.HasRole(RoleHost) || !identity.IsAdmin() {
			t.Fatalf("expected deduplicated host+admin roles, got %v", identity.Roles)
		}
		if identity.Token() == nil {
			t.Fatalf("expected token to be retained")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := serve(t, handler, "Bearer token-value")
	if rr.Code != http.StatusNoContent || !called {
		t.Fatalf("expected handler to run, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
}

func TestRequireFirebaseAuth_MissingHeader(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{})
	handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not execute without a token")
	}))

	for _, header := range []string{"", "Basic abc", "Bearer   "} {
		rr := serve(t, handler, header)
		if rr.Code != http.StatusUnauthorized || errorCode(t, rr) != "unauthenticated" {
			t.Fatalf("header %q: expected 401 unauthenticated, got %d %s", header, rr.Code, rr.Body.String())
		}
	}
}

func TestRequireFirebaseAuth_ExpiredToken(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: ErrTokenExpired})
	handler := authn.RequireFirebaseAuth(RoleGuest)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not execute on expired token")
	}))

	rr := serve(t, handler, "Bearer expired-token")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "token_expired" {
		t.Fatalf("expected token_expired error, got %s", code)
	}
}

func TestRequireFirebaseAuth_RejectsMissingRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "guest-1", Claims: map[string]any{"role": "guest"}}}
	authn := NewAuthenticator(verifier)
	handler := authn.RequireFirebaseAuth(RoleAdmin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("guest must not reach admin handler")
	}))

	rr := serve(t, handler, "Bearer guest-token")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "insufficient_role" {
		t.Fatalf("expected insufficient_role, got %s", code)
	}
}

func TestRequireFirebaseAuth_MissingRoleUsesFallback(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-456", Claims: map[string]any{}}}
	authn := NewAuthenticator(verifier)

	handler := authn.RequireFirebaseAuth(RoleGuest)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if len(identity.Roles) != 1 || identity.Roles[0] != RoleGuest {
			t.Fatalf("expected fallback role %q, got %v", RoleGuest, identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	if rr := serve(t, handler, "Bearer missing-role-token"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestRolesFromClaimMapForm(t *testing.T) {
	roles := rolesFromClaim(map[string]any{"admin": true, "host": false, "guest": "yes"})
	if len(roles) != 1 || roles[0] != RoleAdmin {
		t.Fatalf("expected only enabled roles, got %v", roles)
	}
}
