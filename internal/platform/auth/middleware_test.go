package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type verifierStub struct {
	token *firebaseauth.Token
	err   error
	seen  string
}

func (v *verifierStub) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	v.seen = idToken
	if v.err != nil {
		return nil, v.err
	}
	return v.token, nil
}

type userGetterStub struct {
	record  *firebaseauth.UserRecord
	calls   int
	lastUID string
}

func (u *userGetterStub) GetUser(_ context.Context, uid string) (*firebaseauth.UserRecord, error) {
	u.calls++
	u.lastUID = uid
	return u.record, nil
}

func TestRequireFirebaseAuthAdmitsAdmin(t *testing.T) {
	verifier := &verifierStub{
		token: &firebaseauth.Token{
			UID: "adm_7",
			Claims: map[string]interface{}{
				"role":   []interface{}{"admin"},
				"locale": "id-ID",
				"email":  "ops@warungkita.example",
			},
		},
	}
	users := &userGetterStub{record: &firebaseauth.UserRecord{
		UserInfo: &firebaseauth.UserInfo{UID: "adm_7", Email: "ops@warungkita.example"},
	}}
	authn := NewAuthenticator(verifier, WithUserGetter(users))

	var reached bool
	handler := authn.RequireFirebaseAuth(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true

		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("identity missing from context")
		}
		if identity.UID != "adm_7" {
			t.Fatalf("uid = %q", identity.UID)
		}
		if !identity.HasRole(RoleAdmin) {
			t.Fatalf("roles = %v, want admin", identity.Roles)
		}
		if identity.Locale != "id-ID" {
			t.Fatalf("locale = %q", identity.Locale)
		}

		first, err := identity.User(r.Context())
		if err != nil {
			t.Fatalf("User: %v", err)
		}
		second, err := identity.User(r.Context())
		if err != nil {
			t.Fatalf("User second call: %v", err)
		}
		if first != second {
			t.Fatal("user record not cached between calls")
		}

		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if !reached {
		t.Fatal("handler never ran")
	}
	if verifier.seen != "admin-token" {
		t.Fatalf("verifier saw %q", verifier.seen)
	}
	if users.calls != 1 || users.lastUID != "adm_7" {
		t.Fatalf("user loader calls=%d uid=%q", users.calls, users.lastUID)
	}
}

func TestRequireFirebaseAuthRejectsInsufficientRole(t *testing.T) {
	verifier := &verifierStub{
		token: &firebaseauth.Token{
			UID:    "usr_9",
			Claims: map[string]interface{}{"role": "user"},
		},
	}
	authn := NewAuthenticator(verifier)

	handler := authn.RequireFirebaseAuth(RoleAdmin, RoleStaff)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run for a customer token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer customer-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "insufficient_role" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestRequireFirebaseAuthExpiredToken(t *testing.T) {
	authn := NewAuthenticator(&verifierStub{err: ErrTokenExpired})

	handler := authn.RequireFirebaseAuth(RoleUser)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run on an expired token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer expired")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "token_expired" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestRequireFirebaseAuthMissingHeader(t *testing.T) {
	authn := NewAuthenticator(&verifierStub{})

	handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without a bearer token")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestRequireFirebaseAuthFallbackRole(t *testing.T) {
	verifier := &verifierStub{
		token: &firebaseauth.Token{UID: "usr_2", Claims: map[string]interface{}{}},
	}
	authn := NewAuthenticator(verifier)

	handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("identity missing from context")
		}
		if len(identity.Roles) != 1 || identity.Roles[0] != RoleUser {
			t.Fatalf("roles = %v, want [%s]", identity.Roles, RoleUser)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer claimless")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
}

func TestRoleClaimMembershipMap(t *testing.T) {
	verifier := &verifierStub{
		token: &firebaseauth.Token{
			UID: "stf_1",
			Claims: map[string]interface{}{
				"role": map[string]interface{}{"staff": true, "admin": false},
			},
		},
	}
	authn := NewAuthenticator(verifier)

	handler := authn.RequireFirebaseAuth(RoleStaff)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if identity.HasRole(RoleAdmin) {
			t.Fatalf("disabled role granted: %v", identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/products", nil)
	req.Header.Set("Authorization", "Bearer staff-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
}
