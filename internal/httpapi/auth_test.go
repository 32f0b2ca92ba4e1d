package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/service"
	"salonpos/backend/internal/store/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestAPI(t *testing.T) (*API, http.Handler) {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "test-admin-pass")
	t.Setenv("SEED_STAFF_PASSWORD", "test-staff-pass")

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, false)
	auth := NewAuthManager(testSecret, time.Hour, repo)
	api := New(svc, auth, "http://127.0.0.1:3000")
	return api, api.Handler()
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func loginAs(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: username,
		Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("expected access token")
	}
	return resp.AccessToken
}

func TestLoginReturnsTenantAndRole(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "admin",
		Password: "test-admin-pass",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Role != domain.RoleAdmin || resp.TenantID != "tenant-demo" {
		t.Fatalf("unexpected login response: %+v", resp)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "admin",
		Password: "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	_, handler := newTestAPI(t)

	for i := 0; i < 5; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
			Username: "admin",
			Password: "wrong",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rec.Code)
		}
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "admin",
		Password: "wrong",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", rec.Code)
	}
}

func TestParseTokenRoundTrip(t *testing.T) {
	api, handler := newTestAPI(t)

	token := loginAs(t, handler, "manager", "test-staff-pass")
	actor, err := api.auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "manager" || actor.Role != domain.RoleManager || actor.TenantID != "tenant-demo" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	api, handler := newTestAPI(t)

	token := loginAs(t, handler, "staff", "test-staff-pass")
	tampered := token[:len(token)-2] + "xx"
	if _, err := api.auth.ParseToken(tampered); err == nil {
		t.Fatalf("tampered token must be rejected")
	}

	other := NewAuthManager("another-secret-that-is-long-enough!", time.Hour, nil)
	if _, err := other.ParseToken(token); err == nil {
		t.Fatalf("token signed with a different secret must be rejected")
	}
}

func TestHashPasswordVerifies(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if !isPasswordHash(hash) {
		t.Fatalf("hash %q is not in bcrypt format", hash)
	}
	if !verifyPassword(hash, "s3cret-pass") {
		t.Fatalf("correct password must verify")
	}
	if verifyPassword(hash, "wrong-pass") {
		t.Fatalf("wrong password must not verify")
	}
}
