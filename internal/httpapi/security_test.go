package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	_, handler := newTestAPI(t)

	for _, path := range []string{
		"/api/v1/sales",
		"/api/v1/transfers",
		"/api/v1/items",
		"/api/v1/audit-logs",
	} {
		rec := doJSON(t, handler, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without token, got %d", path, rec.Code)
		}
	}
}

func TestAuditLogsForbiddenForStaff(t *testing.T) {
	_, handler := newTestAPI(t)
	token := loginAs(t, handler, "staff", "test-staff-pass")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff, got %d", rec.Code)
	}
}

func TestSecurityHeadersPresent(t *testing.T) {
	_, handler := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("health check failed: %d", rec.Code)
	}
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("header %s = %q, want %q", header, got, want)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, handler := newTestAPI(t)
	token := loginAs(t, handler, "manager", "test-staff-pass")

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/sales", token, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/items", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestUnclassifiedErrorMaskedAsInternal(t *testing.T) {
	err := fmt.Errorf("dial tcp 10.0.0.5:5432: connection refused")

	status := statusForError(err)
	if status != http.StatusInternalServerError {
		t.Fatalf("unclassified error must map to 500, got %d", status)
	}

	rec := httptest.NewRecorder()
	writeError(rec, status, err)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "10.0.0.5") {
		t.Fatalf("storage detail must not reach the client: %s", body)
	}
	if !strings.Contains(body, "internal server error") {
		t.Fatalf("expected generic message, got %s", body)
	}
}
