package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testSecret = []byte("test-secret")

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetUserID(r.Context()); !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.Header().Set("X-User", GetRole(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	valid, err := IssueToken(testSecret, 42, "TUTOR", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	expired, _ := IssueToken(testSecret, 42, "TUTOR", -time.Hour)
	foreign, _ := IssueToken([]byte("other-secret"), 42, "TUTOR", time.Hour)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantRole   string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, "TUTOR"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, ""},
		{"expired token", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			AuthMiddleware(testSecret)(echoIdentity()).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := rec.Header().Get("X-User"); got != tt.wantRole {
				t.Errorf("Expected role %q, got %q", tt.wantRole, got)
			}
		})
	}
}

func TestParseTokenRejectsBadSubject(t *testing.T) {
	tok, err := IssueToken(testSecret, 0, "STUDENT", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, _, err := ParseToken(testSecret, tok); err == nil {
		t.Error("Expected error for non-positive subject")
	}
}

func TestTestUserMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Test-User-ID", "7")
	req.Header.Set("X-Test-User-Role", "admin")
	rec := httptest.NewRecorder()

	TestUserMiddleware(echoIdentity()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-User"); got != "ADMIN" {
		t.Errorf("Expected ADMIN, got %q", got)
	}

	rec = httptest.NewRecorder()
	TestUserMiddleware(echoIdentity()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without header, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole("ADMIN")(echoIdentity())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(WithUser(req.Context(), 1, "STUDENT")))
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for student, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(WithUser(req.Context(), 1, "ADMIN")))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for admin, got %d", rec.Code)
	}
}
