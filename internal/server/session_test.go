package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func requestWithCookies(rec *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest("GET", "/user", nil)
	for _, c := range rec.Result().Cookies() {
		r.AddCookie(c)
	}
	return r
}

func TestSessionManager_IssueVerify(t *testing.T) {
	m := NewSessionManager("top-secret", false)

	rec := httptest.NewRecorder()
	m.Issue(rec, 42)

	tenantID, ok := m.Verify(requestWithCookies(rec))
	if !ok {
		t.Fatal("Verify() rejected a freshly issued session")
	}
	if tenantID != 42 {
		t.Errorf("tenant id = %d, want 42", tenantID)
	}
}

func TestSessionManager_RejectsTamperedCookie(t *testing.T) {
	m := NewSessionManager("top-secret", false)

	rec := httptest.NewRecorder()
	m.Issue(rec, 42)
	cookie := rec.Result().Cookies()[0]

	// Swap the tenant id while keeping the original signature.
	r := httptest.NewRequest("GET", "/user", nil)
	r.AddCookie(&http.Cookie{Name: "session", Value: strings.Replace(cookie.Value, "42.", "43.", 1)})
	if _, ok := m.Verify(r); ok {
		t.Error("Verify() accepted a tampered cookie")
	}
}

func TestSessionManager_RejectsWrongSecret(t *testing.T) {
	issuer := NewSessionManager("secret-a", false)
	verifier := NewSessionManager("secret-b", false)

	rec := httptest.NewRecorder()
	issuer.Issue(rec, 42)

	if _, ok := verifier.Verify(requestWithCookies(rec)); ok {
		t.Error("Verify() accepted a cookie signed with a different secret")
	}
}

func TestSessionManager_RejectsMissingOrMalformedCookie(t *testing.T) {
	m := NewSessionManager("top-secret", false)

	if _, ok := m.Verify(httptest.NewRequest("GET", "/user", nil)); ok {
		t.Error("Verify() accepted a request without a cookie")
	}

	r := httptest.NewRequest("GET", "/user", nil)
	r.AddCookie(&http.Cookie{Name: "session", Value: "not-a-session"})
	if _, ok := m.Verify(r); ok {
		t.Error("Verify() accepted a malformed cookie")
	}
}
