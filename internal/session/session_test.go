package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zorosafi2003/CenterPhoneApp/internal/api"
	"github.com/zorosafi2003/CenterPhoneApp/internal/config"
)

func loginServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"isSuccess": true,
			"value":     map[string]string{"fullName": "Teacher One", "token": token, "teacherName": "T1"},
		})
	}))
}

func newClient(srv *httptest.Server) *api.Client {
	eps := config.DefaultEndpoints()
	eps.BaseURL = srv.URL
	return api.New(eps, 5*time.Second)
}

func TestLoginPersistsAndRestores(t *testing.T) {
	srv := loginServer(t, "tok-1")
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "credentials.json")
	m := NewManager(path)
	if err := m.Login(context.Background(), newClient(srv), "t1@example.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !m.Authenticated() || m.Token() != "tok-1" {
		t.Fatalf("session not active after login")
	}

	restored := NewManager(path)
	if !restored.Restore() {
		t.Fatal("expected restore to succeed")
	}
	if restored.Email() != "t1@example.com" || restored.Token() != "tok-1" {
		t.Fatalf("restored wrong identity: %s/%s", restored.Email(), restored.Token())
	}
}

func TestLogoutClearsCredentialFile(t *testing.T) {
	srv := loginServer(t, "tok-1")
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "credentials.json")
	m := NewManager(path)
	if err := m.Login(context.Background(), newClient(srv), "t1@example.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	m.Logout()

	if m.Authenticated() || m.Token() != "" {
		t.Fatal("session still active after logout")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("credentials file still present: %v", err)
	}
}

func TestHandleAuthErrorForcesSingleLogout(t *testing.T) {
	srv := loginServer(t, "tok-1")
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "credentials.json")
	m := NewManager(path)
	if err := m.Login(context.Background(), newClient(srv), "t1@example.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}

	// Drain the login transition so we can observe the logout one.
	<-m.Changes()

	if !m.HandleAuthError(api.ErrAuthExpired) {
		t.Fatal("expected auth error to be consumed")
	}
	if m.Authenticated() {
		t.Fatal("still authenticated after forced logout")
	}

	state := <-m.Changes()
	if state.Authenticated {
		t.Fatal("expected logged-out transition")
	}

	// A second 401 on another in-flight call must not emit a second logout.
	if !m.HandleAuthError(api.ErrAuthExpired) {
		t.Fatal("expected auth error to be consumed")
	}
	select {
	case state := <-m.Changes():
		t.Fatalf("unexpected extra transition: %+v", state)
	default:
	}

	if m.HandleAuthError(context.DeadlineExceeded) {
		t.Fatal("non-auth error must not be consumed")
	}
}

func TestTokenExpiredReadsExpClaim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	m := NewManager(path)

	sign := func(exp time.Time) string {
		claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return token
	}

	if !m.TokenExpired(time.Now()) {
		t.Fatal("empty token must count as expired")
	}

	m.creds.Token = sign(time.Now().Add(time.Hour))
	if m.TokenExpired(time.Now()) {
		t.Fatal("live token reported expired")
	}

	m.creds.Token = sign(time.Now().Add(-time.Hour))
	if !m.TokenExpired(time.Now()) {
		t.Fatal("stale token reported live")
	}

	// Opaque (non-JWT) tokens are left for the server to judge.
	m.creds.Token = "opaque-token"
	if m.TokenExpired(time.Now()) {
		t.Fatal("opaque token must not be treated as expired")
	}
}
