package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/withgift/storefront/internal/session"
	"github.com/withgift/storefront/pkg/logger"
)

func newTestSession(t *testing.T) *session.Store {
	t.Helper()
	return session.NewStore(filepath.Join(t.TempDir(), "session.json"), logger.NewNop())
}

func newTestClient(t *testing.T, serverURL string, sess *session.Store) *Client {
	t.Helper()
	return New(serverURL, sess, WithLogger(logger.NewNop()))
}

func TestClient_AttachesBearerToken(t *testing.T) {
	sess := newTestSession(t)
	if err := sess.Set("token-abc", "refresh"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-abc" {
			t.Errorf("Authorization = %q, want Bearer token-abc", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, sess)
	if err := client.Get(context.Background(), "/anything", nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
}

func TestClient_NoTokenNoHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want empty", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, newTestSession(t))
	if err := client.Get(context.Background(), "/public", nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
}

func TestClient_RefreshAndRetryOn401(t *testing.T) {
	sess := newTestSession(t)
	if err := sess.Set("stale-token", "refresh-token"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var refreshCalls, dataCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			refreshCalls++
			var req struct {
				RefreshToken string `json:"refresh_token"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			if req.RefreshToken != "refresh-token" {
				t.Errorf("refresh_token = %q, want refresh-token", req.RefreshToken)
			}
			json.NewEncoder(w).Encode(map[string]string{
				"access_token":  "fresh-token",
				"refresh_token": "fresh-refresh",
			})
		case "/data":
			dataCalls++
			if r.Header.Get("Authorization") == "Bearer fresh-token" {
				json.NewEncoder(w).Encode(map[string]string{"value": "hello"})
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, sess)

	var out struct {
		Value string `json:"value"`
	}
	if err := client.Get(context.Background(), "/data", &out); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want exactly 1", refreshCalls)
	}
	if dataCalls != 2 {
		t.Errorf("data calls = %d, want 2 (original + retry)", dataCalls)
	}
	if out.Value != "hello" {
		t.Errorf("value = %q, want hello", out.Value)
	}
	if token, _ := sess.Token(); token != "fresh-token" {
		t.Errorf("stored token = %q, want fresh-token", token)
	}
}

func TestClient_RetriesAtMostOnce(t *testing.T) {
	sess := newTestSession(t)
	if err := sess.Set("stale", "refresh"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var refreshCalls, dataCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			refreshCalls++
			json.NewEncoder(w).Encode(map[string]string{"access_token": "still-bad"})
		default:
			dataCalls++
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, sess)
	err := client.Get(context.Background(), "/data", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 APIError", err)
	}
	if refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want 1", refreshCalls)
	}
	if dataCalls != 2 {
		t.Errorf("data calls = %d, want 2 (no second retry)", dataCalls)
	}
}

func TestClient_Unauthenticated401IsPlainError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh" {
			t.Error("refresh must not be attempted without a session")
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	expired := false
	client := New(server.URL, newTestSession(t),
		WithLogger(logger.NewNop()),
		WithOnSessionExpired(func() { expired = true }),
	)

	err := client.Get(context.Background(), "/private", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want plain 401 APIError", err)
	}
	if expired {
		t.Error("OnSessionExpired must not fire for an unauthenticated request")
	}
}

func TestClient_RefreshFailureClearsSession(t *testing.T) {
	sess := newTestSession(t)
	if err := sess.Set("stale", "dead-refresh"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	expired := false
	client := New(server.URL, sess,
		WithLogger(logger.NewNop()),
		WithOnSessionExpired(func() { expired = true }),
	)

	err := client.Get(context.Background(), "/data", nil)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	if _, ok := sess.Token(); ok {
		t.Error("session should be cleared after refresh failure")
	}
	if !expired {
		t.Error("OnSessionExpired hook should have fired")
	}
}

func TestClient_Login(t *testing.T) {
	sess := newTestSession(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" {
			t.Errorf("path = %s, want /auth/login", r.URL.Path)
		}
		var req struct {
			LoginID  string `json:"login_id"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.LoginID != "alice" || req.Password != "pw" {
			t.Errorf("credentials = %q/%q", req.LoginID, req.Password)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "login-token",
			"refresh_token": "login-refresh",
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, sess)
	if err := client.Login(context.Background(), "alice", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	token, ok := sess.Token()
	if !ok || token != "login-token" {
		t.Errorf("Token() = %q, %v, want login-token, true", token, ok)
	}
}

func TestClient_APIErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"message": "quantity out of range"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, newTestSession(t))
	err := client.Post(context.Background(), "/cart", map[string]int{"quantity": -1}, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", apiErr.Status)
	}
	if apiErr.Message != "quantity out of range" {
		t.Errorf("message = %q, want quantity out of range", apiErr.Message)
	}
}
