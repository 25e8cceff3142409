// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pajowu/matrix-migrate/lib/ref"
	"github.com/pajowu/matrix-migrate/lib/secret"
)

// testBuffer creates a secret.Buffer from a string for testing. The
// buffer is automatically closed when the test completes.
func testBuffer(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromString(value)
	if err != nil {
		t.Fatalf("creating test buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func TestNewClient(t *testing.T) {
	t.Run("valid URL", func(t *testing.T) {
		client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:8008"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if client == nil {
			t.Fatal("NewClient returned nil")
		}
	})

	t.Run("empty URL", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{}); err == nil {
			t.Fatal("expected error for empty URL")
		}
	})

	t.Run("trailing slash stripped", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/_matrix/client/v3/login" {
				t.Errorf("unexpected path: %s", request.URL.Path)
			}
			json.NewEncoder(writer).Encode(AuthResponse{
				UserID:      ref.MustParseUserID("@alice:test.local"),
				AccessToken: "syt_token",
				DeviceID:    "DEVICE1",
			})
		}))
		defer server.Close()

		client, err := NewClient(ClientConfig{HomeserverURL: server.URL + "/"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		session, err := client.Login(context.Background(), "alice", testBuffer(t, "pw"))
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		defer session.Close()
	})
}

func TestLogin(t *testing.T) {
	t.Run("successful login", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.Method != http.MethodPost {
				t.Errorf("unexpected method: %s", request.Method)
			}
			var body LoginRequest
			if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode request body: %v", err)
			}
			if body.Type != "m.login.password" {
				t.Errorf("unexpected login type: %s", body.Type)
			}
			if body.User != "alice" || body.Password != "password123" {
				t.Errorf("unexpected credentials: %s / %s", body.User, body.Password)
			}
			json.NewEncoder(writer).Encode(AuthResponse{
				UserID:      ref.MustParseUserID("@alice:test.local"),
				AccessToken: "syt_alice_token",
				DeviceID:    "DEVICE1",
			})
		}))
		defer server.Close()

		client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		session, err := client.Login(context.Background(), "alice", testBuffer(t, "password123"))
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		defer session.Close()

		if session.UserID().String() != "@alice:test.local" {
			t.Errorf("unexpected user ID: %s", session.UserID())
		}
		if session.DeviceID() != "DEVICE1" {
			t.Errorf("unexpected device ID: %s", session.DeviceID())
		}
	})

	t.Run("wrong password surfaces matrix error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.Header().Set("Content-Type", "application/json")
			writer.WriteHeader(http.StatusForbidden)
			json.NewEncoder(writer).Encode(map[string]any{
				"errcode": ErrCodeForbidden,
				"error":   "Invalid password",
			})
		}))
		defer server.Close()

		client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		_, err = client.Login(context.Background(), "alice", testBuffer(t, "wrong"))
		if !IsMatrixError(err, ErrCodeForbidden) {
			t.Fatalf("err = %v, want M_FORBIDDEN", err)
		}
		var matrixErr *MatrixError
		if !errors.As(err, &matrixErr) || matrixErr.StatusCode != http.StatusForbidden {
			t.Errorf("status code not preserved: %v", err)
		}
	})

	t.Run("missing credentials rejected locally", func(t *testing.T) {
		client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:8008"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if _, err := client.Login(context.Background(), "", testBuffer(t, "pw")); err == nil {
			t.Error("empty username accepted")
		}
		if _, err := client.Login(context.Background(), "alice", nil); err == nil {
			t.Error("nil password accepted")
		}
	})
}

func TestSessionFromToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		gotAuth = request.Header.Get("Authorization")
		json.NewEncoder(writer).Encode(WhoAmIResponse{UserID: ref.MustParseUserID("@alice:test.local")})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	session, err := client.SessionFromToken(ref.MustParseUserID("@alice:test.local"), "syt_existing")
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	defer session.Close()

	userID, err := session.WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI failed: %v", err)
	}
	if userID.String() != "@alice:test.local" {
		t.Errorf("unexpected user ID: %s", userID)
	}
	if gotAuth != "Bearer syt_existing" {
		t.Errorf("Authorization header = %q", gotAuth)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit", &MatrixError{Code: ErrCodeLimitExceeded, StatusCode: 429}, true},
		{"server error", &MatrixError{Code: ErrCodeUnknown, StatusCode: 502}, true},
		{"forbidden", &MatrixError{Code: ErrCodeForbidden, StatusCode: 403}, false},
		{"not found", &MatrixError{Code: ErrCodeNotFound, StatusCode: 404}, false},
		{"transport error", errors.New("connection reset"), true},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
