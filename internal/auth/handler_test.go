package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandler_Register(t *testing.T) {
	h := NewHandler(NewService(newMemUserStore(), "s"), nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"created", `{"email":"ada@example.com","password":"longenough","display_name":"Ada"}`, http.StatusCreated},
		{"duplicate", `{"email":"ada@example.com","password":"longenough","display_name":"Ada"}`, http.StatusConflict},
		{"missing name", `{"email":"b@example.com","password":"longenough"}`, http.StatusBadRequest},
		{"bad email", `{"email":"nope","password":"longenough","display_name":"B"}`, http.StatusBadRequest},
		{"weak password", `{"email":"c@example.com","password":"short","display_name":"C"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewBufferString(tc.body))
			rr := httptest.NewRecorder()
			h.Register(rr, req)
			if rr.Code != tc.want {
				t.Errorf("status: got %d, want %d (body %s)", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}

func TestHandler_Login(t *testing.T) {
	h := NewHandler(NewService(newMemUserStore(), "s"), nil)
	reg := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register",
		bytes.NewBufferString(`{"email":"ada@example.com","password":"longenough","display_name":"Ada"}`))
	h.Register(httptest.NewRecorder(), reg)

	rr := httptest.NewRecorder()
	h.Login(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		bytes.NewBufferString(`{"email":"ada@example.com","password":"longenough"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp LoginResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil || resp.Token == "" {
		t.Errorf("expected a token, got %q (%v)", resp.Token, err)
	}

	rr = httptest.NewRecorder()
	h.Login(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		bytes.NewBufferString(`{"email":"ada@example.com","password":"wrong-one"}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: got %d, want 401", rr.Code)
	}
}
