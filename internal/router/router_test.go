package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/zidwell/backend/internal/auth"
	"github.com/zidwell/backend/internal/models"
)

type stubAuth struct{}

func (stubAuth) Register(_ context.Context, email, _, name string) (*models.User, error) {
	return &models.User{ID: uuid.New(), Email: email, DisplayName: name, Role: models.RoleUser}, nil
}

func (stubAuth) Login(context.Context, string, string) (string, error) {
	return "", auth.ErrInvalidCredentials
}

func (stubAuth) ValidateToken(context.Context, string) (uuid.UUID, string, error) {
	return uuid.Nil, "", auth.ErrInvalidToken
}

func TestNew_Routes(t *testing.T) {
	h := New(auth.NewHandler(stubAuth{}, nil))

	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/api/v1/auth/register", `{"email":"ada@example.com","password":"correct-horse","display_name":"Ada"}`, http.StatusCreated},
		{http.MethodPost, "/api/v1/auth/login", `{"email":"ada@example.com","password":"wrong-pass"}`, http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/auth/login", ``, http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/unknown", ``, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}
