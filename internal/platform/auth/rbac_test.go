package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runWithRoles(roles []string, required ...string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "u", roles))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}
	return rec, RequireRole(required...)(handler)(c)
}

func TestRequireRole_Allowed(t *testing.T) {
	rec, err := runWithRoles([]string{RolePatient}, RolePatient, RolePhysician)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	_, err := runWithRoles([]string{RolePatient}, RolePhysician)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_NoIdentity(t *testing.T) {
	_, err := runWithRoles(nil, RolePatient)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	if _, err := runWithRoles([]string{RoleAdmin}, RolePhysician); err != nil {
		t.Error("admin should bypass role checks")
	}
}

func TestUserIDFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), UserIDKey, "user-123")
	if uid := UserIDFromContext(ctx); uid != "user-123" {
		t.Errorf("expected user-123, got %s", uid)
	}
	if empty := UserIDFromContext(context.Background()); empty != "" {
		t.Errorf("expected empty string, got %s", empty)
	}
}

func TestHasRole(t *testing.T) {
	tests := []struct {
		roles    []string
		required []string
		want     bool
	}{
		{[]string{RolePatient}, []string{RolePatient}, true},
		{[]string{RolePatient}, []string{RolePhysician}, false},
		{[]string{RoleAdmin}, []string{RolePhysician}, true},
		{nil, []string{RolePatient}, false},
	}
	for _, tt := range tests {
		ctx := WithIdentity(context.Background(), "u", tt.roles)
		if got := HasRole(ctx, tt.required...); got != tt.want {
			t.Errorf("HasRole(%v, %v) = %v, want %v", tt.roles, tt.required, got, tt.want)
		}
	}
}
