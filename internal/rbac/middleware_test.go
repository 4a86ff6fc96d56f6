package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"connect-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, participantID, role string, allowed ...string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), participantID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireParticipant(), RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := serve(t, "u", RoleAdmin, RoleCounterpart); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_WrongRoleForbidden(t *testing.T) {
	if code := serve(t, "u", RoleRequester, RoleCounterpart); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_AllowedRole(t *testing.T) {
	if code := serve(t, "u", RoleCounterpart, RoleCounterpart); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireParticipant_Required(t *testing.T) {
	if code := serve(t, "", RoleRequester, RoleRequester); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestIsParticipant(t *testing.T) {
	if !IsParticipant(RoleRequester) || !IsParticipant(RoleCounterpart) || IsParticipant(RoleAdmin) {
		t.Fatalf("unexpected participant classification")
	}
}
