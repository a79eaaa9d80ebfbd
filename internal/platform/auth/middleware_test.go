package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testKey = []byte("test-signing-key")

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func invoke(t *testing.T, mw echo.MiddlewareFunc, authHeader string) (int, Principal) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var principal Principal
	handler := mw(func(c echo.Context) error {
		principal = PrincipalFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	err := handler(c)
	if err != nil {
		if httpErr, ok := err.(*echo.HTTPError); ok {
			return httpErr.Code, principal
		}
		t.Fatalf("unexpected error type: %T", err)
	}
	return rec.Code, principal
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	token := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: "lab-a",
		Roles:    []string{RoleIntegrationManager},
	})

	code, principal := invoke(t, mw, "Bearer "+token)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if principal.UserID != "user-1" {
		t.Errorf("expected user-1, got %q", principal.UserID)
	}
	if principal.TenantID != "lab-a" {
		t.Errorf("expected tenant lab-a, got %q", principal.TenantID)
	}
	if !principal.HasRole(RoleIntegrationManager) {
		t.Error("expected INTEGRATION_MANAGER role")
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	code, _ := invoke(t, mw, "")
	if code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", code)
	}
}

func TestJWTMiddleware_BadSignature(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: []byte("other-key")})
	token := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	code, _ := invoke(t, mw, "Bearer "+token)
	if code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", code)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	token := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	code, _ := invoke(t, mw, "Bearer "+token)
	if code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", code)
	}
}

func TestHasRole(t *testing.T) {
	p := Principal{Roles: []string{RoleAdmin}}
	if !p.HasRole(RoleAdmin, RoleIntegrationManager) {
		t.Error("expected ADMIN to match")
	}
	if p.HasRole("VIEWER") {
		t.Error("did not expect VIEWER to match")
	}

	empty := Principal{}
	if empty.HasRole(RoleAdmin) {
		t.Error("empty principal must not match any role")
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	code, principal := invoke(t, DevAuthMiddleware(), "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !principal.HasRole(RoleAdmin) {
		t.Error("expected dev principal to have ADMIN role")
	}
}
