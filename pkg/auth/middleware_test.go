package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/ctxkeys"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, claims Claims, secret []byte) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func validClaims() Claims {
	return Claims{
		UserID:         "user-1",
		OrganizationID: "school-9",
		Email:          "orientadora@colegio.cl",
		Role:           "encargado_convivencia",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestJWTAuthMiddleware(t *testing.T) {
	secret := []byte("secret")
	token := signToken(t, validClaims(), secret)

	r := gin.New()
	r.Use(JWTAuthMiddleware(secret))
	r.GET("/ok", func(c *gin.Context) {
		if c.GetString(string(ctxkeys.KeyUserID)) != "user-1" {
			t.Errorf("user id not set on gin context")
		}
		if ctxkeys.GetOrganizationID(c.Request.Context()) != "school-9" {
			t.Errorf("organization id not set on request context")
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestJWTAuthMiddlewareRejects(t *testing.T) {
	secret := []byte("secret")
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	cases := map[string]string{
		"missing":      "",
		"malformed":    "Token abc",
		"wrong secret": "Bearer " + signToken(t, validClaims(), []byte("other")),
		"expired":      "Bearer " + signToken(t, expired, secret),
	}

	r := gin.New()
	r.Use(JWTAuthMiddleware(secret))
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	for name, header := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, w.Code)
		}
	}
}

func TestValidateJWTRequiresUser(t *testing.T) {
	secret := []byte("secret")
	claims := validClaims()
	claims.UserID = ""
	if _, err := ValidateJWT(signToken(t, claims, secret), secret); err == nil {
		t.Fatalf("expected error for token without user id")
	}
}
