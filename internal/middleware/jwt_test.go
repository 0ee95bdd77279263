package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/livecast/internal/auth"
)

func router(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", mw, func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextUserID))
	})
	return r
}

func do(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := router(JWTAuth("secret"))
	token, _ := auth.Issue("secret", "u1", "", time.Hour)

	if w := do(r, "Bearer "+token); w.Code != http.StatusOK || w.Body.String() != "u1" {
		t.Errorf("valid token: %d %q", w.Code, w.Body.String())
	}
	for _, header := range []string{"", "Token abc", "Bearer", "Bearer not-a-jwt"} {
		if w := do(r, header); w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status %d", header, w.Code)
		}
	}
}

func TestOptionalJWT(t *testing.T) {
	r := router(OptionalJWT("secret"))
	token, _ := auth.Issue("secret", "u1", "", time.Hour)

	if w := do(r, "Bearer "+token); w.Body.String() != "u1" {
		t.Errorf("valid token: %q", w.Body.String())
	}
	if w := do(r, "Bearer junk"); w.Code != http.StatusOK || w.Body.String() != "" {
		t.Errorf("invalid token: %d %q", w.Code, w.Body.String())
	}
}
