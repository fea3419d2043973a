package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
	"github.com/noah-isme/uni-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
)

type stubValidator map[string]*models.JWTClaims

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, ClaimsFromContext(c).UserID)
	})
	r.GET("/protected", handlers...)
	return r
}

func do(r http.Handler, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWT(t *testing.T) {
	validator := stubValidator{
		"good": {UserID: "u1", Role: models.RoleStudent},
	}
	r := newRouter(JWT(validator))

	w := do(r, "Bearer good")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", w.Body.String())

	for _, header := range []string{"", "Bearer", "Basic good", "Bearer bad"} {
		w := do(r, header)
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
		assert.Contains(t, w.Body.String(), appErrors.ErrUnauthorized.Code)
	}
}

func TestRequireRoles(t *testing.T) {
	validator := stubValidator{
		"student": {UserID: "s1", Role: models.RoleStudent},
		"officer": {UserID: "o1", Role: models.RoleITOfficer},
	}
	r := newRouter(JWT(validator), RequireRoles(models.RoleITOfficer, models.RoleAdmin))

	assert.Equal(t, http.StatusOK, do(r, "Bearer officer").Code)

	w := do(r, "Bearer student")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), appErrors.ErrForbidden.Code))

	unauthenticated := newRouter(RequireRoles(models.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, do(unauthenticated, "").Code)
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/sections/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{"/sections/a", "/sections/b", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	body := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(body, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, body.Body.String(), `path="/sections/:id"`)
	assert.Contains(t, body.Body.String(), `path="unmatched"`)
	assert.NotContains(t, body.Body.String(), `path="/sections/a"`)
}
