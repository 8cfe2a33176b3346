package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestToken(t *testing.T) {
	cases := []struct {
		name   string
		header map[string]string
		url    string
		want   string
	}{
		{"token header", map[string]string{"token": "abc"}, "/", "abc"},
		{"bearer", map[string]string{"Authorization": "Bearer xyz"}, "/", "xyz"},
		{"header wins", map[string]string{"token": "abc", "Authorization": "Bearer xyz"}, "/", "abc"},
		{"query", nil, "/?token=q1", "q1"},
		{"none", nil, "/", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(w)
			ctx.Request = httptest.NewRequest(http.MethodGet, c.url, nil)
			for k, v := range c.header {
				ctx.Request.Header.Set(k, v)
			}
			if got := requestToken(ctx); got != c.want {
				t.Fatalf("got %q, want %q", got, c.want)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx := c.Request.Context()
		if role := c.GetHeader("X-Test-Role"); role != "" {
			ctx = utils.SetProfileIdInContext(ctx, "p-1")
			ctx = utils.SetRoleInContext(ctx, role)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.GET("/staff", RequireRole(models.UserRoleAdmin, models.UserRoleSupport), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		role string
		want int
	}{
		{"", http.StatusUnauthorized},
		{"mechanic", http.StatusForbidden},
		{"support", http.StatusNoContent},
		{"admin", http.StatusNoContent},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/staff", nil)
		if c.role != "" {
			req.Header.Set("X-Test-Role", c.role)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != c.want {
			t.Fatalf("role %q: got %d, want %d", c.role, w.Code, c.want)
		}
	}
}

func TestCorrelationMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CorrelationMiddleware())
	var seen string
	r.GET("/", func(c *gin.Context) {
		seen, _ = utils.GetCorrelationIdFromContext(c.Request.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, "corr-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if seen != "corr-1" || w.Header().Get(CorrelationHeader) != "corr-1" {
		t.Fatalf("correlation id not propagated: ctx=%q header=%q", seen, w.Header().Get(CorrelationHeader))
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "corr-1" {
		t.Fatalf("expected a generated correlation id, got %q", seen)
	}
}

func TestGenerateLoaderResultsFillsMissing(t *testing.T) {
	results := []models.Profile{{ID: "b", Name: "Bo"}}
	out := generateLoaderResults(results, []string{"a", "b"})
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[0].Data.ID != "a" || out[0].Data.Name != "Unknown user" {
		t.Fatalf("missing id should get the placeholder, got %+v", out[0].Data)
	}
	if out[1].Data.Name != "Bo" {
		t.Fatalf("unexpected result %+v", out[1].Data)
	}
}
