package dto

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func testContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func TestBindJobID(t *testing.T) {
	t.Run("合法的 UUID", func(t *testing.T) {
		c, _ := testContext(t)
		c.Params = gin.Params{{Key: "jid", Value: "7b9c2a1e-4f6d-4c2b-9a8e-3d5f7c1b2e4a"}}

		id, ok := BindJobID(c)
		if !ok {
			t.Fatal("BindJobID rejected a valid UUID")
		}
		if id != "7b9c2a1e-4f6d-4c2b-9a8e-3d5f7c1b2e4a" {
			t.Errorf("id = %q", id)
		}
	})

	t.Run("非法 ID 返回 400", func(t *testing.T) {
		c, w := testContext(t)
		c.Params = gin.Params{{Key: "jid", Value: "not-a-uuid"}}

		if _, ok := BindJobID(c); ok {
			t.Fatal("BindJobID accepted a malformed id")
		}
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("缺失 ID 返回 400", func(t *testing.T) {
		c, w := testContext(t)

		if _, ok := BindJobID(c); ok {
			t.Fatal("BindJobID accepted an empty id")
		}
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

func TestBindLimit(t *testing.T) {
	cases := []struct {
		query string
		want  int
	}{
		{"", 10},
		{"limit=5", 5},
		{"limit=0", 10},
		{"limit=-3", 10},
		{"limit=200", 50},
		{"limit=abc", 10},
	}
	for _, tc := range cases {
		c, _ := testContext(t)
		c.Request = httptest.NewRequest(http.MethodGet, "/?"+tc.query, nil)
		if got := BindLimit(c, 10, 50); got != tc.want {
			t.Errorf("BindLimit(%q) = %d, want %d", tc.query, got, tc.want)
		}
	}
}

func TestBindPage(t *testing.T) {
	cases := []struct {
		query string
		want  int
	}{
		{"", 1},
		{"page=3", 3},
		{"page=0", 1},
		{"page=-1", 1},
		{"page=x", 1},
	}
	for _, tc := range cases {
		c, _ := testContext(t)
		c.Request = httptest.NewRequest(http.MethodGet, "/?"+tc.query, nil)
		if got := BindPage(c); got != tc.want {
			t.Errorf("BindPage(%q) = %d, want %d", tc.query, got, tc.want)
		}
	}
}

func TestNewPageMeta(t *testing.T) {
	meta := NewPageMeta(2, 10, 25)
	if meta.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", meta.TotalPages)
	}
	if meta.Page != 2 || meta.PageSize != 10 || meta.Total != 25 {
		t.Errorf("meta = %+v", meta)
	}

	if meta := NewPageMeta(1, 10, 30); meta.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3 for an exact multiple", meta.TotalPages)
	}
}
