package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailrelay/backend/internal/monitoring"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestDynamicBodySizeLimit(t *testing.T) {
	router := gin.New()
	router.Use(DynamicBodySizeLimit(map[string]int64{"/file": 64}, 16))

	echo := func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.String(http.StatusOK, "%d", len(body))
	}
	router.POST("/email", echo)
	router.POST("/file", echo)

	t.Run("默认上限内", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/email", strings.NewReader("short")))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "16", w.Header().Get("X-Max-Body-Size"))
	})

	t.Run("Content-Length 超限直接拒绝", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/email", strings.NewReader(strings.Repeat("a", 32))))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), "16 bytes")
	})

	t.Run("上传路由使用单独上限", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/file", strings.NewReader(strings.Repeat("a", 32))))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "32", w.Body.String())
	})

	t.Run("未声明长度时读取被截断", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/email", strings.NewReader(strings.Repeat("a", 32)))
		req.ContentLength = -1
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestUploadBodyLimit(t *testing.T) {
	assert.Equal(t, int64(1024+multipartOverhead), UploadBodyLimit(1024))
}

func TestMonitoringMiddleware(t *testing.T) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	mm := NewMonitoringMiddleware(metrics, nil)

	router := gin.New()
	router.Use(mm.PanicRecovery(), mm.HTTPMetrics(), SecurityHeaders())
	router.GET("/boom", func(c *gin.Context) { panic("boom") })
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	t.Run("panic 返回500", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"message":"internal server error"}`, w.Body.String())
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PanicsTotal))
	})

	t.Run("安全响应头", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	})

	t.Run("未匹配路由归入同一标签", func(t *testing.T) {
		for _, path := range []string{"/a", "/b", "/c"} {
			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		}
		assert.Equal(t, 3.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")))
	})
}
