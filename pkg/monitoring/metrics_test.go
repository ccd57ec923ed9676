package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMetricsCollectorServesCustomCounter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mc := NewMetricsCollector("herald", "v1", "abc1234")
	reposts := mc.NewCounter("reposts_total", "Repost cycle outcomes", []string{"status"})
	reposts.WithLabelValues("reposted").Inc()

	r := gin.New()
	r.Use(mc.MetricsMiddleware())
	r.GET("/metrics", mc.Handler())

	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), "GET", "/metrics", nil)
	r.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `herald_reposts_total{status="reposted"} 1`) {
		t.Fatalf("expected custom counter in metrics output, got:\n%s", body)
	}
	if !strings.Contains(body, "herald_service_info") {
		t.Fatalf("expected service info gauge in metrics output")
	}
}

func TestMetricsCollectorsAreIsolated(t *testing.T) {
	// Two collectors must not collide on registration.
	_ = NewMetricsCollector("herald", "v1", "abc")
	_ = NewMetricsCollector("herald", "v1", "abc")
}
