package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func gatherFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/intents/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/intents/int_abc", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	mf := gatherFamily(t, "agentic_http_requests_total")
	if mf == nil {
		t.Fatal("agentic_http_requests_total not registered")
	}

	found := false
	for _, m := range mf.GetMetric() {
		labels := map[string]string{}
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if labels["method"] == "GET" && labels["path"] == "/v1/intents/:id" && labels["status"] == "200" {
			found = true
			if m.GetCounter().GetValue() < 1 {
				t.Errorf("counter = %v, want >= 1", m.GetCounter().GetValue())
			}
		}
	}
	if !found {
		t.Error("no sample recorded for GET /v1/intents/:id 200")
	}
}

func TestWebSocketClientsGauge(t *testing.T) {
	ActiveWebSocketClients.Set(3)
	defer ActiveWebSocketClients.Set(0)

	mf := gatherFamily(t, "agentic_websocket_clients")
	if mf == nil {
		t.Fatal("agentic_websocket_clients not registered")
	}
	if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 3 {
		t.Errorf("gauge = %v, want 3", got)
	}
}

func TestScrapeHandlerServesText(t *testing.T) {
	r := gin.New()
	r.GET("/metrics", Handler())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.Len() == 0 {
		t.Fatal("empty scrape body")
	}
}
