package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister_Idempotent(t *testing.T) {
	Register()
	Register()
}

func TestHandler_ExposesCollectors(t *testing.T) {
	Register()
	PositionsSent.Inc()
	Selections.WithLabelValues("random", "healthy").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{"cursorsync_cursor_positions_sent_total", "cursorsync_balancer_selections_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestBoolGauge(t *testing.T) {
	EndpointHealthy.WithLabelValues("http://a").Set(BoolGauge(true))
	if got := testutil.ToFloat64(EndpointHealthy.WithLabelValues("http://a")); got != 1 {
		t.Errorf("endpoint_healthy = %v, want 1", got)
	}
	EndpointHealthy.WithLabelValues("http://a").Set(BoolGauge(false))
	if got := testutil.ToFloat64(EndpointHealthy.WithLabelValues("http://a")); got != 0 {
		t.Errorf("endpoint_healthy = %v, want 0", got)
	}
}
