package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/biq-mapview/internal/core/observability"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestProvider_RegistersStandardCollectors_AndBuildInfo(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test", Revision: "r", BuildDate: "now"}})
	t.Cleanup(func() { observability.Init(prometheus.NewRegistry(), true) })

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "smoke"})
	p.Register(g)
	g.Set(42)

	if n := testutil.CollectAndCount(g); n == 0 {
		t.Fatalf("expected at least 1 sample from test_gauge, got %d", n)
	}

	body := scrape(t, p)
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go_goroutines in payload; got:\n%s", body)
	}
	if !strings.Contains(body, "process_cpu_seconds_total") && !strings.Contains(body, "process_start_time_seconds") {
		t.Fatalf("expected process_* metrics in payload; got:\n%s", body)
	}
	if !strings.Contains(body, `app_build_info{build_date="now",revision="r",version="test"} 1`) {
		t.Fatalf("expected app_build_info in payload; got:\n%s", body)
	}
}

func TestProvider_ServesServiceFamilies(t *testing.T) {
	p := Init(Config{})
	t.Cleanup(func() { observability.Init(prometheus.NewRegistry(), true) })

	observability.ObserveHTTP("POST", "/api/v1/views/{id}/selections", 201, 0.4)
	observability.IncSelection("network", "solver.sp_gurobi")
	observability.AddActiveViews(1)

	body := scrape(t, p)
	for _, want := range []string{
		`http_requests_total{method="POST",route="/api/v1/views/{id}/selections",status="201"} 1`,
		`selection_requests_total{method="solver.sp_gurobi",outcome="network"} 1`,
		`map_views_active 1`,
		`app_build_info{build_date="",revision="",version="dev"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in payload:\n%s", want, body)
		}
	}
}

func TestProvider_WatchDependency(t *testing.T) {
	p := Init(Config{})
	t.Cleanup(func() { observability.Init(prometheus.NewRegistry(), true) })

	p.WatchDependency("redis", func(context.Context) error { return nil })
	p.WatchDependency("kafka", func(context.Context) error { return errors.New("down") })

	body := scrape(t, p)
	for _, want := range []string{
		`dependency_up{dependency="redis"} 1`,
		`dependency_up{dependency="kafka"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in payload:\n%s", want, body)
		}
	}
}
