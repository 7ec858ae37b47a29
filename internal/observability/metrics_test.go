package observability_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/approval-workflow/internal/observability"
)

func TestObservability(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Observability Suite")
}

var _ = Describe("Metrics", func() {
	var metrics *observability.Metrics

	scrape := func() string {
		rec := httptest.NewRecorder()
		metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		ExpectWithOffset(1, rec.Code).To(Equal(http.StatusOK))
		return rec.Body.String()
	}

	BeforeEach(func() {
		metrics = observability.NewMetrics()
	})

	It("records requests by route pattern", func() {
		handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
		}))

		routeCtx := chi.NewRouteContext()
		routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/api/v1/approval-instances/{id}/cancel")
		req := httptest.NewRequest(http.MethodPost, "/api/v1/approval-instances/x/cancel", nil)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
		handler.ServeHTTP(httptest.NewRecorder(), req)

		Expect(scrape()).To(ContainSubstring(`approval_http_requests_total{code="409",route="/api/v1/approval-instances/{id}/cancel"} 1`))
	})

	It("counts engine and access outcomes", func() {
		metrics.ObserveDecision("sequential", "approve")
		metrics.ObserveDecision("sequential", "approve")
		metrics.ObserveCompletion("any", "rejected")
		metrics.ObserveTimeout("escalate")
		metrics.ObserveConfigurationError("APPROVER_UNRESOLVABLE")
		metrics.ObserveAccessDenied("/api/v1/roles")
		metrics.ObservePolicyRefresh("database", nil)
		metrics.ObservePolicyRefresh("backend", errors.New("down"))

		body := scrape()
		Expect(body).To(ContainSubstring(`approval_decisions_total{decision="approve",workflow_type="sequential"} 2`))
		Expect(body).To(ContainSubstring(`approval_instances_completed_total{status="rejected",workflow_type="any"} 1`))
		Expect(body).To(ContainSubstring(`approval_step_timeouts_total{policy="escalate"} 1`))
		Expect(body).To(ContainSubstring(`approval_configuration_errors_total{code="APPROVER_UNRESOLVABLE"} 1`))
		Expect(body).To(ContainSubstring(`approval_access_denied_total{route="/api/v1/roles"} 1`))
		Expect(body).To(ContainSubstring(`approval_policy_refreshes_total{origin="backend",outcome="error"} 1`))
	})

	It("answers 503 when metrics are disabled", func() {
		var disabled *observability.Metrics
		rec := httptest.NewRecorder()
		disabled.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
	})
})
