package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/tazhate/weathercal/internal/domain"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			manager := NewManager()

			Convey("Then it owns a private registry", func() {
				So(manager, ShouldNotBeNil)
				So(manager.Registry(), ShouldNotBeNil)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("runs"),
				WithHistogramBuckets([]float64{1, 2}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the options are applied", func() {
				So(manager.Registry(), ShouldEqual, registry)
				So(manager.namespace, ShouldEqual, "test")
				So(manager.subsystem, ShouldEqual, "runs")
				So(manager.histogramBuckets, ShouldResemble, []float64{1, 2})
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given a manager on a fresh registry", t, func() {
		m := NewManager(WithPrometheusRegistry(prometheus.NewRegistry()))
		started := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)

		Convey("When a partial run is observed", func() {
			m.ObserveRun(&domain.Run{
				Status:     domain.RunPartial,
				StartedAt:  started,
				FinishedAt: started.Add(3 * time.Second),
				Slots:      4,
				Created:    2,
				Updated:    0,
				Failed:     1,
				Dropped:    1,
				Pruned:     2,
			})

			Convey("Then status and outcomes are counted", func() {
				So(testutil.ToFloat64(m.runsTotal.WithLabelValues("partial")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.eventsTotal.WithLabelValues("created")), ShouldEqual, 2)
				So(testutil.ToFloat64(m.eventsTotal.WithLabelValues("failed")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.eventsTotal.WithLabelValues("dropped")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.prunedTotal), ShouldEqual, 2)
				So(testutil.ToFloat64(m.lastRunSlots), ShouldEqual, 4)
			})

			Convey("Then the last success time is untouched", func() {
				So(testutil.ToFloat64(m.lastSuccessUnix), ShouldEqual, 0)
			})
		})

		Convey("When a clean run is observed", func() {
			m.ObserveRun(&domain.Run{Status: domain.RunSucceeded, StartedAt: started, FinishedAt: started.Add(time.Second)})

			Convey("Then the last success time is set", func() {
				So(testutil.ToFloat64(m.lastSuccessUnix), ShouldEqual, float64(started.Add(time.Second).Unix()))
			})
		})

		Convey("When errors and requests are observed", func() {
			m.ObserveFetchError()
			m.ObservePruneError()
			m.ObservePruneError()
			m.ObserveHTTPRequest("/api/runs", http.MethodGet, http.StatusOK, 10*time.Millisecond)

			Convey("Then they are counted", func() {
				So(testutil.ToFloat64(m.fetchErrors), ShouldEqual, 1)
				So(testutil.ToFloat64(m.pruneErrors), ShouldEqual, 2)
				So(testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/runs", "GET", "200")), ShouldEqual, 1)
			})
		})

		Convey("When the handler is scraped", func() {
			m.ObserveFetchError()
			rec := httptest.NewRecorder()
			m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Convey("Then the exposition contains the sync metrics", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, "weathercal_sync_fetch_errors_total 1")
			})
		})
	})
}
