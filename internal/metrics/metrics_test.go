package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStreamMetrics(t *testing.T) {
	t.Run("KernelDuration", func(t *testing.T) {
		KernelDuration.WithLabelValues("Copy").Observe(0.0012)
		KernelDuration.WithLabelValues("Triad").Observe(0.0019)

		// Histograms can't be read with ToFloat64, just verify no panic occurs
		assert.NotPanics(t, func() {
			KernelDuration.WithLabelValues("Dot").Observe(0.002)
		})
	})

	t.Run("KernelBandwidth", func(t *testing.T) {
		KernelBandwidth.WithLabelValues("Add").Set(812.5e9)
		value := testutil.ToFloat64(KernelBandwidth.WithLabelValues("Add"))
		assert.Equal(t, 812.5e9, value)
	})

	t.Run("ArraySize", func(t *testing.T) {
		ArraySize.Set(1 << 25)
		assert.Equal(t, float64(1<<25), testutil.ToFloat64(ArraySize))
	})

	t.Run("DeviceMemoryUsedBytes", func(t *testing.T) {
		DeviceMemoryUsedBytes.Set(805306368)
		assert.Equal(t, float64(805306368), testutil.ToFloat64(DeviceMemoryUsedBytes))
	})

	t.Run("ValidationFailures", func(t *testing.T) {
		before := testutil.ToFloat64(ValidationFailures)
		ValidationFailures.Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(ValidationFailures))
	})

	t.Run("RunsTotal", func(t *testing.T) {
		before := testutil.ToFloat64(RunsTotal.WithLabelValues("cpu"))
		RunsTotal.WithLabelValues("cpu").Inc()
		RunsTotal.WithLabelValues("cuda").Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(RunsTotal.WithLabelValues("cpu")))
	})
}

func TestMetricsRegistration(t *testing.T) {
	metrics := []prometheus.Collector{
		KernelDuration,
		KernelBandwidth,
		ArraySize,
		ValidationFailures,
		RunsTotal,
		DeviceMemoryUsedBytes,
		EndpointResponses,
	}

	for _, metric := range metrics {
		// Already registered by promauto, so registering again must fail
		err := prometheus.Register(metric)
		var already prometheus.AlreadyRegisteredError
		assert.ErrorAs(t, err, &already)
	}
}

func TestMiddleware(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), "/teapot")

	before := testutil.ToFloat64(EndpointResponses.WithLabelValues("/teapot", "418"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(EndpointResponses.WithLabelValues("/teapot", "418")))
}

func TestHandler(t *testing.T) {
	ArraySize.Set(4096)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stream_array_size 4096")

	rec = httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer(t *testing.T) {
	srv, err := Start("127.0.0.1:0", zaptest.NewLogger(t))
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "stream_array_size")

	assert.NoError(t, srv.Shutdown(context.Background()))
}

func BenchmarkMetricsObservation(b *testing.B) {
	b.Run("ObserveDuration", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			KernelDuration.WithLabelValues("Copy").Observe(float64(i%1000) * 1e-6)
		}
	})

	b.Run("SetGauge", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			ArraySize.Set(float64(i))
		}
	})

	b.Run("IncCounter", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			RunsTotal.WithLabelValues("cpu").Inc()
		}
	})
}
