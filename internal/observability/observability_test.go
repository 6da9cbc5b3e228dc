package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerbot/internal/pipeline"
	"offerbot/internal/sources"
	logx "offerbot/pkg/logx"
)

func TestMetricsObserveSourcesAndDeliveries(t *testing.T) {
	t.Parallel()
	m := NewMetrics()

	m.SourceDone(pipeline.SourceReport{Source: "deals", Fetched: 5, Rejected: 1, Duplicates: 2, New: 2, Duration: time.Second})
	m.SourceDone(pipeline.SourceReport{
		Source: "coupons",
		Err:    &sources.FetchError{Source: "coupons", Kind: sources.KindStatus, Err: errors.New("http 503")},
	})
	m.SourceDone(pipeline.SourceReport{Source: "coupons", Err: errors.New("odd")})
	m.Delivered(pipeline.OpPhoto)
	m.Delivered(pipeline.OpText)
	m.Delivered(pipeline.OpText)
	m.DeliveryFailed()
	m.PendingCount(6)
	m.CycleDone("ok", 2*time.Second)
	m.CycleDone("store_unavailable", time.Second)
	m.Coalesced()

	assert.Equal(t, 5.0, testutil.ToFloat64(m.fetched.WithLabelValues("deals")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.newOffers.WithLabelValues("deals")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.duplicates.WithLabelValues("deals")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sourceFailures.WithLabelValues("coupons", "status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sourceFailures.WithLabelValues("coupons", "other")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues("text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveryFailure))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.pending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("store_unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.coalesced))
	assert.Equal(t, 1, testutil.CollectAndCount(m.cycleDuration))
}

func get(t *testing.T, h http.Handler, target string, header map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestHandlerAuthAndHealth(t *testing.T) {
	t.Parallel()
	m := NewMetrics()
	m.PendingCount(3)
	var healthErr error
	s := NewServer(Config{}, m.Registry(), func(context.Context) error { return healthErr }, logx.Nop())
	h := s.Handler(Config{Token: "s3cret", Pprof: true})

	code, _ := get(t, h, "/metrics", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := get(t, h, "/metrics", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "offerbot_delivery_pending 3")

	code, _ = get(t, h, "/debug/pprof/?token=s3cret", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = get(t, h, "/debug/pprof/?token=nope", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	healthErr = errors.New("database is locked")
	code, body = get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "database is locked")

	code, _ = get(t, s.Handler(Config{}), "/debug/pprof/", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()
	s := NewServer(Config{Enabled: true, Addr: "127.0.0.1:0"}, NewMetrics().Registry(), nil, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)

	var addr string
	require.Eventually(t, func() bool {
		addr = s.Addr()
		return addr != ""
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.Reconfigure(ctx, Config{Enabled: false})
	assert.Equal(t, "", s.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:1":    true,
		"[::1]:9464":     true,
		":9464":          false,
		"0.0.0.0:9464":   false,
		"bogus":          false,
	} {
		assert.Equal(t, want, isLoopbackAddr(addr), addr)
	}
	assert.True(t, strings.HasPrefix(DefaultAddr, "127.0.0.1"))
}
