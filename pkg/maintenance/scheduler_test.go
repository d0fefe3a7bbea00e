package maintenance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mustardtree/portal/pkg/audit"
	"github.com/mustardtree/portal/pkg/auth"
	"github.com/mustardtree/portal/pkg/config"
	"github.com/mustardtree/portal/pkg/middleware"
	"github.com/mustardtree/portal/pkg/observability"
	"github.com/mustardtree/portal/pkg/storage"
	"github.com/mustardtree/portal/pkg/webhooks"
)

func schedules() config.MaintenanceConfig {
	return config.MaintenanceConfig{
		Enabled:        true,
		SessionCleanup: "@every 10m",
		LimiterCleanup: "@every 5m",
		AccessLogPrune: "@daily",
		WebhookRetry:   "@every 30s",
	}
}

func TestNew_RegistersOnlyConfiguredTargets(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	kv := storage.NewMemoryKV()

	s, err := New(schedules(), Targets{
		Sessions:  auth.NewSessionManager(kv, time.Hour),
		AccessLog: audit.NewAccessLog(kv, 10),
	}, logger, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{JobSessionCleanup, JobAccessLogPrune}, s.Jobs())

	cfg := schedules()
	cfg.SessionCleanup = ""
	s, err = New(cfg, Targets{Sessions: auth.NewSessionManager(kv, time.Hour)}, logger, nil)
	require.NoError(t, err)
	assert.Empty(t, s.Jobs())
}

func TestNew_InvalidSchedule(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	cfg := schedules()
	cfg.AccessLogPrune = "every tuesday"

	_, err := New(cfg, Targets{AccessLog: audit.NewAccessLog(storage.NewMemoryKV(), 10)}, logger, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobAccessLogPrune)
}

func TestCleanupSessions(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	kv := storage.NewMemoryKV()
	ctx := context.Background()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	short := auth.NewSessionManager(kv, time.Nanosecond)
	_, _, err := short.Create(ctx, "acct-1")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	sessions := auth.NewSessionManager(kv, time.Hour)
	s, err := New(schedules(), Targets{Sessions: sessions}, logger, metrics)
	require.NoError(t, err)

	// Create also drops expired sessions, so clean up before adding one.
	removed, err := s.CleanupSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.SessionsActive))

	_, _, err = sessions.Create(ctx, "acct-2")
	require.NoError(t, err)
	removed, err = s.CleanupSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionsActive))
}

func TestCleanupLimiter(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{MaxAttempts: 5, Window: time.Millisecond}, nil)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := limiter.IsRateLimited(ctx, id)
		require.NoError(t, err)
	}
	time.Sleep(5 * time.Millisecond)

	s, err := New(schedules(), Targets{Limiter: limiter}, logger, nil)
	require.NoError(t, err)
	n, err := s.CleanupLimiter(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPruneAccessLog(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	kv := storage.NewMemoryKV()
	ctx := context.Background()

	wide := audit.NewAccessLog(kv, 100)
	for i := 0; i < 5; i++ {
		require.NoError(t, wide.Record(ctx, audit.AccessEntry{DocumentID: "doc-1", UserID: "u", Action: audit.ActionView}))
	}

	s, err := New(schedules(), Targets{AccessLog: audit.NewAccessLog(kv, 2)}, logger, nil)
	require.NoError(t, err)
	dropped, err := s.PruneAccessLog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)

	dropped, err = s.PruneAccessLog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, dropped)
}

func TestRunAll_RecordsMetricsAndLogs(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	kv := storage.NewMemoryKV()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(receiver.Close)

	s, err := New(schedules(), Targets{
		Sessions:  auth.NewSessionManager(kv, time.Hour),
		AccessLog: audit.NewAccessLog(kv, 10),
		Webhooks:  webhooks.NewManager(kv, receiver.Client(), webhooks.DefaultConfig(), metrics),
	}, logger, metrics)
	require.NoError(t, err)
	hook.Reset()

	require.NoError(t, s.RunAll(context.Background()))
	for _, job := range []string{JobSessionCleanup, JobAccessLogPrune, JobWebhookRetry} {
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MaintenanceRunsTotal.WithLabelValues(job, "success")), job)
	}
	require.Len(t, hook.AllEntries(), 3)
	for _, e := range hook.AllEntries() {
		assert.Equal(t, logrus.DebugLevel, e.Level)
	}
}

type failingKV struct{ storage.KV }

func (failingKV) Get(ctx context.Context, key string) (storage.Entry, error) {
	return storage.Entry{}, assert.AnError
}

func TestRunAll_ReportsFailure(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	kv := failingKV{storage.NewMemoryKV()}

	s, err := New(schedules(), Targets{AccessLog: audit.NewAccessLog(kv, 10)}, logger, metrics)
	require.NoError(t, err)
	hook.Reset()

	err = s.RunAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MaintenanceRunsTotal.WithLabelValues(JobAccessLogPrune, "error")))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, JobAccessLogPrune, hook.LastEntry().Data["job"])
}

func TestRunAndStop(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	s, err := New(schedules(), Targets{AccessLog: audit.NewAccessLog(storage.NewMemoryKV(), 10)}, logger, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
