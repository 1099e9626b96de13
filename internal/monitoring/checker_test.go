package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/sells-group/studio-catalog/internal/config"
	"github.com/sells-group/studio-catalog/internal/model"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, LookbackWindowHours: 24}
	checker := NewChecker(NewCollector(&mockJobs{}, nil), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_CheckSendsAlerts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := config.MonitoringConfig{WebhookURL: srv.URL, LookbackWindowHours: 24}
	jobs := &mockJobs{jobs: []model.IngestionJob{{
		ID:        "1",
		SourceID:  "igdb",
		Status:    model.JobFailed,
		CreatedAt: fixedNow,
		Errors:    []model.IngestionError{{Severity: model.SeverityCritical}},
	}}}
	checker := NewChecker(newTestCollector(jobs, nil), NewAlerter(cfg), cfg)

	assert.Equal(t, 1, checker.check(context.Background(), zap.NewNop()))
}

func TestChecker_MutesRepeatedAlertsUntilCooldown(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := config.MonitoringConfig{WebhookURL: srv.URL, LookbackWindowHours: 24}
	failing := []model.IngestionJob{{
		ID:        "1",
		SourceID:  "igdb",
		Status:    model.JobFailed,
		CreatedAt: fixedNow,
		Errors:    []model.IngestionError{{Severity: model.SeverityCritical}},
	}}
	jobs := &mockJobs{jobs: failing}
	checker := NewChecker(newTestCollector(jobs, nil), NewAlerter(cfg), cfg)
	now := fixedNow
	checker.nowFunc = func() time.Time { return now }
	ctx := context.Background()
	log := zap.NewNop()

	assert.Equal(t, 1, checker.check(ctx, log))
	assert.Equal(t, 0, checker.check(ctx, log))

	now = now.Add(alertCooldown)
	assert.Equal(t, 1, checker.check(ctx, log))

	jobs.jobs = nil
	assert.Equal(t, 0, checker.check(ctx, log))
	assert.Empty(t, checker.lastSent)

	jobs.jobs = failing
	assert.Equal(t, 1, checker.check(ctx, log))
	assert.Equal(t, int32(3), posts.Load())
}

func TestNewChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(nil, nil, config.MonitoringConfig{})
	assert.Equal(t, defaultCheckInterval, checker.interval)
}
