package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/studio-catalog/internal/config"
)

const (
	defaultCheckInterval = 5 * time.Minute
	// alertCooldown is how long an alert type stays muted after it was
	// delivered while its condition persists.
	alertCooldown = time.Hour
)

// Checker watches ingestion health and posts alerts while `serve` runs.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	nowFunc   func() time.Time

	lastSent map[AlertType]time.Time
}

// NewChecker wires a collector and alerter to the monitoring settings.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		nowFunc:   time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

// Run checks once immediately and then on every interval until ctx ends.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("ingestion health checks started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.check(ctx, log)
		select {
		case <-ctx.Done():
			log.Info("ingestion health checks stopped")
			return
		case <-ticker.C:
		}
	}
}

// check returns the number of alerts delivered.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("monitoring: collect ingestion health", zap.Error(err))
		}
		return 0
	}

	due := c.due(c.alerter.Evaluate(snap))
	log.Debug("monitoring: ingestion health",
		zap.Int("jobs_failed", snap.JobsFailed),
		zap.Int("critical_errors", snap.CriticalErrors),
		zap.Int("pending_reviews", snap.PendingReviews),
		zap.Int("alerts_due", len(due)),
	)
	if len(due) == 0 {
		return 0
	}

	sent := 0
	for _, a := range due {
		if c.alerter.SendAlerts(ctx, []Alert{a}) == 1 {
			c.lastSent[a.Type] = c.nowFunc()
			sent++
		}
	}
	log.Info("monitoring: ingestion alerts posted",
		zap.Int("alerts", len(due)),
		zap.Int("delivered", sent),
		zap.Strings("failed_sources", snap.FailedSources),
	)
	return sent
}

// due drops alerts whose type was delivered within the cooldown. Types
// that have cleared are forgotten so they alert again on recurrence.
func (c *Checker) due(alerts []Alert) []Alert {
	now := c.nowFunc()
	active := make(map[AlertType]bool, len(alerts))
	var out []Alert
	for _, a := range alerts {
		active[a.Type] = true
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < alertCooldown {
			continue
		}
		out = append(out, a)
	}
	for t := range c.lastSent {
		if !active[t] {
			delete(c.lastSent, t)
		}
	}
	return out
}
