package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertQuarantineDepth AlertType = "quarantine_depth"
	AlertPushBacklog     AlertType = "push_backlog"
	AlertBreakerOpen     AlertType = "breaker_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.QuarantineThreshold > 0 && snap.Quarantined >= a.cfg.QuarantineThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertQuarantineDepth,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d leads quarantined with sync errors (threshold %d); manual clearing required",
				snap.Quarantined, a.cfg.QuarantineThreshold,
			),
			Details: map[string]any{
				"quarantined": snap.Quarantined,
				"threshold":   a.cfg.QuarantineThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.PendingThreshold > 0 && snap.PendingPush >= a.cfg.PendingThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertPushBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"push backlog at %d leads (threshold %d); sync may be stalled",
				snap.PendingPush, a.cfg.PendingThreshold,
			),
			Details: map[string]any{
				"pending_push": snap.PendingPush,
				"threshold":    a.cfg.PendingThreshold,
			},
			Timestamp: now,
		})
	}

	for target, state := range snap.Breakers {
		if state != "open" {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertBreakerOpen,
			Severity: "medium",
			Message:  fmt.Sprintf("circuit breaker open for %s; calls failing fast", target),
			Details: map[string]any{
				"target": target,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts posts each alert to the configured webhook. Returns the number
// successfully sent. Failures are logged, not returned: alerting must never
// take the pipeline down.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		zap.L().Warn("monitoring: no webhook configured, dropping alerts",
			zap.Int("count", len(alerts)))
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.send(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

func (a *Alerter) send(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create alert request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post alert")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		return eris.Errorf("monitoring: webhook returned %d", resp.StatusCode)
	}
	return nil
}
