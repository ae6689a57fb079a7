package api

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kweiss/Wardex/pkg/models"
)

// Structured alert emission for operators watching a Wardex deployment.
// Alerts are:
//  1. Broadcast via WebSocket to connected dashboards
//  2. Pushed to registered webhook endpoints (Slack, Discord, PagerDuty)
//  3. Stored in memory for recent alert history
//
// Webhook payloads follow a common JSON format compatible with Slack
// incoming webhooks, Discord webhooks, and PagerDuty Events API.
// Adapted from the teacher's internal/heuristics/alert_system.go
// AlertManager, repointed from CoinJoin/watchlist alerts at
// SecurityVerdict block/freeze/auto-freeze events.

// Alert is a structured notification derived from a verdict or shield
// state transition.
type Alert struct {
	ID           string                  `json:"id"`
	Timestamp    time.Time               `json:"timestamp"`
	Severity     models.Severity         `json:"severity"`
	AlertType    string                  `json:"alertType"` // block/freeze/auto_freeze/daily_volume_exceeded
	Title        string                  `json:"title"`
	Description  string                  `json:"description"`
	EvaluationID string                  `json:"evaluationId,omitempty"`
	ToAddress    string                  `json:"toAddress,omitempty"`
	Verdict      *models.SecurityVerdict `json:"verdict,omitempty"`
}

// WebhookEndpoint is a registered webhook receiver.
type WebhookEndpoint struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Enabled     bool              `json:"enabled"`
	Headers     map[string]string `json:"headers,omitempty"`
	MinSeverity models.Severity   `json:"minSeverity"`
}

// AlertManager handles alert emission, webhook delivery, and bounded
// in-memory history.
type AlertManager struct {
	mu            sync.RWMutex
	webhooks      []WebhookEndpoint
	recentAlerts  []Alert
	maxHistory    int
	httpClient    *http.Client
	alertCallback func(Alert)
}

// NewAlertManager creates an alert system that broadcasts through
// broadcastFn (typically VerdictHub.BroadcastVerdict, JSON-wrapped) in addition to
// any registered webhooks.
func NewAlertManager(broadcastFn func(Alert)) *AlertManager {
	return &AlertManager{
		webhooks:      make([]WebhookEndpoint, 0),
		recentAlerts:  make([]Alert, 0),
		maxHistory:    1000,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		alertCallback: broadcastFn,
	}
}

// RegisterWebhook adds a webhook endpoint.
func (am *AlertManager) RegisterWebhook(name, url string, minSeverity models.Severity, headers map[string]string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	am.webhooks = append(am.webhooks, WebhookEndpoint{
		Name:        name,
		URL:         url,
		Enabled:     true,
		Headers:     headers,
		MinSeverity: minSeverity,
	})

	log.Printf("[AlertManager] Registered webhook: %s -> %s (min: %s)", name, url, minSeverity)
}

// RemoveWebhook removes a webhook by name.
func (am *AlertManager) RemoveWebhook(name string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	for i, wh := range am.webhooks {
		if wh.Name == name {
			am.webhooks = append(am.webhooks[:i], am.webhooks[i+1:]...)
			return
		}
	}
}

// EmitAlert stores, broadcasts, and delivers an alert to every webhook
// whose MinSeverity the alert clears.
func (am *AlertManager) EmitAlert(alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	am.mu.Lock()
	am.recentAlerts = append(am.recentAlerts, alert)
	if len(am.recentAlerts) > am.maxHistory {
		am.recentAlerts = am.recentAlerts[len(am.recentAlerts)-am.maxHistory:]
	}
	webhooks := make([]WebhookEndpoint, len(am.webhooks))
	copy(webhooks, am.webhooks)
	am.mu.Unlock()

	if am.alertCallback != nil {
		am.alertCallback(alert)
	}

	for _, wh := range webhooks {
		if !wh.Enabled || wh.MinSeverity.Weight() > alert.Severity.Weight() {
			continue
		}
		go am.sendWebhook(wh, alert)
	}

	log.Printf("[Alert] [%s] %s: %s (eval: %s)", alert.Severity, alert.AlertType, alert.Title, alert.EvaluationID)
}

// EmitFromVerdict builds and emits an alert for a block or freeze
// decision. Approve and advise verdicts return without emitting
// anything.
func (am *AlertManager) EmitFromVerdict(tx models.TransactionRequest, verdict models.SecurityVerdict) {
	if verdict.Decision != models.DecisionBlock && verdict.Decision != models.DecisionFreeze {
		return
	}

	severity := models.SeverityMedium
	for _, r := range verdict.Reasons {
		if r.Severity.Weight() > severity.Weight() {
			severity = r.Severity
		}
	}

	alertType := "block"
	title := "Transaction blocked"
	if verdict.Decision == models.DecisionFreeze {
		alertType = "freeze"
		title = "Shield frozen"
	}
	if verdict.HasCode("DAILY_VOLUME_EXCEEDED") {
		alertType = "daily_volume_exceeded"
	}

	am.EmitAlert(Alert{
		Severity:     severity,
		AlertType:    alertType,
		Title:        title,
		Description:  describeVerdict(verdict),
		EvaluationID: verdict.EvaluationID,
		ToAddress:    tx.To,
		Verdict:      &verdict,
	})
}

// EmitFreeze emits an operator-facing alert for a manual or
// auto-triggered freeze, independent of any single verdict.
func (am *AlertManager) EmitFreeze(reason string) {
	am.EmitAlert(Alert{
		Severity:    models.SeverityCritical,
		AlertType:   "freeze",
		Title:       "Shield frozen",
		Description: reason,
	})
}

// GetRecentAlerts returns the most recent alerts, newest first.
func (am *AlertManager) GetRecentAlerts(limit int) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	if limit <= 0 || limit > len(am.recentAlerts) {
		limit = len(am.recentAlerts)
	}

	start := len(am.recentAlerts) - limit
	result := make([]Alert, limit)
	for i := 0; i < limit; i++ {
		result[i] = am.recentAlerts[start+limit-1-i]
	}
	return result
}

// sendWebhook delivers one alert to one webhook endpoint.
func (am *AlertManager) sendWebhook(wh WebhookEndpoint, alert Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		log.Printf("[Webhook] Failed to marshal alert: %v", err)
		return
	}

	req, err := http.NewRequest("POST", wh.URL, bytes.NewBuffer(payload))
	if err != nil {
		log.Printf("[Webhook] Failed to create request for %s: %v", wh.Name, err)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	for key, val := range wh.Headers {
		req.Header.Set(key, val)
	}

	resp, err := am.httpClient.Do(req)
	if err != nil {
		log.Printf("[Webhook] Failed to send to %s: %v", wh.Name, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Printf("[Webhook] %s returned status %d", wh.Name, resp.StatusCode)
	}
}

func describeVerdict(v models.SecurityVerdict) string {
	desc := ""
	for i, r := range v.Reasons {
		if i > 0 {
			desc += "; "
		}
		desc += r.Code + ": " + r.Message
	}
	return desc
}
