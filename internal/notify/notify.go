// Package notify delivers finished-attempt results and health transition
// events to an operator-facing channel. Delivery is best-effort and must
// never affect workflow outcomes.
package notify

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/fleetup/fleetup/internal/logutil"
)

// Notifier receives workflow results and health transitions.
type Notifier interface {
	// AttemptFinished is invoked with a completed update or rollback.
	AttemptFinished(kind string, targetID uint, targetName string, success bool, message string)
	// HealthChanged is invoked when a target crosses the failure threshold
	// (healthy=false) or recovers (healthy=true).
	HealthChanged(targetID uint, targetName string, healthy bool, errMsg string)
	// NewVersionAvailable is invoked when the registry publishes a version
	// newer than the last known one, with the targets that are behind it.
	NewVersionAvailable(version string, targets []string)
}

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

func (LogNotifier) AttemptFinished(kind string, targetID uint, targetName string, success bool, message string) {
	log.Printf("[notify] %s finished for %s: success=%v %s",
		kind, logutil.SanitizeForLog(targetName), success, logutil.SanitizeForLog(message))
}

func (LogNotifier) HealthChanged(targetID uint, targetName string, healthy bool, errMsg string) {
	if healthy {
		log.Printf("[notify] %s recovered", logutil.SanitizeForLog(targetName))
		return
	}
	log.Printf("[notify] %s is unhealthy: %s", logutil.SanitizeForLog(targetName), logutil.SanitizeForLog(errMsg))
}

func (LogNotifier) NewVersionAvailable(version string, targets []string) {
	log.Printf("[notify] new version %s available for %d target(s)", version, len(targets))
}

// WebhookNotifier POSTs each event as JSON to a configured URL.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookEvent struct {
	Event      string   `json:"event"`
	TargetID   uint     `json:"target_id,omitempty"`
	TargetName string   `json:"target_name,omitempty"`
	Success    *bool    `json:"success,omitempty"`
	Healthy    *bool    `json:"healthy,omitempty"`
	Message    string   `json:"message,omitempty"`
	Version    string   `json:"version,omitempty"`
	Targets    []string `json:"targets,omitempty"`
}

func (n *WebhookNotifier) post(ev webhookEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	resp, err := n.Client.Post(n.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("[notify] webhook delivery failed: %v", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("[notify] webhook returned %d for event %s", resp.StatusCode, ev.Event)
	}
}

func (n *WebhookNotifier) AttemptFinished(kind string, targetID uint, targetName string, success bool, message string) {
	n.post(webhookEvent{
		Event:      kind + "_finished",
		TargetID:   targetID,
		TargetName: targetName,
		Success:    &success,
		Message:    message,
	})
}

func (n *WebhookNotifier) HealthChanged(targetID uint, targetName string, healthy bool, errMsg string) {
	n.post(webhookEvent{
		Event:      "health_changed",
		TargetID:   targetID,
		TargetName: targetName,
		Healthy:    &healthy,
		Message:    errMsg,
	})
}

func (n *WebhookNotifier) NewVersionAvailable(version string, targets []string) {
	n.post(webhookEvent{
		Event:   "new_version",
		Version: version,
		Targets: targets,
	})
}

// Multi fans notifications out to several notifiers.
type Multi []Notifier

func (m Multi) AttemptFinished(kind string, targetID uint, targetName string, success bool, message string) {
	for _, n := range m {
		n.AttemptFinished(kind, targetID, targetName, success, message)
	}
}

func (m Multi) HealthChanged(targetID uint, targetName string, healthy bool, errMsg string) {
	for _, n := range m {
		n.HealthChanged(targetID, targetName, healthy, errMsg)
	}
}

func (m Multi) NewVersionAvailable(version string, targets []string) {
	for _, n := range m {
		n.NewVersionAvailable(version, targets)
	}
}
