package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookNotifierPostsEvents(t *testing.T) {
	var events []webhookEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode event: %v", err)
		}
		events = append(events, ev)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	n.AttemptFinished("update", 1, "prod", true, "update completed successfully")
	n.HealthChanged(2, "staging", false, "ssh: down")
	n.NewVersionAvailable("1.70.0", []string{"prod", "staging"})

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Event != "update_finished" || events[0].Success == nil || !*events[0].Success {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Event != "health_changed" || events[1].Healthy == nil || *events[1].Healthy {
		t.Errorf("second event = %+v", events[1])
	}
	if events[2].Event != "new_version" || events[2].Version != "1.70.0" || len(events[2].Targets) != 2 {
		t.Errorf("third event = %+v", events[2])
	}
}

// Delivery failures are logged, never propagated.
func TestWebhookNotifierSurvivesDeadEndpoint(t *testing.T) {
	n := &WebhookNotifier{
		URL:    "http://127.0.0.1:1/unreachable",
		Client: &http.Client{Timeout: 100 * time.Millisecond},
	}
	n.AttemptFinished("update", 1, "prod", false, "pull failed")
	n.HealthChanged(1, "prod", true, "")
}

func TestMultiFansOut(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev webhookEvent
		json.NewDecoder(r.Body).Decode(&ev)
		got = append(got, ev.Event)
	}))
	defer srv.Close()

	m := Multi{LogNotifier{}, NewWebhookNotifier(srv.URL)}
	m.NewVersionAvailable("1.70.0", nil)

	if len(got) != 1 || got[0] != "new_version" {
		t.Errorf("webhook leg not invoked: %v", got)
	}
}
