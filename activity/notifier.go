package activity

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/valyala/fasthttp"

	"leadpilot/models"
)

// Verbs worth pushing to the external webhook. The feed itself keeps
// everything; the notifier only relays the headline events.
var notifiableVerbs = map[string]bool{
	"created":        true,
	"replied":        true,
	"status_changed": true,
	"unenrolled":     true,
}

// WebhookNotifier posts Discord-style payloads for significant feed events.
// Delivery is best effort; a failed post is logged and forgotten.
type WebhookNotifier struct {
	URL     string
	Logger  *log.Logger
	Timeout time.Duration

	client *fasthttp.Client
}

func NewWebhookNotifier(url string, logger *log.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		URL:     url,
		Logger:  logger,
		Timeout: 10 * time.Second,
		client:  &fasthttp.Client{},
	}
}

type webhookEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
}

type webhookPayload struct {
	Username string         `json:"username"`
	Embeds   []webhookEmbed `json:"embeds"`
}

func (n *WebhookNotifier) Notify(ev models.ActivityEvent) {
	if n.URL == "" || !notifiableVerbs[ev.ActionVerb] || ev.IsAggregated {
		return
	}

	payload := webhookPayload{
		Username: "LeadPilot",
		Embeds: []webhookEmbed{{
			Title:       fmt.Sprintf("%s %s", ev.EntityType, ev.ActionVerb),
			Description: describe(ev),
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		n.Logger.Printf("Failed to encode webhook payload: %v", err)
		return
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(n.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := n.client.DoTimeout(req, resp, n.Timeout); err != nil {
		n.Logger.Printf("Webhook delivery failed: %v", err)
		return
	}
	if resp.StatusCode() >= 300 {
		n.Logger.Printf("Webhook returned status %d", resp.StatusCode())
	}
}

func describe(ev models.ActivityEvent) string {
	actor := ev.ActorName
	if actor == "" {
		actor = "System"
	}
	name := ev.EntityName
	if name == "" {
		name = fmt.Sprintf("%s #%d", ev.EntityType, ev.EntityID)
	}
	return fmt.Sprintf("%s %s %s", actor, ev.ActionVerb, name)
}
