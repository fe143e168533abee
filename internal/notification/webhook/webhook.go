// Package webhook posts notification events as JSON to a user endpoint.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/notification"
)

// Settings configures one endpoint.
type Settings struct {
	Name     string
	URL      string
	Method   string
	Username string
	Password string
	Headers  map[string]string
}

// Payload is the body sent to the endpoint.
type Payload struct {
	notification.Event
	InstanceName string `json:"instanceName"`
}

// Notifier sends events to a custom webhook endpoint.
type Notifier struct {
	settings Settings
	http     *httpclient.Client
	logger   zerolog.Logger
}

func New(settings Settings, hc *httpclient.Client, logger zerolog.Logger) *Notifier {
	if settings.Method == "" {
		settings.Method = http.MethodPost
	}
	settings.Method = strings.ToUpper(settings.Method)
	if settings.Name == "" {
		settings.Name = settings.URL
	}
	return &Notifier{
		settings: settings,
		http:     hc,
		logger:   logger.With().Str("notifier", "webhook").Str("name", settings.Name).Logger(),
	}
}

func (n *Notifier) Name() string {
	return n.settings.Name
}

func (n *Notifier) Send(ctx context.Context, event notification.Event) error {
	body, err := json.Marshal(Payload{Event: event, InstanceName: "acquire"})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := n.http.Do(ctx, &httpclient.Request{
		Method:      n.settings.Method,
		URL:         n.settings.URL,
		Body:        body,
		ContentType: "application/json",
		Headers:     n.settings.Headers,
		Username:    n.settings.Username,
		Password:    n.settings.Password,
	})
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Debug().Str("event", string(event.Type)).Int("status", resp.StatusCode).Msg("Webhook delivered")
	return nil
}
