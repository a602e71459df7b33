// Copyright 2024-2026 Aiku AI

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// MessageEvent is the normalized payload delivered to the backend for each
// relayed message. Field names are the wire contract.
type MessageEvent struct {
	Action            string `json:"action"`
	CircleID          string `json:"circle_id"`
	WhatsAppMessageID string `json:"whatsapp_message_id"`
	SenderPhone       string `json:"sender_phone"`
	SenderName        string `json:"sender_name"`
	Content           string `json:"content"`
}

// Sink delivers relay events to the backend. The production implementation
// is HTTPSink; tests substitute fakes.
type Sink interface {
	Deliver(ctx context.Context, evt MessageEvent) error
}

// maxWebhookReplySize caps how much of the backend's response is read (1 MB).
const maxWebhookReplySize = 1 << 20

// HTTPSink posts events as JSON to a fixed webhook URL. Delivery is
// best-effort with a single attempt; the caller decides what to do with a
// failure (the relay logs and drops).
type HTTPSink struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// NewHTTPSink creates a sink for the given webhook URL.
func NewHTTPSink(url string, log zerolog.Logger) *HTTPSink {
	return &HTTPSink{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log.With().Str("component", "webhook").Logger(),
	}
}

// Deliver posts the event and logs the backend's JSON response. A non-2xx
// status or an undecodable response body is a delivery error.
func (s *HTTPSink) Deliver(ctx context.Context, evt MessageEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxWebhookReplySize))
		return fmt.Errorf("webhook returned %s", resp.Status)
	}

	// The response is parsed and logged but not otherwise interpreted.
	var reply map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxWebhookReplySize)).Decode(&reply); err != nil {
		return fmt.Errorf("webhook response is not valid JSON: %w", err)
	}
	s.log.Debug().
		Str("circle_id", evt.CircleID).
		Str("message_id", evt.WhatsAppMessageID).
		Interface("response", reply).
		Msg("Webhook delivered")
	return nil
}
