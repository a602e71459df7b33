// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"

	"github.com/rs/zerolog"
)

// Relay turns inbound batches into webhook deliveries. Filtering is strict:
// anything that is not a registered group's live text message is dropped,
// mostly silently, because unregistered-group and no-content traffic is
// expected steady-state noise rather than an error.
type Relay struct {
	registry *Registry
	sink     Sink
	log      zerolog.Logger
}

// NewRelay creates a relay reading circle bindings from registry and
// delivering to sink.
func NewRelay(registry *Registry, sink Sink, log zerolog.Logger) *Relay {
	return &Relay{
		registry: registry,
		sink:     sink,
		log:      log.With().Str("component", "relay").Logger(),
	}
}

// HandleBatch processes one inbound batch. Only live notification batches
// are relayed; history-sync replays are ignored entirely. Messages are
// handled in order, and a delivery failure for one message never blocks
// the rest of the batch.
func (r *Relay) HandleBatch(ctx context.Context, batch Batch) {
	if batch.Kind != BatchNotify {
		r.log.Trace().Str("kind", string(batch.Kind)).Msg("Ignoring non-notify batch")
		return
	}
	for _, msg := range batch.Messages {
		r.handleMessage(ctx, msg)
	}
}

func (r *Relay) handleMessage(ctx context.Context, msg InboundMessage) {
	// Echo prevention: never relay self-authored messages.
	if msg.FromSelf {
		return
	}
	if msg.Broadcast {
		return
	}
	// Direct messages are out of scope; only group chats are relayed.
	if !msg.IsGroup {
		return
	}

	circleID, ok := r.registry.CircleForGroup(msg.GroupJID)
	if !ok {
		r.log.Warn().Str("group_jid", msg.GroupJID).Msg("Message from unregistered group, dropping")
		return
	}

	content := extractText(msg)
	if content == "" {
		// Pure media, reactions, receipts and the like carry no text.
		return
	}

	senderPhone := msg.SenderPhone
	if senderPhone == "" {
		senderPhone = msg.ChatPhone
	}
	senderName := msg.PushName
	if senderName == "" {
		senderName = senderPhone
	}

	r.log.Info().
		Str("circle_id", circleID).
		Str("sender", senderName).
		Int("content_len", len(content)).
		Msg("Relaying group message")

	evt := MessageEvent{
		Action:            "message",
		CircleID:          circleID,
		WhatsAppMessageID: msg.MessageID,
		SenderPhone:       senderPhone,
		SenderName:        senderName,
		Content:           content,
	}
	if err := r.sink.Deliver(ctx, evt); err != nil {
		// At-most-one-attempt delivery: log and move on.
		r.log.Error().Err(err).
			Str("circle_id", circleID).
			Str("message_id", msg.MessageID).
			Msg("Webhook delivery failed, dropping event")
	}
}

// extractText returns the first non-empty text candidate: plain
// conversation text, extended/quoted text, image caption, video caption.
func extractText(msg InboundMessage) string {
	for _, candidate := range []string{
		msg.Conversation,
		msg.ExtendedText,
		msg.ImageCaption,
		msg.VideoCaption,
	} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}
