// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// WhatsmeowTransport dials WhatsApp sessions through whatsmeow, loading
// device credentials from a sqlstore container. Credential rotations are
// persisted by the container as they happen, independent of connection
// state, so an ungraceful shutdown does not force a re-pair.
type WhatsmeowTransport struct {
	container *sqlstore.Container
	log       zerolog.Logger
}

// NewWhatsmeowTransport creates a transport over the given credential
// store container.
func NewWhatsmeowTransport(container *sqlstore.Container, log zerolog.Logger) *WhatsmeowTransport {
	return &WhatsmeowTransport{
		container: container,
		log:       log.With().Str("component", "transport").Logger(),
	}
}

// Dial loads the stored device (or a fresh one on first run), builds a
// client, and connects. When the device is unpaired, pairing codes are
// surfaced as EventPairCode state events until the operator scans one.
func (t *WhatsmeowTransport) Dial(ctx context.Context) (TransportSession, error) {
	device, err := t.container.GetFirstDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to load device credentials: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Zerolog(t.log.With().Str("component", "whatsmeow").Logger()))
	// The supervisor owns the reconnect decision table.
	client.EnableAutoReconnect = false

	ws := &whatsmeowSession{
		client:  client,
		states:  make(chan SessionEvent, 8),
		batches: make(chan Batch, 64),
		done:    make(chan struct{}),
		log:     t.log,
	}
	ws.handlerID = client.AddEventHandler(ws.handleEvent)

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			client.RemoveEventHandler(ws.handlerID)
			return nil, fmt.Errorf("failed to open pairing channel: %w", err)
		}
		go ws.drainQR(qrChan)
	}

	if err := client.Connect(); err != nil {
		client.RemoveEventHandler(ws.handlerID)
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return ws, nil
}

// whatsmeowSession adapts one live whatsmeow client to the TransportSession
// contract. Event translation pushes onto buffered channels; pushes race
// with Close via the done channel rather than channel closes, so a handler
// invocation in flight during shutdown cannot panic.
type whatsmeowSession struct {
	client    *whatsmeow.Client
	states    chan SessionEvent
	batches   chan Batch
	done      chan struct{}
	handlerID uint32
	closeOnce sync.Once
	log       zerolog.Logger
}

var _ TransportSession = (*whatsmeowSession)(nil)

func (ws *whatsmeowSession) States() <-chan SessionEvent { return ws.states }
func (ws *whatsmeowSession) Batches() <-chan Batch       { return ws.batches }

// Close detaches the event handler and tears down the connection. Idempotent.
func (ws *whatsmeowSession) Close() {
	ws.closeOnce.Do(func() {
		close(ws.done)
		ws.client.RemoveEventHandler(ws.handlerID)
		ws.client.Disconnect()
	})
}

func (ws *whatsmeowSession) pushState(evt SessionEvent) {
	select {
	case ws.states <- evt:
	case <-ws.done:
	}
}

func (ws *whatsmeowSession) pushBatch(batch Batch) {
	select {
	case ws.batches <- batch:
	case <-ws.done:
	}
}

// handleEvent translates whatsmeow events into transport-neutral ones.
func (ws *whatsmeowSession) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		ws.pushBatch(Batch{Kind: BatchNotify, Messages: []InboundMessage{projectMessage(evt)}})
	case *events.HistorySync:
		// Replays of old messages; tagged so the relay skips them wholesale.
		ws.pushBatch(Batch{Kind: BatchHistory})
	case *events.Connected:
		self := ""
		if id := ws.client.Store.ID; id != nil {
			self = id.String()
		}
		ws.pushState(EventConnected{SelfJID: self})
	case *events.LoggedOut:
		ws.pushState(EventLoggedOut{})
	case *events.StreamReplaced:
		ws.pushState(EventDisconnected{Reason: "stream replaced"})
	case *events.Disconnected:
		ws.pushState(EventDisconnected{Reason: "connection closed"})
	}
}

// drainQR forwards pairing codes until the channel closes (scan success,
// timeout, or error).
func (ws *whatsmeowSession) drainQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			ws.pushState(EventPairCode{Code: item.Code})
		case whatsmeow.QRChannelEventError:
			ws.log.Error().Err(item.Error).Msg("Pairing failed")
		default:
			ws.log.Debug().Str("result", item.Event).Msg("Pairing finished")
		}
	}
}

// projectMessage maps a whatsmeow message event onto the transient relay
// projection. Protobuf getters are nil-safe, so absent sub-messages simply
// yield empty candidates.
func projectMessage(evt *events.Message) InboundMessage {
	msg := evt.Message
	return InboundMessage{
		GroupJID:     evt.Info.Chat.String(),
		MessageID:    evt.Info.ID,
		SenderPhone:  evt.Info.Sender.User,
		ChatPhone:    evt.Info.Chat.User,
		PushName:     evt.Info.PushName,
		FromSelf:     evt.Info.IsFromMe,
		Broadcast:    evt.Info.Chat == types.StatusBroadcastJID,
		IsGroup:      evt.Info.IsGroup,
		Conversation: msg.GetConversation(),
		ExtendedText: msg.GetExtendedTextMessage().GetText(),
		ImageCaption: msg.GetImageMessage().GetCaption(),
		VideoCaption: msg.GetVideoMessage().GetCaption(),
	}
}

// JoinWithInvite implements GroupSession.
func (ws *whatsmeowSession) JoinWithInvite(_ context.Context, code string) (string, error) {
	jid, err := ws.client.JoinGroupWithLink(code)
	if err != nil {
		return "", fmt.Errorf("failed to accept invite: %w", err)
	}
	return jid.String(), nil
}

// LeaveGroup implements GroupSession.
func (ws *whatsmeowSession) LeaveGroup(_ context.Context, groupJID string) error {
	jid, err := types.ParseJID(groupJID)
	if err != nil {
		return fmt.Errorf("invalid group JID %q: %w", groupJID, err)
	}
	if err := ws.client.LeaveGroup(jid); err != nil {
		return fmt.Errorf("failed to leave group: %w", err)
	}
	return nil
}

// SendText implements GroupSession.
func (ws *whatsmeowSession) SendText(ctx context.Context, groupJID, text string) error {
	jid, err := types.ParseJID(groupJID)
	if err != nil {
		return fmt.Errorf("invalid group JID %q: %w", groupJID, err)
	}
	_, err = ws.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// GroupInfo implements GroupSession.
func (ws *whatsmeowSession) GroupInfo(_ context.Context, groupJID string) (*GroupInfo, error) {
	jid, err := types.ParseJID(groupJID)
	if err != nil {
		return nil, fmt.Errorf("invalid group JID %q: %w", groupJID, err)
	}
	info, err := ws.client.GetGroupInfo(jid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch group metadata: %w", err)
	}
	return &GroupInfo{
		JID:         jid.String(),
		Name:        info.Name,
		MemberCount: len(info.Participants),
	}, nil
}
