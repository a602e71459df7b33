// Copyright 2024-2026 Aiku AI

package bridge

import "context"

// GroupSession is the remote-call surface of a live WhatsApp session that
// the command surface needs. It exists as an interface so tests can inject
// a fake instead of a real protocol client.
type GroupSession interface {
	// JoinWithInvite redeems an invite code and returns the JID of the
	// joined group.
	JoinWithInvite(ctx context.Context, code string) (string, error)
	LeaveGroup(ctx context.Context, groupJID string) error
	SendText(ctx context.Context, groupJID, text string) error
	GroupInfo(ctx context.Context, groupJID string) (*GroupInfo, error)
}

// GroupInfo is the group metadata returned to join callers.
type GroupInfo struct {
	JID         string
	Name        string
	MemberCount int
}

// Transport dials new sessions. The session supervisor re-dials through it
// after transient disconnects.
type Transport interface {
	Dial(ctx context.Context) (TransportSession, error)
}

// TransportSession is one live connection. State events and inbound batches
// arrive on channels that stay open for the life of the session; consumers
// stop reading when the supervisor decides the session is over, and Close
// releases the underlying connection.
type TransportSession interface {
	GroupSession
	States() <-chan SessionEvent
	Batches() <-chan Batch
	Close()
}

// SessionEvent is a connection-state transition reported by the transport.
type SessionEvent interface {
	sessionEvent()
}

// EventPairCode carries a pairing code that must be scanned by the operator
// before the session can open.
type EventPairCode struct {
	Code string
}

// EventConnected signals the session is open and usable.
type EventConnected struct {
	SelfJID string
}

// EventDisconnected signals a transient close. The supervisor schedules a
// full re-establishment.
type EventDisconnected struct {
	Reason string
}

// EventLoggedOut signals the remote service invalidated the credentials.
// Terminal: no reconnect is ever scheduled.
type EventLoggedOut struct{}

func (EventPairCode) sessionEvent()     {}
func (EventConnected) sessionEvent()    {}
func (EventDisconnected) sessionEvent() {}
func (EventLoggedOut) sessionEvent()    {}

// BatchKind tags an inbound batch. Only live notifications are relayed;
// history-sync replays arrive tagged BatchHistory and are ignored.
type BatchKind string

const (
	BatchNotify  BatchKind = "notify"
	BatchHistory BatchKind = "history"
)

// Batch is a group of inbound messages delivered together. Messages within
// one batch are relayed in order; there is no ordering guarantee across
// batches or reconnects.
type Batch struct {
	Kind     BatchKind
	Messages []InboundMessage
}

// InboundMessage is the transport-neutral projection of one protocol
// message. It exists only for the duration of relay processing and is
// never stored.
type InboundMessage struct {
	GroupJID  string
	MessageID string
	// SenderPhone is the phone number from the participant JID. Empty for
	// messages where no participant is attached; the relay then falls back
	// to ChatPhone.
	SenderPhone string
	ChatPhone   string
	PushName    string
	FromSelf    bool
	Broadcast   bool
	IsGroup     bool

	// Text content candidates, checked in this order by the relay.
	Conversation string
	ExtendedText string
	ImageCaption string
	VideoCaption string
}
