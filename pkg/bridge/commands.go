// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// ErrInvalidInvite is returned when a join request carries a link without
// the WhatsApp invite prefix.
var ErrInvalidInvite = errors.New("invalid invite link")

// ErrEmptyMessage is returned when a send request carries no text.
var ErrEmptyMessage = errors.New("message text must not be empty")

// inviteLinkMarker is the known invite-link prefix; the invite code is
// whatever follows it.
const inviteLinkMarker = "chat.whatsapp.com/"

// ParseInviteCode extracts the invite code from a shareable group link.
// The scheme is optional; anything after the marker up to a separator is
// the code.
func ParseInviteCode(link string) (string, error) {
	_, code, ok := strings.Cut(link, inviteLinkMarker)
	if !ok {
		return "", ErrInvalidInvite
	}
	if i := strings.IndexAny(code, "/?#"); i >= 0 {
		code = code[:i]
	}
	if code == "" {
		return "", ErrInvalidInvite
	}
	return code, nil
}

// Result is the base outcome record for command operations. Failures are
// carried in-band; commands never raise past this boundary.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// JoinResult extends Result with the joined group's metadata.
type JoinResult struct {
	Result
	GroupID     string `json:"group_id,omitempty"`
	GroupName   string `json:"group_name,omitempty"`
	MemberCount int    `json:"member_count,omitempty"`
}

func failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// Commands is the outbound operation surface invoked by the API layer on
// behalf of the backend. It is the only writer of the registry.
type Commands struct {
	registry *Registry
	session  GroupSession
	log      zerolog.Logger
}

// NewCommands creates the command surface over the given registry and
// session.
func NewCommands(registry *Registry, session GroupSession, log zerolog.Logger) *Commands {
	return &Commands{
		registry: registry,
		session:  session,
		log:      log.With().Str("component", "commands").Logger(),
	}
}

// JoinGroup redeems the invite link, binds the circle to the joined group,
// and returns the group's metadata. The registry is only touched after the
// transport confirms the join, so a failed join leaves no binding behind.
// If the bind is rejected because the group already belongs to another
// circle, the just-created membership is abandoned again.
func (c *Commands) JoinGroup(ctx context.Context, circleID, inviteLink string) JoinResult {
	code, err := ParseInviteCode(inviteLink)
	if err != nil {
		return JoinResult{Result: failure(err)}
	}

	c.log.Info().Str("circle_id", circleID).Str("invite_code", code).Msg("Joining group")
	groupJID, err := c.session.JoinWithInvite(ctx, code)
	if err != nil {
		c.log.Error().Err(err).Str("circle_id", circleID).Msg("Failed to join group")
		return JoinResult{Result: failure(err)}
	}

	if err := c.registry.Bind(circleID, groupJID); err != nil {
		if leaveErr := c.session.LeaveGroup(ctx, groupJID); leaveErr != nil {
			c.log.Warn().Err(leaveErr).
				Str("group_jid", groupJID).
				Msg("Failed to leave group after rejected bind")
		}
		c.log.Error().Err(err).
			Str("circle_id", circleID).
			Str("group_jid", groupJID).
			Msg("Join rejected by registry")
		return JoinResult{Result: failure(err)}
	}

	res := JoinResult{Result: Result{Success: true}, GroupID: groupJID}

	info, err := c.session.GroupInfo(ctx, groupJID)
	if err != nil {
		// The join and bind stand; only the metadata is missing.
		c.log.Warn().Err(err).Str("group_jid", groupJID).Msg("Joined but failed to fetch group metadata")
		return res
	}
	res.GroupName = info.Name
	res.MemberCount = info.MemberCount

	c.log.Info().
		Str("circle_id", circleID).
		Str("group_jid", groupJID).
		Str("group_name", info.Name).
		Int("member_count", info.MemberCount).
		Msg("Joined group")
	return res
}

// LeaveGroup leaves the group bound to circleID and removes the binding.
// The transport leave runs first: if it fails the binding stays, so the
// caller can safely retry.
func (c *Commands) LeaveGroup(ctx context.Context, circleID string) Result {
	groupJID, ok := c.registry.GroupForCircle(circleID)
	if !ok {
		return failure(ErrCircleNotFound)
	}

	if err := c.session.LeaveGroup(ctx, groupJID); err != nil {
		c.log.Error().Err(err).
			Str("circle_id", circleID).
			Str("group_jid", groupJID).
			Msg("Failed to leave group")
		return failure(err)
	}

	if err := c.registry.Unbind(circleID); err != nil {
		// Lost a race with another leave; the group is gone either way.
		return failure(err)
	}

	c.log.Info().Str("circle_id", circleID).Str("group_jid", groupJID).Msg("Left group")
	return Result{Success: true}
}

// SendGroupMessage sends text to the group bound to circleID. No transport
// call is made on any failure path.
func (c *Commands) SendGroupMessage(ctx context.Context, circleID, text string) Result {
	if strings.TrimSpace(text) == "" {
		return failure(ErrEmptyMessage)
	}
	groupJID, ok := c.registry.GroupForCircle(circleID)
	if !ok {
		return failure(ErrCircleNotFound)
	}

	if err := c.session.SendText(ctx, groupJID, text); err != nil {
		c.log.Error().Err(err).
			Str("circle_id", circleID).
			Str("group_jid", groupJID).
			Msg("Failed to send group message")
		return failure(err)
	}
	return Result{Success: true}
}

// ListCircles returns a snapshot of all active bindings. It never fails.
func (c *Commands) ListCircles() []Binding {
	return c.registry.Bindings()
}
