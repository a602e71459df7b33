// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestParseInviteCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		link    string
		want    string
		wantErr bool
	}{
		{"full link", "https://chat.whatsapp.com/ABC123", "ABC123", false},
		{"no scheme", "chat.whatsapp.com/ABC123", "ABC123", false},
		{"trailing slash", "https://chat.whatsapp.com/ABC123/", "ABC123", false},
		{"query suffix", "https://chat.whatsapp.com/ABC123?utm=x", "ABC123", false},
		{"missing prefix", "https://example.com/ABC123", "", true},
		{"prefix only", "https://chat.whatsapp.com/", "", true},
		{"empty", "", "", true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseInviteCode(tc.link)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidInvite) {
					t.Fatalf("expected ErrInvalidInvite, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("code: got %q, want %q", got, tc.want)
			}
		})
	}
}

// TestJoinGroup_Success covers the reference scenario: joining binds the
// circle, returns group metadata, and a subsequent inbound message from the
// group resolves to the circle.
func TestJoinGroup_Success(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	session := &fakeGroupSession{
		joinJID: "111222333@g.us",
		info:    &GroupInfo{JID: "111222333@g.us", Name: "Vecinos", MemberCount: 12},
	}
	commands := NewCommands(registry, session, testLogger())

	res := commands.JoinGroup(context.Background(), "c1", "https://chat.whatsapp.com/ABC123")
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.GroupID != "111222333@g.us" {
		t.Errorf("group_id: got %q, want 111222333@g.us", res.GroupID)
	}
	if res.GroupName != "Vecinos" {
		t.Errorf("group_name: got %q, want Vecinos", res.GroupName)
	}
	if res.MemberCount != 12 {
		t.Errorf("member_count: got %d, want 12", res.MemberCount)
	}

	join, _, _, _ := session.calls()
	if len(join) != 1 || join[0] != "ABC123" {
		t.Errorf("join calls: got %v, want [ABC123]", join)
	}
	if circle, ok := registry.CircleForGroup("111222333@g.us"); !ok || circle != "c1" {
		t.Errorf("registry after join: got %q/%v, want c1/true", circle, ok)
	}
}

// TestJoinGroup_InvalidInvite verifies a malformed link fails before any
// transport call.
func TestJoinGroup_InvalidInvite(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	session := &fakeGroupSession{}
	commands := NewCommands(registry, session, testLogger())

	res := commands.JoinGroup(context.Background(), "c1", "https://example.com/nope")
	if res.Success {
		t.Fatal("expected failure")
	}
	if join, _, _, _ := session.calls(); len(join) != 0 {
		t.Errorf("transport called for invalid invite: %v", join)
	}
	if len(registry.Bindings()) != 0 {
		t.Error("registry mutated on invalid invite")
	}
}

// TestJoinGroup_TransportFailureLeavesRegistryUntouched verifies the
// confirm-before-bind ordering.
func TestJoinGroup_TransportFailureLeavesRegistryUntouched(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	session := &fakeGroupSession{joinErr: errors.New("invite revoked")}
	commands := NewCommands(registry, session, testLogger())

	res := commands.JoinGroup(context.Background(), "c1", "https://chat.whatsapp.com/ABC123")
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "invite revoked") {
		t.Errorf("error: got %q, want the transport error", res.Error)
	}
	if len(registry.Bindings()) != 0 {
		t.Error("registry mutated on failed join")
	}
}

// TestJoinGroup_DuplicateGroupRejected verifies the bijection: joining the
// same group for a second circle fails deterministically and the stray
// membership is abandoned.
func TestJoinGroup_DuplicateGroupRejected(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	session := &fakeGroupSession{
		joinJID: "g1@g.us",
		info:    &GroupInfo{JID: "g1@g.us", Name: "Uno", MemberCount: 3},
	}
	commands := NewCommands(registry, session, testLogger())

	if res := commands.JoinGroup(context.Background(), "c1", "https://chat.whatsapp.com/AAA"); !res.Success {
		t.Fatalf("first join failed: %q", res.Error)
	}
	res := commands.JoinGroup(context.Background(), "c2", "https://chat.whatsapp.com/AAA")
	if res.Success {
		t.Fatal("expected second join to fail")
	}

	_, leave, _, _ := session.calls()
	if len(leave) != 1 || leave[0] != "g1@g.us" {
		t.Errorf("expected the duplicate membership to be left, got %v", leave)
	}
	if circle, _ := registry.CircleForGroup("g1@g.us"); circle != "c1" {
		t.Errorf("registry owner: got %q, want c1", circle)
	}
}

// TestJoinGroup_MetadataFailureDegrades verifies a metadata fetch error
// does not undo a successful join and bind.
func TestJoinGroup_MetadataFailureDegrades(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	session := &fakeGroupSession{
		joinJID: "g1@g.us",
		infoErr: errors.New("metadata unavailable"),
	}
	commands := NewCommands(registry, session, testLogger())

	res := commands.JoinGroup(context.Background(), "c1", "https://chat.whatsapp.com/AAA")
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if res.GroupID != "g1@g.us" {
		t.Errorf("group_id: got %q, want g1@g.us", res.GroupID)
	}
	if res.GroupName != "" || res.MemberCount != 0 {
		t.Errorf("expected empty metadata, got %q/%d", res.GroupName, res.MemberCount)
	}
	if _, ok := registry.GroupForCircle("c1"); !ok {
		t.Error("binding missing after degraded join")
	}
}

// TestLeaveGroup_DoubleLeave verifies the second leave reports NotFound
// instead of crashing.
func TestLeaveGroup_DoubleLeave(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	session := &fakeGroupSession{joinJID: "g1@g.us", info: &GroupInfo{JID: "g1@g.us"}}
	commands := NewCommands(registry, session, testLogger())

	if res := commands.JoinGroup(context.Background(), "c1", "https://chat.whatsapp.com/AAA"); !res.Success {
		t.Fatalf("join failed: %q", res.Error)
	}
	if res := commands.LeaveGroup(context.Background(), "c1"); !res.Success {
		t.Fatalf("first leave failed: %q", res.Error)
	}

	res := commands.LeaveGroup(context.Background(), "c1")
	if res.Success {
		t.Fatal("expected second leave to fail")
	}
	if res.Error != ErrCircleNotFound.Error() {
		t.Errorf("error: got %q, want %q", res.Error, ErrCircleNotFound.Error())
	}
}

// TestLeaveGroup_TransportFailureKeepsBinding verifies a failed leave keeps
// the registry bound so a retry is safe.
func TestLeaveGroup_TransportFailureKeepsBinding(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	session := &fakeGroupSession{leaveErr: errors.New("network down")}
	commands := NewCommands(registry, session, testLogger())
	if err := registry.Bind("c1", "g1@g.us"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := commands.LeaveGroup(context.Background(), "c1")
	if res.Success {
		t.Fatal("expected failure")
	}
	if _, ok := registry.GroupForCircle("c1"); !ok {
		t.Error("binding removed despite failed transport leave")
	}
}

// TestSendGroupMessage_UnknownCircle verifies the reference scenario: a
// send to an unbound circle fails with NotFound and makes no transport call.
func TestSendGroupMessage_UnknownCircle(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	session := &fakeGroupSession{}
	commands := NewCommands(registry, session, testLogger())

	res := commands.SendGroupMessage(context.Background(), "unknown-circle", "hi")
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != ErrCircleNotFound.Error() {
		t.Errorf("error: got %q, want %q", res.Error, ErrCircleNotFound.Error())
	}
	if _, _, _, send := session.calls(); len(send) != 0 {
		t.Errorf("transport called for unknown circle: %v", send)
	}
}

func TestSendGroupMessage_EmptyText(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	session := &fakeGroupSession{}
	commands := NewCommands(registry, session, testLogger())
	if err := registry.Bind("c1", "g1@g.us"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := commands.SendGroupMessage(context.Background(), "c1", "   ")
	if res.Success {
		t.Fatal("expected failure for empty text")
	}
	if _, _, _, send := session.calls(); len(send) != 0 {
		t.Errorf("transport called for empty text: %v", send)
	}
}

func TestSendGroupMessage_Success(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	session := &fakeGroupSession{}
	commands := NewCommands(registry, session, testLogger())
	if err := registry.Bind("c1", "g1@g.us"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := commands.SendGroupMessage(context.Background(), "c1", "hola grupo")
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	_, _, _, send := session.calls()
	if len(send) != 1 || send[0] != [2]string{"g1@g.us", "hola grupo"} {
		t.Errorf("send calls: got %v", send)
	}
}

func TestListCircles_Snapshot(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	session := &fakeGroupSession{}
	commands := NewCommands(registry, session, testLogger())

	if got := commands.ListCircles(); len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
	if err := registry.Bind("c1", "g1@g.us"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := commands.ListCircles()
	if len(got) != 1 || got[0] != (Binding{CircleID: "c1", GroupJID: "g1@g.us"}) {
		t.Errorf("list: got %v", got)
	}
}
