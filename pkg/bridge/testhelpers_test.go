// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// fakeGroupSession records remote calls and returns scripted results.
type fakeGroupSession struct {
	mu         sync.Mutex
	joinCalls  []string
	leaveCalls []string
	sendCalls  [][2]string
	infoCalls  []string

	joinJID  string
	joinErr  error
	leaveErr error
	sendErr  error
	info     *GroupInfo
	infoErr  error
}

func (f *fakeGroupSession) JoinWithInvite(_ context.Context, code string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinCalls = append(f.joinCalls, code)
	if f.joinErr != nil {
		return "", f.joinErr
	}
	return f.joinJID, nil
}

func (f *fakeGroupSession) LeaveGroup(_ context.Context, groupJID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveCalls = append(f.leaveCalls, groupJID)
	return f.leaveErr
}

func (f *fakeGroupSession) SendText(_ context.Context, groupJID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls = append(f.sendCalls, [2]string{groupJID, text})
	return f.sendErr
}

func (f *fakeGroupSession) GroupInfo(_ context.Context, groupJID string) (*GroupInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls = append(f.infoCalls, groupJID)
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info, nil
}

func (f *fakeGroupSession) calls() (join, leave, info []string, send [][2]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joinCalls...),
		append([]string(nil), f.leaveCalls...),
		append([]string(nil), f.infoCalls...),
		append([][2]string(nil), f.sendCalls...)
}

// fakeSink collects delivered events, optionally failing every delivery.
type fakeSink struct {
	mu       sync.Mutex
	events   []MessageEvent
	attempts int
	err      error
}

func (f *fakeSink) Deliver(_ context.Context, evt MessageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeSink) delivered() []MessageEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MessageEvent(nil), f.events...)
}

func (f *fakeSink) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// fakeTransportSession is a scriptable TransportSession: tests feed state
// events and batches into its channels.
type fakeTransportSession struct {
	fakeGroupSession
	states  chan SessionEvent
	batches chan Batch

	closeMu sync.Mutex
	closed  bool
}

func newFakeTransportSession() *fakeTransportSession {
	return &fakeTransportSession{
		states:  make(chan SessionEvent, 8),
		batches: make(chan Batch, 8),
	}
}

func (f *fakeTransportSession) States() <-chan SessionEvent { return f.states }
func (f *fakeTransportSession) Batches() <-chan Batch       { return f.batches }

func (f *fakeTransportSession) Close() {
	f.closeMu.Lock()
	defer f.closeMu.Unlock()
	f.closed = true
}

func (f *fakeTransportSession) isClosed() bool {
	f.closeMu.Lock()
	defer f.closeMu.Unlock()
	return f.closed
}

// fakeTransport hands out scripted sessions in order.
type fakeTransport struct {
	mu       sync.Mutex
	sessions []*fakeTransportSession
	dialErr  error
	dials    int
}

func (f *fakeTransport) Dial(_ context.Context) (TransportSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	if len(f.sessions) == 0 {
		return nil, errors.New("no scripted session left")
	}
	ts := f.sessions[0]
	f.sessions = f.sessions[1:]
	return ts, nil
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// groupMessage builds an inbound group message with plain text content.
func groupMessage(groupJID, id, phone, name, text string) InboundMessage {
	return InboundMessage{
		GroupJID:     groupJID,
		MessageID:    id,
		SenderPhone:  phone,
		PushName:     name,
		IsGroup:      true,
		Conversation: text,
	}
}
