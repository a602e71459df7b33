// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package bridge relays messages from one logged-in WhatsApp session to an
// external automation backend and exposes the outbound group commands that
// backend needs (join, leave, send, list).
//
// # Core Types
//
// [Session] owns the lifecycle of the underlying WhatsApp connection: it
// dials through a [Transport], watches connection-state events, and applies
// the reconnect policy (retry forever at a fixed delay unless the remote
// service logs the device out, which is terminal).
//
// [Registry] is the authoritative circle-to-group mapping. It is written
// only by [Commands] and read by [Relay] on every inbound message; a group
// can belong to at most one circle at a time.
//
// [Relay] filters the inbound message stream (own echoes, status
// broadcasts, direct messages, unregistered groups, messages with no text
// content are all dropped) and delivers the survivors to a [Sink].
//
// [Commands] is the surface an API layer calls on behalf of the backend.
// Every operation returns a result record with a success flag; failures
// never escape as errors or panics.
//
// # Echo Prevention
//
// Messages authored by the bridge's own session are dropped before any
// registry lookup. Without this the backend would receive its own outbound
// sends back as inbound events.
//
// # Delivery Semantics
//
// Webhook delivery is best-effort with a single attempt. A failed delivery
// is logged and dropped; it never blocks or aborts the rest of the batch.
// The registry is not persisted: after a restart the backend replays its
// join commands to rebuild it.
package bridge
