// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

/*
Package audit provides the tamper-evident audit trail for privileged operations.

Every privileged operation in the identity core emits exactly one audit entry
per invocation, including denied and failed paths. Entries are append-only and
immutable once written.

Core Responsibilities:

  - Durability: Entries land in the system.auditlog table.
  - Non-interference: A failing audit write never fails the operation that
    produced it. Failures are logged and counted, then swallowed.
  - Throughput: Writes are dispatched asynchronously through a bounded buffer
    so the hot authentication path never blocks on the audit sink.
*/
package audit

import "time"

// Entry is one immutable audit record.
type Entry struct {
	// Action is the service identifier of the operation (e.g. "account.create").
	Action string `json:"action"`
	// ActorID is the account ID of the requestor. Empty for anonymous flows.
	ActorID string `json:"actor_id"`
	// ActorRole is the requestor's role at the time of the operation.
	ActorRole string `json:"actor_role"`
	// SessionID is the JWT session identifier (jti), if authenticated.
	SessionID string `json:"session_id"`
	// HostAddr is the client IP the request arrived from.
	HostAddr string `json:"host_addr"`
	// HostName is the reverse-resolved client host, best-effort.
	HostName string `json:"host_name"`
	// Authorized records the access-control gate decision.
	Authorized bool `json:"authorized"`
	// AppContext carries free-form operation context (target IDs, outcome).
	AppContext string `json:"app_context"`
	// CreatedAt is stamped by the recorder at enqueue time.
	CreatedAt time.Time `json:"created_at"`
}
