// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink implements the [Sink] interface using pgx.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink creates a new PostgreSQL implementation of the audit [Sink].
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Insert appends one entry to the system.auditlog table.
//
// The table has no UPDATE or DELETE path in this codebase; entries are
// immutable once written.
func (sink *PostgresSink) Insert(ctx context.Context, entry Entry) error {
	const query = `
		INSERT INTO system.auditlog (
			action, actorid, actorrole, sessionid, hostaddr, hostname, authorized, appcontext, createdat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := sink.pool.Exec(ctx, query,
		entry.Action,
		entry.ActorID,
		entry.ActorRole,
		entry.SessionID,
		entry.HostAddr,
		entry.HostName,
		entry.Authorized,
		entry.AppContext,
		entry.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("audit_sink_insert_failed: %w", err)
	}

	return nil
}
