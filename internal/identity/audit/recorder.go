// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Sink persists audit entries. Implemented by [PostgresSink].
type Sink interface {
	Insert(ctx context.Context, entry Entry) error
}

// bufferSize bounds the in-flight queue. Entries beyond this are dropped
// and counted rather than blocking the caller.
const bufferSize = 256

// sinkWriteTimeout bounds each individual sink write.
const sinkWriteTimeout = 5 * time.Second

// Recorder dispatches audit entries to the sink asynchronously.
//
// Record never blocks and never returns an error to the caller: auditing is
// best-effort by contract. Failed or dropped entries increment a counter that
// the readiness probe surfaces for operators.
type Recorder struct {
	sink    Sink
	logger  *slog.Logger
	enabled bool

	queue   chan Entry
	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewRecorder starts a [Recorder] with a single background dispatch worker.
//
// # Parameters
//   - sink: The persistence sink for entries.
//   - logger: Structured logger for write failures.
//   - enabled: When false the recorder is a no-op (audit disabled in config).
func NewRecorder(sink Sink, logger *slog.Logger, enabled bool) *Recorder {
	recorder := &Recorder{
		sink:    sink,
		logger:  logger,
		enabled: enabled,
		queue:   make(chan Entry, bufferSize),
		done:    make(chan struct{}),
	}

	if enabled {
		go recorder.dispatch()
	}

	return recorder
}

/*
Record enqueues an audit entry for asynchronous persistence.

Never blocks: when the buffer is full the entry is dropped and counted.
Callers must treat auditing as fire-and-forget.

Parameters:
  - ctx: Caller context (used only for the request-scoped timestamp source).
  - entry: The entry to persist. CreatedAt is stamped here if zero.
*/
func (recorder *Recorder) Record(_ context.Context, entry Entry) {
	if !recorder.enabled {
		return
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	select {
	case recorder.queue <- entry:
	default:
		recorder.dropped.Add(1)
		recorder.logger.Error("audit_entry_dropped",
			slog.String("action", entry.Action),
			slog.Uint64("total_dropped", recorder.dropped.Load()),
		)
	}
}

// Dropped returns the number of entries lost to a full buffer or failed writes.
func (recorder *Recorder) Dropped() uint64 {
	return recorder.dropped.Load()
}

// Close drains the queue and stops the dispatch worker.
// Safe to call multiple times.
func (recorder *Recorder) Close() {
	recorder.closeOnce.Do(func() {
		close(recorder.queue)
		if recorder.enabled {
			<-recorder.done
		} else {
			close(recorder.done)
		}
	})
}

// dispatch is the background worker draining the queue into the sink.
func (recorder *Recorder) dispatch() {
	defer close(recorder.done)

	for entry := range recorder.queue {
		writeCtx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
		err := recorder.sink.Insert(writeCtx, entry)
		cancel()

		if err != nil {
			// Audit failures are never fatal to the originating operation,
			// but operators must be able to see them.
			recorder.dropped.Add(1)
			recorder.logger.Error("audit_write_failed",
				slog.String("action", entry.Action),
				slog.String("actor_id", entry.ActorID),
				slog.Any("error", err),
			)
		}
	}
}
