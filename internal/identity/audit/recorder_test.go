// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package audit_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal/identity/audit"
)

// memorySink collects entries in memory for assertions.
type memorySink struct {
	mu      sync.Mutex
	entries []audit.Entry
	failAll bool
}

func (sink *memorySink) Insert(_ context.Context, entry audit.Entry) error {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	if sink.failAll {
		return errors.New("sink down")
	}

	sink.entries = append(sink.entries, entry)
	return nil
}

func (sink *memorySink) all() []audit.Entry {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return append([]audit.Entry(nil), sink.entries...)
}

/*
TestRecorder_Record_Persists tests that enqueued entries reach the sink with
a stamped timestamp.
*/
func TestRecorder_Record_Persists(t *testing.T) {
	sink := &memorySink{}
	recorder := audit.NewRecorder(sink, slog.Default(), true)

	recorder.Record(context.Background(), audit.Entry{
		Action:     "account.create",
		ActorID:    "actor-1",
		Authorized: true,
	})
	recorder.Close()

	entries := sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "account.create", entries[0].Action)
	assert.True(t, entries[0].Authorized)
	assert.WithinDuration(t, time.Now(), entries[0].CreatedAt, 5*time.Second)
}

/*
TestRecorder_SinkFailure_Swallowed tests that a failing sink never propagates
to the caller and is reflected in the drop counter.
*/
func TestRecorder_SinkFailure_Swallowed(t *testing.T) {
	sink := &memorySink{failAll: true}
	recorder := audit.NewRecorder(sink, slog.Default(), true)

	// Record must not panic or block even with a broken sink.
	recorder.Record(context.Background(), audit.Entry{Action: "authn.login"})
	recorder.Close()

	assert.Equal(t, uint64(1), recorder.Dropped())
	assert.Empty(t, sink.all())
}

/*
TestRecorder_Disabled_NoOp tests the audit-off configuration path.
*/
func TestRecorder_Disabled_NoOp(t *testing.T) {
	sink := &memorySink{}
	recorder := audit.NewRecorder(sink, slog.Default(), false)

	recorder.Record(context.Background(), audit.Entry{Action: "account.delete"})
	recorder.Close()

	assert.Empty(t, sink.all())
	assert.Zero(t, recorder.Dropped())
}

/*
TestRecorder_Close_Idempotent tests that Close can be called repeatedly.
*/
func TestRecorder_Close_Idempotent(t *testing.T) {
	recorder := audit.NewRecorder(&memorySink{}, slog.Default(), true)

	recorder.Close()
	assert.NotPanics(t, func() { recorder.Close() })
}
