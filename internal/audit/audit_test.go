package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-ops/internal/domain"
)

func sampleRecord(id string) *domain.ExecutionRecord {
	msg := "group not found"
	return &domain.ExecutionRecord{
		ID:           id,
		TaskID:       "task-1",
		TicketID:     "ticket-1",
		ApprovalID:   "approval-1",
		OperatorID:   "carol",
		Action:       "group_add",
		Method:       domain.ExecutionMethodExternalAPI,
		Request:      json.RawMessage(`{"group_id":"g1"}`),
		Outcome:      domain.ExecutionOutcomeFailure,
		Result:       json.RawMessage(`{"kind":"api","status_code":404}`),
		ErrorMessage: &msg,
		ExecutedAt:   time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC),
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestFileSinkAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)
	defer sink.Close()

	at := time.Date(2026, 4, 2, 8, 0, 1, 0, time.UTC)
	require.NoError(t, sink.Append(context.Background(), ExecutionEntry(sampleRecord("r1"), false, errors.New("connection reset"), at)))
	require.NoError(t, sink.Append(context.Background(), LifecycleEntry(domain.LifecycleEntry{ID: "h1", TicketID: "ticket-1", Action: domain.ActionExecuted}, true, at)))

	lines := readLines(t, path)
	require.Len(t, lines, 2)

	var first Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "r1", first.ID)
	assert.Equal(t, FamilyExecution, first.Family)
	assert.False(t, first.Committed)
	assert.Equal(t, "connection reset", first.Error)
	require.NotNil(t, first.Record)
	assert.Equal(t, domain.ExecutionOutcomeFailure, first.Record.Outcome)

	var second Entry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, FamilyLifecycle, second.Family)
}

func TestFileSinkReopensWithoutTruncating(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(context.Background(), ExecutionEntry(sampleRecord("r1"), true, nil, time.Now())))
	require.NoError(t, sink.Close())

	sink, err = NewFileSink(path)
	require.NoError(t, err)
	defer sink.Close()
	require.NoError(t, sink.Append(context.Background(), ExecutionEntry(sampleRecord("r2"), true, nil, time.Now())))

	assert.Len(t, readLines(t, path), 2)
}

func TestFileSinkRotatesIntoArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	tick := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	sink, err := NewFileSink(path, WithMaxSize(200), WithSinkClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}))
	require.NoError(t, err)
	defer sink.Close()

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, sink.Append(context.Background(), ExecutionEntry(sampleRecord(id), true, nil, time.Now())))
	}

	archived, err := os.ReadDir(filepath.Join(dir, "archive"))
	require.NoError(t, err)
	assert.Len(t, archived, 2)
	for _, a := range archived {
		assert.True(t, strings.HasPrefix(a.Name(), "audit-"))
	}
	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"id":"r3"`)
}

func TestVerifyFileDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path, WithChecksums(true))
	require.NoError(t, err)
	require.NoError(t, sink.Append(context.Background(), ExecutionEntry(sampleRecord("r1"), true, nil, time.Now())))
	require.NoError(t, sink.Append(context.Background(), ExecutionEntry(sampleRecord("r2"), true, nil, time.Now())))
	require.NoError(t, sink.Close())

	bad, err := VerifyFile(path)
	require.NoError(t, err)
	assert.Empty(t, bad)

	lines := readLines(t, path)
	var decoded Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded), "checksummed lines stay valid JSON")

	lines[1] = strings.Replace(lines[1], `"outcome":"failure"`, `"outcome":"success"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))

	bad, err = VerifyFile(path)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, bad)
}

type failingSink struct{ err error }

func (f failingSink) Append(context.Context, Entry) error { return f.err }

type memorySink struct{ entries []Entry }

func (m *memorySink) Append(_ context.Context, e Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func TestWriterContinuesPastFailingSink(t *testing.T) {
	mem := &memorySink{}
	w := NewWriter(nil, nil,
		NamedSink{Name: "broken", Sink: failingSink{err: errors.New("disk full")}},
		NamedSink{Name: "memory", Sink: mem},
	)

	err := w.Append(context.Background(), ExecutionEntry(sampleRecord("r1"), true, nil, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: disk full")
	assert.Len(t, mem.entries, 1)
}
