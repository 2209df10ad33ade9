package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rabbitmq/amqp091-go"

	"github.com/shiran1989/magshimim-cyber-homework/internal/timing"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/attack"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/leaselock"
)

type published struct {
	key string
	msg amqp091.Publishing
}

type fakeChannel struct {
	published []published
	declared  map[string]amqp091.Table
	err       error
}

func (f *fakeChannel) Publish(_, key string, _, _ bool, msg amqp091.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{key: key, msg: msg})
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp091.Table) (amqp091.Queue, error) {
	if f.declared == nil {
		f.declared = map[string]amqp091.Table{}
	}
	f.declared[name] = args
	return amqp091.Queue{Name: name}, nil
}

type fakeAck struct {
	acked, nacked, requeued bool
}

func (a *fakeAck) Ack(uint64, bool) error { a.acked = true; return nil }
func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked = true
	a.requeued = requeue
	return nil
}
func (a *fakeAck) Reject(uint64, bool) error { return nil }

func TestSetupQueues(t *testing.T) {
	ch := &fakeChannel{}
	if err := SetupQueues(ch, []string{IngestQueue}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []string{"ingest_queue", "ingest_queue_retry", "ingest_queue_dlq"} {
		if _, ok := ch.declared[name]; !ok {
			t.Fatalf("expected %s to be declared", name)
		}
	}
	retry := ch.declared["ingest_queue_retry"]
	if retry["x-dead-letter-routing-key"] != IngestQueue || retry["x-message-ttl"] != int32(10000) {
		t.Fatalf("unexpected retry args %v", retry)
	}
}

func TestHandleProcessingError(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp091.Table
		target  string
		retries any
	}{
		{"first failure", nil, "ingest_queue_retry", int32(1)},
		{"int64 header", amqp091.Table{retriesHeader: int64(4)}, "ingest_queue_retry", int32(5)},
		{"exhausted", amqp091.Table{retriesHeader: int32(MaxRetries)}, "ingest_queue_dlq", int32(MaxRetries)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{}
			ack := &fakeAck{}
			HandleProcessingError(ch, amqp091.Delivery{Acknowledger: ack, Headers: tt.headers, Body: []byte("{}")}, IngestQueue)

			if len(ch.published) != 1 || ch.published[0].key != tt.target {
				t.Fatalf("expected publish to %s, got %+v", tt.target, ch.published)
			}
			if got := ch.published[0].msg.Headers[retriesHeader]; got != tt.retries {
				t.Fatalf("expected retries %v, got %v (%T)", tt.retries, got, got)
			}
			if !ack.acked {
				t.Fatal("expected original to be acked")
			}
		})
	}
}

func TestHandleProcessingErrorRequeuesOnPublishFailure(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	ack := &fakeAck{}
	HandleProcessingError(ch, amqp091.Delivery{Acknowledger: ack}, IngestQueue)

	if ack.acked || !ack.nacked || !ack.requeued {
		t.Fatalf("expected nack with requeue, got %+v", ack)
	}
}

func TestPublishIngest(t *testing.T) {
	ch := &fakeChannel{}
	msg, err := NewIngestMsg("", "", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := PublishIngest(ch, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ch.published[0].key != IngestQueue {
		t.Fatalf("unexpected queue %s", ch.published[0].key)
	}
	var got IngestMsg
	if err := json.Unmarshal(ch.published[0].msg.Body, &got); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if got.Source != SourceGitHub || got.CorrelationID == "" || got.RequestedBy != "user-1" {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestIngestMsgValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  IngestMsg
		ok   bool
	}{
		{"github", IngestMsg{CorrelationID: "c", Source: SourceGitHub}, true},
		{"file with path", IngestMsg{CorrelationID: "c", Source: SourceFile, Path: "/tmp/x.json"}, true},
		{"file without path", IngestMsg{CorrelationID: "c", Source: SourceFile}, false},
		{"unknown source", IngestMsg{CorrelationID: "c", Source: "ftp"}, false},
		{"no correlation id", IngestMsg{Source: SourceGitHub}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.msg.Validate(); (err == nil) != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, err)
			}
		})
	}
}

type fakeLeaser struct {
	busy bool
}

func (l fakeLeaser) WithLease(ctx context.Context, _ string, _ leaselock.Options, fn func(ctx context.Context) error) error {
	if l.busy {
		return leaselock.ErrBusy
	}
	return fn(ctx)
}

type fakeRuns struct {
	started  []string
	outcomes []timing.Outcome
}

func (r *fakeRuns) StartRun(_ context.Context, correlationID, _ string) (int64, error) {
	r.started = append(r.started, correlationID)
	return int64(len(r.started)), nil
}

func (r *fakeRuns) FinishRun(_ context.Context, _ int64, o timing.Outcome) error {
	r.outcomes = append(r.outcomes, o)
	return nil
}

type fakeArchive struct {
	keys []string
}

func (a *fakeArchive) PutBundle(_ context.Context, correlationID string, _ []byte) (string, error) {
	key := "bundles/" + correlationID + ".json"
	a.keys = append(a.keys, key)
	return key, nil
}

type fakeStore struct {
	patterns []attack.AttackPattern
}

func (s *fakeStore) ReplacePatterns(_ context.Context, patterns []attack.AttackPattern) (int, error) {
	s.patterns = patterns
	return len(patterns), nil
}

func writeBundle(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.json")
	bundle := fmt.Sprintf(`{"type":"bundle","objects":[{"type":"attack-pattern","id":"attack-pattern--1","name":"Scheduled Task",
		"kill_chain_phases":[{"phase_name":"persistence"}],
		"external_references":[{"source_name":"mitre-attack","external_id":"%s"}]}]}`, "T1053")
	if err := os.WriteFile(path, []byte(bundle), 0o600); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	return path
}

func TestProcessIngestMessage(t *testing.T) {
	runs := &fakeRuns{}
	archive := &fakeArchive{}
	store := &fakeStore{}
	p := &IngestProcessor{Store: store, Locks: fakeLeaser{}, Runs: runs, Archive: archive}

	body, _ := json.Marshal(IngestMsg{CorrelationID: "corr-1", Source: SourceFile, Path: writeBundle(t)})
	if err := p.ProcessIngestMessage(context.Background(), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.patterns) != 1 || store.patterns[0].ID != "T1053" {
		t.Fatalf("unexpected stored patterns %+v", store.patterns)
	}
	if len(runs.outcomes) != 1 || runs.outcomes[0].PatternsStored != 1 || runs.outcomes[0].Err != nil {
		t.Fatalf("unexpected outcome %+v", runs.outcomes)
	}
	if runs.outcomes[0].ArchiveKey != "bundles/corr-1.json" {
		t.Fatalf("bundle not archived: %+v", runs.outcomes[0])
	}
}

func TestProcessIngestMessageRecordsFailure(t *testing.T) {
	runs := &fakeRuns{}
	p := &IngestProcessor{Store: &fakeStore{}, Locks: fakeLeaser{}, Runs: runs}

	body, _ := json.Marshal(IngestMsg{CorrelationID: "corr-2", Source: SourceFile, Path: "/does/not/exist.json"})
	if err := p.ProcessIngestMessage(context.Background(), body); err == nil {
		t.Fatal("expected error for missing bundle")
	}
	if len(runs.outcomes) != 1 || runs.outcomes[0].Err == nil {
		t.Fatalf("expected failed outcome, got %+v", runs.outcomes)
	}
}

func TestProcessIngestMessageDropsWhenBusy(t *testing.T) {
	runs := &fakeRuns{}
	p := &IngestProcessor{Store: &fakeStore{}, Locks: fakeLeaser{busy: true}, Runs: runs}

	body, _ := json.Marshal(IngestMsg{CorrelationID: "corr-3", Source: SourceGitHub})
	if err := p.ProcessIngestMessage(context.Background(), body); err != nil {
		t.Fatalf("busy lease should drop the request, got %v", err)
	}
	if len(runs.started) != 0 {
		t.Fatal("no run should be recorded")
	}
}

func TestProcessIngestMessageRejectsInvalidBody(t *testing.T) {
	p := &IngestProcessor{Store: &fakeStore{}, Locks: fakeLeaser{}, Runs: &fakeRuns{}}
	if err := p.ProcessIngestMessage(context.Background(), []byte("not json")); err == nil {
		t.Fatal("expected error")
	}
}
