package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pss-service/models"
)

type fakeStore struct {
	mu     sync.Mutex
	events []*models.DomainEvent
	nextID int64
	fail   bool
}

func (s *fakeStore) WriteEvent(ev *models.DomainEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errors.New("database unavailable")
	}
	s.nextID++
	copied := *ev
	s.events = append(s.events, &copied)
	return s.nextID, nil
}

func (s *fakeStore) all() []*models.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.DomainEvent, len(s.events))
	copy(out, s.events)
	return out
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []*models.DomainEvent
}

func (b *fakeBroadcaster) Broadcast(ev *models.DomainEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func newTestPipeline(store EventWriter, spool *OverflowSpool, broadcaster EventBroadcaster, sessions *SessionManager, base time.Time) *Pipeline {
	correlator := NewTimestampCorrelator(sessions)
	correlator.now = func() time.Time { return base.Add(time.Hour) }

	return NewPipeline(PipelineOptions{
		Classifier:   newTestClassifier(nil),
		Hits:         NewHitCorrelator(),
		Overrides:    NewOverrideDetector(nil),
		Correlator:   correlator,
		Store:        store,
		Spool:        spool,
		Broadcaster:  broadcaster,
		QueueSize:    64,
		RetryCeiling: 1,
		BaseBackoff:  time.Millisecond,
	})
}

func drain(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Failed to drain pipeline: %v", err)
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	base := time.Now()
	store := &fakeStore{}
	broadcaster := &fakeBroadcaster{}

	sessions := NewSessionManager("D1", nil, nil)
	sessions.HandleStarted("obs-1", models.SessionRecording, base.Add(-10*time.Second))

	p := newTestPipeline(store, nil, broadcaster, sessions, base)
	p.Start()

	p.Ingest([]byte("rdy;M-101"), "udp", base)
	p.Ingest([]byte("clk;02:00;start"), "udp", base.Add(time.Second))
	p.Ingest([]byte("hl1;75"), "udp", base.Add(2*time.Second))
	p.Ingest([]byte("pt1;2"), "udp", base.Add(3*time.Second))
	drain(t, p)

	events := store.all()
	if len(events) != 4 {
		t.Fatalf("Expected 4 persisted events, got %d", len(events))
	}

	for i, ev := range events {
		if ev.SequenceNumber != uint64(i+1) {
			t.Errorf("Event %d: expected sequence %d, got %d", i, i+1, ev.SequenceNumber)
		}
	}

	score := events[3]
	if score.Kind != models.EventScore {
		t.Fatalf("Expected score event, got %s", score.Kind)
	}
	if score.RecognitionStatus != models.StatusRecognized {
		t.Errorf("Expected recognized, got %s (%v)", score.RecognitionStatus, score.ValidationErrors)
	}
	if score.Override != nil {
		t.Errorf("Paced scoring must not flag, got %v", score.Override)
	}
	if len(score.RecentHits) != 1 || score.RecentHits[0].Intensity != 75 {
		t.Errorf("Expected one hit sample of 75, got %v", score.RecentHits)
	}
	if score.Replay.RecSeconds == nil {
		t.Fatal("Expected recording timestamp")
	}
	// 会话从 -10s 开始，事件在 +3s
	if *score.Replay.RecSeconds < 12.9 || *score.Replay.RecSeconds > 13.1 {
		t.Errorf("Expected rec_seconds ~13, got %f", *score.Replay.RecSeconds)
	}

	if broadcaster.count() != 4 {
		t.Errorf("Expected 4 broadcast events, got %d", broadcaster.count())
	}
}

func TestPipelineFlagsCorrectionOverride(t *testing.T) {
	base := time.Now()
	store := &fakeStore{}

	p := newTestPipeline(store, nil, nil, NewSessionManager("D1", nil, nil), base)
	p.Start()

	p.Ingest([]byte("clk;02:00;start"), "udp", base)
	p.Ingest([]byte("clk;01:58;corr"), "udp", base.Add(10*time.Second))
	p.Ingest([]byte("pt1;5"), "udp", base.Add(12*time.Second))
	drain(t, p)

	events := store.all()
	if len(events) != 3 {
		t.Fatalf("Expected 3 persisted events, got %d", len(events))
	}

	corr := events[1]
	if corr.Override == nil || corr.Override.Kind != models.OverrideTime {
		t.Errorf("Clock correction must flag time override, got %v", corr.Override)
	}

	score := events[2]
	if score.Override == nil || score.Override.Kind != models.OverrideScore {
		t.Errorf("Score inside correction window must flag, got %v", score.Override)
	}
}

func TestPipelineDropsMalformedFrames(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(store, nil, nil, NewSessionManager("D1", nil, nil), time.Now())
	p.Start()

	p.Ingest([]byte("clk;02:00"), "udp", time.Now())
	p.Ingest([]byte{0xff, 0xfe}, "udp", time.Now())
	drain(t, p)

	if got := len(store.all()); got != 0 {
		t.Errorf("Malformed frames must be dropped, got %d events", got)
	}
}

func TestPipelineResetsHitBufferOnMatchLoad(t *testing.T) {
	base := time.Now()
	store := &fakeStore{}
	p := newTestPipeline(store, nil, nil, NewSessionManager("D1", nil, nil), base)
	p.Start()

	p.Ingest([]byte("clk;02:00;start"), "udp", base)
	p.Ingest([]byte("hl1;90"), "udp", base.Add(time.Second))
	p.Ingest([]byte("rdy;M-102"), "udp", base.Add(2*time.Second))
	p.Ingest([]byte("clk;02:00;start"), "udp", base.Add(3*time.Second))
	p.Ingest([]byte("pt1;1"), "udp", base.Add(4*time.Second))
	drain(t, p)

	events := store.all()
	score := events[len(events)-1]
	if score.Kind != models.EventScore {
		t.Fatalf("Expected score event, got %s", score.Kind)
	}
	if len(score.RecentHits) != 0 {
		t.Errorf("Hit samples must not survive a match load, got %v", score.RecentHits)
	}
}

func TestPipelineSpillsToOverflowAndReplays(t *testing.T) {
	base := time.Now()
	spoolPath := filepath.Join(t.TempDir(), "overflow.jsonl")
	spool := NewOverflowSpool(spoolPath)

	failing := &fakeStore{fail: true}
	p := newTestPipeline(failing, spool, nil, NewSessionManager("D1", nil, nil), base)
	p.Start()

	p.Ingest([]byte("clk;02:00;start"), "udp", base)
	p.Ingest([]byte("pt1;1"), "udp", base.Add(10*time.Second))
	drain(t, p)

	if got := spool.Pending(); got != 2 {
		t.Fatalf("Expected 2 spooled events, got %d", got)
	}

	// 存储恢复后回放溢出文件
	store := &fakeStore{}
	p2 := newTestPipeline(store, spool, nil, NewSessionManager("D1", nil, nil), base)
	p2.ReplaySpool()

	events := store.all()
	if len(events) != 2 {
		t.Fatalf("Expected 2 replayed events, got %d", len(events))
	}
	if spool.Pending() != 0 {
		t.Errorf("Spool must be empty after replay, got %d", spool.Pending())
	}
	if events[1].Kind != models.EventScore {
		t.Errorf("Replayed event kinds must survive the round trip, got %s", events[1].Kind)
	}
}

type blockingShapeRecorder struct {
	release  chan struct{}
	recorded chan string
}

func (r *blockingShapeRecorder) RecordUnknownShape(shapeHash int64, opcode string, fieldCount int, samplePayload string) error {
	<-r.release
	r.recorded <- opcode
	return nil
}

func TestPipelineIngestNotBlockedByShapeRecording(t *testing.T) {
	base := time.Now()
	store := &fakeStore{}
	recorder := &blockingShapeRecorder{
		release:  make(chan struct{}),
		recorded: make(chan string, 1),
	}

	correlator := NewTimestampCorrelator(NewSessionManager("D1", nil, nil))
	correlator.now = func() time.Time { return base.Add(time.Hour) }
	p := NewPipeline(PipelineOptions{
		Classifier:   newTestClassifier(recorder),
		Hits:         NewHitCorrelator(),
		Overrides:    NewOverrideDetector(nil),
		Correlator:   correlator,
		Store:        store,
		QueueSize:    8,
		RetryCeiling: 1,
		BaseBackoff:  time.Millisecond,
	})
	p.Start()

	// 形状落库被卡住时，未知帧和后续帧的接入都必须立即返回
	p.Ingest([]byte("zzz;a;b"), "udp", base)
	p.Ingest([]byte("clk;02:00;start"), "mqtt", base.Add(100*time.Millisecond))

	close(recorder.release)
	select {
	case op := <-recorder.recorded:
		if op != "zzz" {
			t.Errorf("Expected shape recorded for zzz, got %q", op)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Unknown shape was never recorded downstream")
	}
	drain(t, p)

	if got := len(store.all()); got != 2 {
		t.Fatalf("Expected 2 persisted events, got %d", got)
	}
}

func TestPipelineQueueDropsOldestWhenFull(t *testing.T) {
	base := time.Now()
	store := &fakeStore{}

	correlator := NewTimestampCorrelator(NewSessionManager("D1", nil, nil))
	correlator.now = func() time.Time { return base.Add(time.Hour) }
	p := NewPipeline(PipelineOptions{
		Classifier:   newTestClassifier(nil),
		Hits:         NewHitCorrelator(),
		Overrides:    NewOverrideDetector(nil),
		Correlator:   correlator,
		Store:        store,
		QueueSize:    2,
		RetryCeiling: 1,
		BaseBackoff:  time.Millisecond,
	})

	// 工作协程尚未启动，队列封顶2：超出部分逐出最旧的
	frames := []string{"hl1;10", "hl1;20", "hl1;30", "hl1;40", "hl1;50"}
	for i, f := range frames {
		p.Ingest([]byte(f), "udp", base.Add(time.Duration(i)*time.Millisecond))
	}

	p.Start()
	drain(t, p)

	events := store.all()
	if len(events) != 2 {
		t.Fatalf("Expected 2 surviving events, got %d", len(events))
	}
	if events[0].RawPayload != "hl1;40" || events[1].RawPayload != "hl1;50" {
		t.Errorf("Newest frames must survive, got %q %q", events[0].RawPayload, events[1].RawPayload)
	}
	// 被逐出的帧仍占用序号
	if events[0].SequenceNumber != 4 || events[1].SequenceNumber != 5 {
		t.Errorf("Sequence must keep counting dropped frames, got %d %d",
			events[0].SequenceNumber, events[1].SequenceNumber)
	}
}
