package services

import (
	"sync"
	"testing"
	"time"

	"pss-service/models"
	"pss-service/pss"
)

type fakeShapeRecorder struct {
	mu      sync.Mutex
	opcodes []string
	hashes  []int64
}

func (f *fakeShapeRecorder) RecordUnknownShape(shapeHash int64, opcode string, fieldCount int, samplePayload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opcodes = append(f.opcodes, opcode)
	f.hashes = append(f.hashes, shapeHash)
	return nil
}

func newTestClassifier(shapes UnknownShapeRecorder) *Classifier {
	return NewClassifier("1.0", NewRuleSet(DefaultRules()), shapes, "T1", "D1", "stream-1")
}

func classify(t *testing.T, c *Classifier, frame string, at time.Time, seq uint64) *models.DomainEvent {
	t.Helper()
	msg, err := pss.Decode([]byte(frame), at)
	if err != nil {
		t.Fatalf("Failed to decode %q: %v", frame, err)
	}
	return c.Classify(msg, seq)
}

func TestClassifyClockEvent(t *testing.T) {
	c := newTestClassifier(nil)
	at := time.Now()
	ev := classify(t, c, "clk;02:00;start", at, 7)

	if ev.Kind != models.EventClock {
		t.Errorf("Expected kind clock, got %s", ev.Kind)
	}
	if ev.RecognitionStatus != models.StatusRecognized {
		t.Errorf("Expected recognized, got %s (%v)", ev.RecognitionStatus, ev.ValidationErrors)
	}
	if ev.Detail("time") != "02:00" || ev.Detail("action") != "start" {
		t.Errorf("Unexpected details: %v", ev.Details)
	}
	if ev.SequenceNumber != 7 {
		t.Errorf("Expected sequence 7, got %d", ev.SequenceNumber)
	}
	if !ev.OccurredAt.Equal(at) {
		t.Errorf("Expected occurred_at %v, got %v", at, ev.OccurredAt)
	}
}

func TestClassifyScoreEvent(t *testing.T) {
	c := newTestClassifier(nil)
	ev := classify(t, c, "pt1;2", time.Now(), 1)

	if ev.Kind != models.EventScore {
		t.Errorf("Expected kind score, got %s", ev.Kind)
	}
	if athlete, _ := ev.DetailInt("athlete"); athlete != int(models.AthleteBlue) {
		t.Errorf("Expected blue athlete, got %d", athlete)
	}
	if score, _ := ev.DetailInt("score"); score != 2 {
		t.Errorf("Expected score 2, got %d", score)
	}

	ev = classify(t, c, "pt2;4", time.Now(), 2)
	if athlete, _ := ev.DetailInt("athlete"); athlete != int(models.AthleteRed) {
		t.Errorf("Expected red athlete, got %d", athlete)
	}
}

func TestClassifyRoundSetsRoundID(t *testing.T) {
	c := newTestClassifier(nil)
	ev := classify(t, c, "rnd;3", time.Now(), 1)

	if ev.Kind != models.EventRound {
		t.Errorf("Expected kind round, got %s", ev.Kind)
	}
	if ev.RoundID == nil || *ev.RoundID != 3 {
		t.Errorf("Expected round id 3, got %v", ev.RoundID)
	}
}

func TestClassifyReadySetsMatchID(t *testing.T) {
	c := newTestClassifier(nil)
	ev := classify(t, c, "rdy;M-204", time.Now(), 1)

	if ev.Kind != models.EventReady {
		t.Errorf("Expected kind ready, got %s", ev.Kind)
	}
	if ev.MatchID == nil || *ev.MatchID != "M-204" {
		t.Errorf("Expected match id M-204, got %v", ev.MatchID)
	}
}

func TestClassifyUnknownOpcode(t *testing.T) {
	shapes := &fakeShapeRecorder{}
	c := newTestClassifier(shapes)
	ev := classify(t, c, "zzz;a;b", time.Now(), 1)

	if ev.Kind != models.EventUnknown {
		t.Errorf("Expected kind unknown, got %s", ev.Kind)
	}
	if ev.RecognitionStatus != models.StatusUnknown {
		t.Errorf("Expected status unknown, got %s", ev.RecognitionStatus)
	}
	if ev.RawPayload != "zzz;a;b" {
		t.Errorf("Raw payload must survive: %q", ev.RawPayload)
	}
	if n, ok := ev.DetailInt("field_count"); !ok || n != 2 {
		t.Errorf("Expected field_count detail 2, got %d (%v)", n, ok)
	}

	// 分类本身不落库，形状收集由下游显式调用
	if len(shapes.opcodes) != 0 {
		t.Errorf("Classification must not record shapes, got %v", shapes.opcodes)
	}
	c.RecordShape(ev)
	if len(shapes.opcodes) != 1 || shapes.opcodes[0] != "zzz" {
		t.Errorf("Expected shape recorded for zzz, got %v", shapes.opcodes)
	}
	if len(shapes.hashes) != 1 || shapes.hashes[0] != ShapeHash("zzz", 2) {
		t.Errorf("Expected shape hash for zzz/2, got %v", shapes.hashes)
	}

	// 已识别事件不产生形状记录
	c.RecordShape(classify(t, c, "pt1;2", time.Now(), 2))
	if len(shapes.opcodes) != 1 {
		t.Errorf("Recognized events must not record shapes, got %v", shapes.opcodes)
	}
}

func TestClassifyValidationFailureIsPartial(t *testing.T) {
	c := newTestClassifier(nil)

	// 超出强度范围
	ev := classify(t, c, "hl1;250", time.Now(), 1)
	if ev.RecognitionStatus != models.StatusPartial {
		t.Errorf("Expected partial, got %s", ev.RecognitionStatus)
	}
	if len(ev.ValidationErrors) == 0 {
		t.Error("Expected validation errors")
	}

	// 非整数比分
	ev = classify(t, c, "pt1;abc", time.Now(), 2)
	if ev.RecognitionStatus != models.StatusPartial {
		t.Errorf("Expected partial, got %s", ev.RecognitionStatus)
	}
	if ev.Detail("score") != "abc" {
		t.Errorf("Raw value must be preserved in details, got %q", ev.Detail("score"))
	}
}

func TestClassifyNeverDrops(t *testing.T) {
	c := newTestClassifier(nil)
	frames := []string{"clk;99:99;weird", "wng;-1;200", "brk;1;xx:yy;middle"}
	for i, frame := range frames {
		ev := classify(t, c, frame, time.Now(), uint64(i+1))
		if ev == nil {
			t.Fatalf("Classify must never return nil for %q", frame)
		}
		if ev.RecognitionStatus != models.StatusPartial {
			t.Errorf("Frame %q: expected partial, got %s", frame, ev.RecognitionStatus)
		}
	}
}

func TestShapeHashStable(t *testing.T) {
	a := ShapeHash("zzz", 3)
	b := ShapeHash("zzz", 3)
	if a != b {
		t.Error("Same shape must hash identically")
	}
	if ShapeHash("zzz", 4) == a {
		t.Error("Different field count must change the hash")
	}
	if ShapeHash("yyy", 3) == a {
		t.Error("Different opcode must change the hash")
	}
}

func TestDescribe(t *testing.T) {
	c := newTestClassifier(nil)
	ev := classify(t, c, "pt1;2", time.Now(), 1)

	desc := Describe(ev)
	if desc != "blue score 2" {
		t.Errorf("Unexpected description: %q", desc)
	}

	ev = classify(t, c, "win;2;PTF", time.Now(), 2)
	if desc := Describe(ev); desc != "red wins by PTF" {
		t.Errorf("Unexpected description: %q", desc)
	}
}
