package services

import (
	"testing"
	"time"

	"pss-service/models"
)

type chanWriter struct {
	transitions chan models.RecordingSession
}

func (w *chanWriter) WriteSessionTransition(s *models.RecordingSession) error {
	w.transitions <- *s
	return nil
}

func TestSessionNumbering(t *testing.T) {
	m := NewSessionManager("day-1", nil, nil)
	base := time.Now()

	s1 := m.HandleStarted("obs-1", models.SessionRecording, base)
	if s1.SessionNumber != 1 {
		t.Errorf("Expected session number 1, got %d", s1.SessionNumber)
	}
	m.HandleStopped("obs-1", models.SessionRecording, base.Add(100*time.Second), models.InterruptionManual)

	s2 := m.HandleStarted("obs-1", models.SessionRecording, base.Add(130*time.Second))
	if s2.SessionNumber != 2 {
		t.Errorf("Expected session number 2, got %d", s2.SessionNumber)
	}

	// 编号按 (day, type) 独立
	str := m.HandleStarted("obs-1", models.SessionStreaming, base.Add(140*time.Second))
	if str.SessionNumber != 1 {
		t.Errorf("Streaming numbering must be independent, got %d", str.SessionNumber)
	}
}

func TestCumulativeOffset(t *testing.T) {
	m := NewSessionManager("day-1", nil, nil)
	base := time.Now()

	s1 := m.HandleStarted("obs-1", models.SessionRecording, base)
	if s1.CumulativeOffsetSec != 0 {
		t.Errorf("First session offset must be 0, got %d", s1.CumulativeOffsetSec)
	}
	m.HandleStopped("obs-1", models.SessionRecording, base.Add(100*time.Second), models.InterruptionManual)

	// 30秒间隔进入偏移
	s2 := m.HandleStarted("obs-1", models.SessionRecording, base.Add(130*time.Second))
	if s2.CumulativeOffsetSec != 30 {
		t.Errorf("Expected offset 30, got %d", s2.CumulativeOffsetSec)
	}
	m.HandleStopped("obs-1", models.SessionRecording, base.Add(200*time.Second), models.InterruptionManual)

	// 无间隔，偏移继承
	s3 := m.HandleStarted("obs-1", models.SessionRecording, base.Add(200*time.Second))
	if s3.CumulativeOffsetSec != 30 {
		t.Errorf("Expected inherited offset 30, got %d", s3.CumulativeOffsetSec)
	}
}

func TestNegativeGapClampedToZero(t *testing.T) {
	m := NewSessionManager("day-1", nil, nil)
	base := time.Now()

	m.HandleStarted("obs-1", models.SessionRecording, base)
	m.HandleStopped("obs-1", models.SessionRecording, base.Add(100*time.Second), models.InterruptionManual)

	// 时钟偏斜：新会话开始早于上个会话结束
	s2 := m.HandleStarted("obs-1", models.SessionRecording, base.Add(90*time.Second))
	if s2.CumulativeOffsetSec != 0 {
		t.Errorf("Negative gap must clamp to 0, got %d", s2.CumulativeOffsetSec)
	}
}

func TestSingleActiveInvariant(t *testing.T) {
	m := NewSessionManager("day-1", nil, nil)
	base := time.Now()

	m.HandleStarted("obs-1", models.SessionRecording, base)
	s2 := m.HandleStarted("obs-2", models.SessionRecording, base.Add(10*time.Second))

	active := m.ActiveSession("day-1", models.SessionRecording)
	if active == nil || active.SessionNumber != s2.SessionNumber || active.BackendConnectionID != "obs-2" {
		t.Fatal("Only the latest session may stay active")
	}

	sessions := m.SessionsFor("day-1", models.SessionRecording)
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	first := sessions[0]
	if first.IsActive {
		t.Error("Stale session must be force-closed")
	}
	if first.InterruptionReason == nil || *first.InterruptionReason != models.InterruptionUnspecified {
		t.Errorf("Force-close must record unspecified reason, got %v", first.InterruptionReason)
	}
}

func TestDisconnectClosesAllSessionsAsCrash(t *testing.T) {
	m := NewSessionManager("day-1", nil, nil)
	base := time.Now()

	m.HandleStarted("obs-1", models.SessionRecording, base)
	m.HandleStarted("obs-1", models.SessionStreaming, base)

	m.HandleDisconnect("obs-1", base.Add(time.Minute))

	for _, typ := range []models.SessionType{models.SessionRecording, models.SessionStreaming} {
		if m.ActiveSession("day-1", typ) != nil {
			t.Errorf("No %s session may stay active after disconnect", typ)
		}
		s := m.SessionsFor("day-1", typ)[0]
		if s.InterruptionReason == nil || *s.InterruptionReason != models.InterruptionCrash {
			t.Errorf("Disconnect must record crash reason, got %v", s.InterruptionReason)
		}
	}
}

func TestStopWithoutActiveSessionIsNoop(t *testing.T) {
	m := NewSessionManager("day-1", nil, nil)
	if s := m.HandleStopped("obs-1", models.SessionRecording, time.Now(), models.InterruptionManual); s != nil {
		t.Errorf("Stop without active session must be a no-op, got %v", s)
	}
}

func TestEndTimeClampedToStart(t *testing.T) {
	m := NewSessionManager("day-1", nil, nil)
	base := time.Now()

	m.HandleStarted("obs-1", models.SessionRecording, base)
	s := m.HandleStopped("obs-1", models.SessionRecording, base.Add(-10*time.Second), models.InterruptionManual)

	if s.EndTime == nil || s.EndTime.Before(s.StartTime) {
		t.Errorf("End time must not precede start time: %v < %v", s.EndTime, s.StartTime)
	}
}

func TestSessionTransitionsPersisted(t *testing.T) {
	w := &chanWriter{transitions: make(chan models.RecordingSession, 4)}
	m := NewSessionManager("day-1", w, nil)
	base := time.Now()

	m.HandleStarted("obs-1", models.SessionRecording, base)
	m.HandleStopped("obs-1", models.SessionRecording, base.Add(time.Minute), models.InterruptionManual)

	for i := 0; i < 2; i++ {
		select {
		case s := <-w.transitions:
			if s.SessionNumber != 1 {
				t.Errorf("Unexpected session number %d", s.SessionNumber)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for session transition write")
		}
	}
}

func TestSessionTransitionsPersistInOrder(t *testing.T) {
	w := &chanWriter{transitions: make(chan models.RecordingSession, 4)}
	m := NewSessionManager("day-1", w, nil)
	base := time.Now()

	// 快速的 start→stop：落库顺序必须与状态机一致，
	// 否则关闭行会被旧的活动快照覆盖
	m.HandleStarted("obs-1", models.SessionRecording, base)
	m.HandleStopped("obs-1", models.SessionRecording, base.Add(50*time.Millisecond), models.InterruptionManual)
	m.Stop()

	first := <-w.transitions
	second := <-w.transitions
	if !first.IsActive || first.EndTime != nil {
		t.Errorf("Start transition must be written first: active=%v end=%v", first.IsActive, first.EndTime)
	}
	if second.IsActive || second.EndTime == nil {
		t.Errorf("Stop transition must be written last: active=%v end=%v", second.IsActive, second.EndTime)
	}
}

func TestSessionAccessorsReturnSnapshots(t *testing.T) {
	m := NewSessionManager("day-1", nil, nil)
	base := time.Now()

	m.HandleStarted("obs-1", models.SessionRecording, base)
	snap := m.ActiveSession("day-1", models.SessionRecording)
	list := m.SessionsFor("day-1", models.SessionRecording)

	m.HandleStopped("obs-1", models.SessionRecording, base.Add(time.Second), models.InterruptionManual)

	if snap == nil || !snap.IsActive || snap.EndTime != nil {
		t.Error("ActiveSession must return a snapshot untouched by later transitions")
	}
	if len(list) != 1 || !list[0].IsActive {
		t.Error("SessionsFor must return snapshots untouched by later transitions")
	}
}

func TestSessionGauge(t *testing.T) {
	var gauge int
	m := NewSessionManager("day-1", nil, func(delta int) { gauge += delta })
	base := time.Now()

	m.HandleStarted("obs-1", models.SessionRecording, base)
	if gauge != 1 {
		t.Errorf("Expected gauge 1 after start, got %d", gauge)
	}
	m.HandleStopped("obs-1", models.SessionRecording, base.Add(time.Minute), models.InterruptionManual)
	if gauge != 0 {
		t.Errorf("Expected gauge 0 after stop, got %d", gauge)
	}
}
