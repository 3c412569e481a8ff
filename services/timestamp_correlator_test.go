package services

import (
	"math"
	"testing"
	"time"

	"pss-service/models"
)

func scoreEventAt(at time.Time) *models.DomainEvent {
	return &models.DomainEvent{
		Kind:            models.EventScore,
		OccurredAt:      at,
		TournamentDayID: "day-1",
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.001
}

func TestCorrelateActiveRecordingSession(t *testing.T) {
	m := NewSessionManager("day-1", nil, nil)
	base := time.Now()
	m.HandleStarted("obs-1", models.SessionRecording, base)

	c := NewTimestampCorrelator(m)
	c.now = func() time.Time { return base.Add(time.Hour) }

	ts := c.Correlate(scoreEventAt(base.Add(90 * time.Second)))
	if ts.RecSeconds == nil {
		t.Fatal("Expected recording timestamp")
	}
	if !almostEqual(*ts.RecSeconds, 90) {
		t.Errorf("Expected rec_seconds 90, got %f", *ts.RecSeconds)
	}
	if ts.StrSeconds != nil {
		t.Errorf("No streaming session, str_seconds must be absent, got %f", *ts.StrSeconds)
	}
}

func TestCorrelateAcrossInterruption(t *testing.T) {
	m := NewSessionManager("day-1", nil, nil)
	base := time.Now()

	// 会话1: 0s..100s，中断30s，会话2从130s起，偏移30
	m.HandleStarted("obs-1", models.SessionRecording, base)
	m.HandleStopped("obs-1", models.SessionRecording, base.Add(100*time.Second), models.InterruptionCrash)
	m.HandleStarted("obs-1", models.SessionRecording, base.Add(130*time.Second))

	c := NewTimestampCorrelator(m)
	c.now = func() time.Time { return base.Add(time.Hour) }

	ts := c.Correlate(scoreEventAt(base.Add(190 * time.Second)))
	if ts.RecSeconds == nil {
		t.Fatal("Expected recording timestamp")
	}
	// 会话内60秒 + 累计偏移30秒
	if !almostEqual(*ts.RecSeconds, 90) {
		t.Errorf("Expected rec_seconds 90, got %f", *ts.RecSeconds)
	}
}

func TestCorrelateNoSession(t *testing.T) {
	m := NewSessionManager("day-1", nil, nil)
	c := NewTimestampCorrelator(m)

	ts := c.Correlate(scoreEventAt(time.Now()))
	if ts.RecSeconds != nil || ts.StrSeconds != nil {
		t.Errorf("No sessions: both timestamps must be absent, got %v", ts)
	}
}

func TestCorrelateEventBeforeSessionStart(t *testing.T) {
	m := NewSessionManager("day-1", nil, nil)
	base := time.Now()
	m.HandleStarted("obs-1", models.SessionRecording, base)

	c := NewTimestampCorrelator(m)
	c.now = func() time.Time { return base.Add(time.Hour) }

	ts := c.Correlate(scoreEventAt(base.Add(-10 * time.Second)))
	if ts.RecSeconds != nil {
		t.Errorf("Event before session start must not correlate, got %f", *ts.RecSeconds)
	}
}

func TestCorrelateClosedSessionNotUsed(t *testing.T) {
	m := NewSessionManager("day-1", nil, nil)
	base := time.Now()
	m.HandleStarted("obs-1", models.SessionRecording, base)
	m.HandleStopped("obs-1", models.SessionRecording, base.Add(100*time.Second), models.InterruptionManual)

	c := NewTimestampCorrelator(m)
	c.now = func() time.Time { return base.Add(time.Hour) }

	ts := c.Correlate(scoreEventAt(base.Add(50 * time.Second)))
	if ts.RecSeconds != nil {
		t.Errorf("Closed sessions must not correlate, got %f", *ts.RecSeconds)
	}
}

func TestCorrelateBothSessionTypes(t *testing.T) {
	m := NewSessionManager("day-1", nil, nil)
	base := time.Now()
	m.HandleStarted("obs-1", models.SessionRecording, base)
	m.HandleStarted("obs-1", models.SessionStreaming, base.Add(20*time.Second))

	c := NewTimestampCorrelator(m)
	c.now = func() time.Time { return base.Add(time.Hour) }

	ts := c.Correlate(scoreEventAt(base.Add(80 * time.Second)))
	if ts.RecSeconds == nil || !almostEqual(*ts.RecSeconds, 80) {
		t.Errorf("Expected rec_seconds 80, got %v", ts.RecSeconds)
	}
	if ts.StrSeconds == nil || !almostEqual(*ts.StrSeconds, 60) {
		t.Errorf("Expected str_seconds 60, got %v", ts.StrSeconds)
	}
}

func TestCorrelateTieBreakHighestNumber(t *testing.T) {
	m := NewSessionManager("day-1", nil, nil)
	base := time.Now()

	// 构造两个重叠的活动会话（持久化层恢复后可能出现）
	dt := dayType{day: "day-1", typ: models.SessionRecording}
	m.history[dt] = []*models.RecordingSession{
		{
			SessionType:         models.SessionRecording,
			TournamentDayID:     "day-1",
			SessionNumber:       1,
			StartTime:           base,
			IsActive:            true,
			CreatedAt:           base,
		},
		{
			SessionType:         models.SessionRecording,
			TournamentDayID:     "day-1",
			SessionNumber:       2,
			StartTime:           base.Add(40 * time.Second),
			IsActive:            true,
			CumulativeOffsetSec: 10,
			CreatedAt:           base.Add(40 * time.Second),
		},
	}

	c := NewTimestampCorrelator(m)
	c.now = func() time.Time { return base.Add(time.Hour) }

	ts := c.Correlate(scoreEventAt(base.Add(100 * time.Second)))
	if ts.RecSeconds == nil {
		t.Fatal("Expected recording timestamp")
	}
	// 编号更大的会话胜出: 60秒 + 偏移10
	if !almostEqual(*ts.RecSeconds, 70) {
		t.Errorf("Expected rec_seconds 70 from session 2, got %f", *ts.RecSeconds)
	}
}
