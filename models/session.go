package models

import "time"

// SessionType 录制会话类型
type SessionType string

const (
	SessionRecording    SessionType = "recording"
	SessionStreaming    SessionType = "streaming"
	SessionReplayBuffer SessionType = "replay_buffer"
)

// 中断原因
const (
	InterruptionManual      = "manual"
	InterruptionCrash       = "crash"
	InterruptionUnspecified = "unspecified"
)

// RecordingSession 录制/推流会话
// 不变量: 同一 (tournament_day_id, session_type) 同时最多一个 IsActive=true
type RecordingSession struct {
	ID                  int64       `json:"id,omitempty"`
	BackendConnectionID string      `json:"backend_connection_id"`
	SessionType         SessionType `json:"session_type"`
	TournamentDayID     string      `json:"tournament_day_id"`
	SessionNumber       int         `json:"session_number"`
	StartTime           time.Time   `json:"start_time"`
	EndTime             *time.Time  `json:"end_time,omitempty"`
	IsActive            bool        `json:"is_active"`
	CumulativeOffsetSec int64       `json:"cumulative_offset_seconds"`
	InterruptionReason  *string     `json:"interruption_reason,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
}

// Contains 判断时间点是否落在会话时间窗内（进行中的会话上界为当前时间）
func (s *RecordingSession) Contains(t, now time.Time) bool {
	if t.Before(s.StartTime) {
		return false
	}
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	return !t.After(end)
}
