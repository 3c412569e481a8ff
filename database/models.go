package database

import (
	"time"
)

// PSSEvent 领域事件行
type PSSEvent struct {
	ID                int64      `db:"id"`
	Kind              string     `db:"kind"`
	SessionID         string     `db:"session_id"`
	MatchID           *string    `db:"match_id"`
	RoundID           *int       `db:"round_id"`
	SequenceNumber    int64      `db:"sequence_number"`
	OccurredAt        time.Time  `db:"occurred_at"`
	RawPayload        string     `db:"raw_payload"`
	RecognitionStatus string     `db:"recognition_status"`
	ValidationErrors  *string    `db:"validation_errors"`
	Details           *string    `db:"details"`
	OverrideKind      *string    `db:"override_kind"`
	OverrideEvidence  *string    `db:"override_evidence"`
	RecentHits        *string    `db:"recent_hits"`
	RecSeconds        *float64   `db:"rec_seconds"`
	StrSeconds        *float64   `db:"str_seconds"`
	TournamentID      string     `db:"tournament_id"`
	TournamentDayID   string     `db:"tournament_day_id"`
	CreatedAt         time.Time  `db:"created_at"`
}

// RecordingSessionRow 录制会话行
type RecordingSessionRow struct {
	ID                  int64      `db:"id"`
	BackendConnectionID string     `db:"backend_connection_id"`
	SessionType         string     `db:"session_type"`
	TournamentDayID     string     `db:"tournament_day_id"`
	SessionNumber       int        `db:"session_number"`
	StartTime           time.Time  `db:"start_time"`
	EndTime             *time.Time `db:"end_time"`
	IsActive            bool       `db:"is_active"`
	CumulativeOffsetSec int64      `db:"cumulative_offset_seconds"`
	InterruptionReason  *string    `db:"interruption_reason"`
	CreatedAt           time.Time  `db:"created_at"`
}

// RecognitionHistoryRow 识别状态变更历史行
type RecognitionHistoryRow struct {
	ID        int64     `db:"id"`
	EventID   int64     `db:"event_id"`
	OldStatus string    `db:"old_status"`
	NewStatus string    `db:"new_status"`
	Actor     string    `db:"actor"`
	Reason    *string   `db:"reason"`
	ChangedAt time.Time `db:"changed_at"`
}

// UnknownShapeRow 未知报文形状聚合行
type UnknownShapeRow struct {
	ID            int64     `db:"id"`
	ShapeHash     int64     `db:"shape_hash"`
	Opcode        string    `db:"opcode"`
	FieldCount    int       `db:"field_count"`
	SamplePayload string    `db:"sample_payload"`
	Occurrences   int       `db:"occurrences"`
	TournamentID  string    `db:"tournament_id"`
	FirstSeen     time.Time `db:"first_seen"`
	LastSeen      time.Time `db:"last_seen"`
}
