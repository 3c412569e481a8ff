package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pss-service/models"
	"pss-service/pkg/common"
)

// EventStore 持久化网关的Postgres实现
// 所有写入都带 tournament_id / tournament_day_id 范围
type EventStore struct {
	db           *sql.DB
	tournamentID string
}

// NewEventStore 创建事件存储
func NewEventStore(db *sql.DB, tournamentID string) *EventStore {
	return &EventStore{db: db, tournamentID: tournamentID}
}

// WriteEvent 写入一条最终化的领域事件，返回事件ID
// 回放时间戳首写生效，重算安全
func (s *EventStore) WriteEvent(ev *models.DomainEvent) (int64, error) {
	query := `
		INSERT INTO pss_events (kind, session_id, match_id, round_id, sequence_number,
			occurred_at, raw_payload, recognition_status, validation_errors, details,
			override_kind, override_evidence, recent_hits, rec_seconds, str_seconds,
			tournament_id, tournament_day_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id
	`

	details := marshalOrNil(ev.Details)
	validationErrors := marshalOrNil(ev.ValidationErrors)
	recentHits := marshalOrNil(ev.RecentHits)

	var overrideKind, overrideEvidence *string
	if ev.Override != nil {
		k := string(ev.Override.Kind)
		overrideKind = &k
		overrideEvidence = &ev.Override.Evidence
	}

	var id int64
	err := s.db.QueryRow(query,
		string(ev.Kind), ev.SessionID, ev.MatchID, ev.RoundID, int64(ev.SequenceNumber),
		ev.OccurredAt, ev.RawPayload, string(ev.RecognitionStatus), validationErrors, details,
		overrideKind, overrideEvidence, recentHits, ev.Replay.RecSeconds, ev.Replay.StrSeconds,
		ev.TournamentID, ev.TournamentDayID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
	}
	return id, nil
}

// WriteSessionTransition 写入会话状态变更（按 day+type+number upsert）
func (s *EventStore) WriteSessionTransition(session *models.RecordingSession) error {
	query := `
		INSERT INTO recording_sessions (backend_connection_id, session_type, tournament_day_id,
			session_number, start_time, end_time, is_active, cumulative_offset_seconds,
			interruption_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tournament_day_id, session_type, session_number)
		DO UPDATE SET
			end_time = EXCLUDED.end_time,
			is_active = EXCLUDED.is_active,
			cumulative_offset_seconds = EXCLUDED.cumulative_offset_seconds,
			interruption_reason = EXCLUDED.interruption_reason
	`

	_, err := s.db.Exec(query,
		session.BackendConnectionID, string(session.SessionType), session.TournamentDayID,
		session.SessionNumber, session.StartTime, session.EndTime, session.IsActive,
		session.CumulativeOffsetSec, session.InterruptionReason, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
	}
	return nil
}

// AppendRecognitionHistory 追加识别状态变更历史（仅追加，不可变）
func (s *EventStore) AppendRecognitionHistory(eventID int64, old, new models.RecognitionStatus, actor, reason string) error {
	query := `
		INSERT INTO recognition_history (event_id, old_status, new_status, actor, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.Exec(query, eventID, string(old), string(new), actor, reason, time.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
	}
	return nil
}

// ReclassifyEvent 经审计的识别状态变更：更新状态并追加历史，同一事务
func (s *EventStore) ReclassifyEvent(eventID int64, newStatus models.RecognitionStatus, actor, reason string) error {
	if !newStatus.Valid() {
		return fmt.Errorf("%w: invalid recognition status %q", common.ErrValidationFailed, newStatus)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
	}
	defer tx.Rollback()

	var old string
	err = tx.QueryRow(`SELECT recognition_status FROM pss_events WHERE id = $1 FOR UPDATE`, eventID).Scan(&old)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: event %d", common.ErrNotFound, eventID)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
	}

	if _, err := tx.Exec(`UPDATE pss_events SET recognition_status = $1 WHERE id = $2`,
		string(newStatus), eventID); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO recognition_history (event_id, old_status, new_status, actor, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		eventID, old, string(newStatus), actor, reason, time.Now()); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
	}
	return nil
}

// RecordUnknownShape 未知报文形状聚合，重复形状只累加计数
func (s *EventStore) RecordUnknownShape(shapeHash int64, opcode string, fieldCount int, samplePayload string) error {
	query := `
		INSERT INTO unknown_shapes (shape_hash, opcode, field_count, sample_payload, occurrences, tournament_id, last_seen)
		VALUES ($1, $2, $3, $4, 1, $5, $6)
		ON CONFLICT (shape_hash)
		DO UPDATE SET
			occurrences = unknown_shapes.occurrences + 1,
			last_seen = $6
	`

	_, err := s.db.Exec(query, shapeHash, opcode, fieldCount, samplePayload, s.tournamentID, time.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
	}
	return nil
}

// GetEvents 查询事件列表，支持kind和match过滤
func (s *EventStore) GetEvents(limit, offset int, kind, matchID string) ([]map[string]interface{}, error) {
	query := `
		SELECT id, kind, session_id, match_id, round_id, sequence_number, occurred_at,
			raw_payload, recognition_status, validation_errors, details,
			override_kind, override_evidence, recent_hits, rec_seconds, str_seconds
		FROM pss_events
		WHERE ($1 = '' OR kind = $1)
		  AND ($2 = '' OR match_id = $2)
		ORDER BY id DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := s.db.Query(query, kind, matchID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
	}
	defer rows.Close()

	var events []map[string]interface{}
	for rows.Next() {
		var (
			id, seq                            int64
			evKind, sessionID, raw, status     string
			mID, valErrs, details              *string
			roundID                            *int
			ovKind, ovEvidence, hits           *string
			recSec, strSec                     *float64
			occurredAt                         time.Time
		)
		if err := rows.Scan(&id, &evKind, &sessionID, &mID, &roundID, &seq, &occurredAt,
			&raw, &status, &valErrs, &details, &ovKind, &ovEvidence, &hits, &recSec, &strSec); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
		}

		ev := map[string]interface{}{
			"id":                 id,
			"kind":               evKind,
			"session_id":         sessionID,
			"sequence_number":    seq,
			"occurred_at":        occurredAt,
			"raw_payload":        raw,
			"recognition_status": status,
		}
		if mID != nil {
			ev["match_id"] = *mID
		}
		if roundID != nil {
			ev["round_id"] = *roundID
		}
		attachJSON(ev, "validation_errors", valErrs)
		attachJSON(ev, "details", details)
		attachJSON(ev, "recent_hits", hits)
		if ovKind != nil {
			ev["override_kind"] = *ovKind
		}
		if ovEvidence != nil {
			ev["override_evidence"] = *ovEvidence
		}
		if recSec != nil {
			ev["rec_seconds"] = *recSec
		}
		if strSec != nil {
			ev["str_seconds"] = *strSec
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetSessions 查询某比赛日的会话列表
func (s *EventStore) GetSessions(day string) ([]map[string]interface{}, error) {
	query := `
		SELECT id, backend_connection_id, session_type, tournament_day_id, session_number,
			start_time, end_time, is_active, cumulative_offset_seconds, interruption_reason
		FROM recording_sessions
		WHERE ($1 = '' OR tournament_day_id = $1)
		ORDER BY session_type, session_number
	`

	rows, err := s.db.Query(query, day)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
	}
	defer rows.Close()

	var sessions []map[string]interface{}
	for rows.Next() {
		var (
			id                 int64
			backendID, typ, d  string
			number             int
			startTime          time.Time
			endTime            *time.Time
			isActive           bool
			offset             int64
			reason             *string
		)
		if err := rows.Scan(&id, &backendID, &typ, &d, &number,
			&startTime, &endTime, &isActive, &offset, &reason); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
		}

		session := map[string]interface{}{
			"id":                        id,
			"backend_connection_id":     backendID,
			"session_type":              typ,
			"tournament_day_id":         d,
			"session_number":            number,
			"start_time":                startTime,
			"is_active":                 isActive,
			"cumulative_offset_seconds": offset,
		}
		if endTime != nil {
			session["end_time"] = *endTime
		}
		if reason != nil {
			session["interruption_reason"] = *reason
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// GetUnknownShapes 查询未知形状聚合
func (s *EventStore) GetUnknownShapes() ([]map[string]interface{}, error) {
	query := `
		SELECT shape_hash, opcode, field_count, sample_payload, occurrences, first_seen, last_seen
		FROM unknown_shapes
		ORDER BY occurrences DESC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
	}
	defer rows.Close()

	var shapes []map[string]interface{}
	for rows.Next() {
		var (
			hash                 int64
			opcode, sample       string
			fieldCount, occur    int
			firstSeen, lastSeen  time.Time
		)
		if err := rows.Scan(&hash, &opcode, &fieldCount, &sample, &occur, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
		}
		shapes = append(shapes, map[string]interface{}{
			"shape_hash":     hash,
			"opcode":         opcode,
			"field_count":    fieldCount,
			"sample_payload": sample,
			"occurrences":    occur,
			"first_seen":     firstSeen,
			"last_seen":      lastSeen,
		})
	}
	return shapes, rows.Err()
}

// GetStats 事件统计（按识别状态和类型）
func (s *EventStore) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	byStatus := make(map[string]int64)
	rows, err := s.db.Query(`SELECT recognition_status, COUNT(*) FROM pss_events GROUP BY recognition_status`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
		}
		byStatus[status] = count
	}
	stats["by_status"] = byStatus

	byKind := make(map[string]int64)
	kindRows, err := s.db.Query(`SELECT kind, COUNT(*) FROM pss_events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
	}
	defer kindRows.Close()
	for kindRows.Next() {
		var kind string
		var count int64
		if err := kindRows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrStorageFailed, err)
		}
		byKind[kind] = count
	}
	stats["by_kind"] = byKind

	return stats, nil
}

func marshalOrNil(v interface{}) *string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return nil
	}
	str := string(data)
	return &str
}

func attachJSON(dst map[string]interface{}, key string, raw *string) {
	if raw == nil {
		return
	}
	var v interface{}
	if err := json.Unmarshal([]byte(*raw), &v); err == nil {
		dst[key] = v
	}
}
