package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Connect 连接到数据库
func Connect(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 设置连接池
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}

// Migrate 运行数据库迁移
func Migrate(db *sql.DB) error {
	migrations := []string{
		// 领域事件表
		`CREATE TABLE IF NOT EXISTS pss_events (
			id BIGSERIAL PRIMARY KEY,
			kind VARCHAR(30) NOT NULL,
			session_id VARCHAR(100) NOT NULL,
			match_id VARCHAR(100),
			round_id INTEGER,
			sequence_number BIGINT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			raw_payload TEXT NOT NULL,
			recognition_status VARCHAR(20) NOT NULL,
			validation_errors TEXT,
			details TEXT,
			override_kind VARCHAR(20),
			override_evidence TEXT,
			recent_hits TEXT,
			rec_seconds DOUBLE PRECISION,
			str_seconds DOUBLE PRECISION,
			tournament_id VARCHAR(100) NOT NULL,
			tournament_day_id VARCHAR(100) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pss_events_match_id ON pss_events(match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pss_events_kind ON pss_events(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_pss_events_occurred_at ON pss_events(occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_pss_events_day ON pss_events(tournament_day_id)`,

		// 录制/推流会话表
		`CREATE TABLE IF NOT EXISTS recording_sessions (
			id BIGSERIAL PRIMARY KEY,
			backend_connection_id VARCHAR(100) NOT NULL,
			session_type VARCHAR(20) NOT NULL,
			tournament_day_id VARCHAR(100) NOT NULL,
			session_number INTEGER NOT NULL,
			start_time TIMESTAMP NOT NULL,
			end_time TIMESTAMP,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			cumulative_offset_seconds BIGINT NOT NULL DEFAULT 0,
			interruption_reason VARCHAR(20),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (tournament_day_id, session_type, session_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recording_sessions_day_type ON recording_sessions(tournament_day_id, session_type)`,
		`CREATE INDEX IF NOT EXISTS idx_recording_sessions_active ON recording_sessions(is_active)`,

		// 识别状态变更历史（仅追加）
		`CREATE TABLE IF NOT EXISTS recognition_history (
			id BIGSERIAL PRIMARY KEY,
			event_id BIGINT NOT NULL,
			old_status VARCHAR(20) NOT NULL,
			new_status VARCHAR(20) NOT NULL,
			actor VARCHAR(100) NOT NULL,
			reason TEXT,
			changed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recognition_history_event_id ON recognition_history(event_id)`,

		// 未知报文形状聚合表
		`CREATE TABLE IF NOT EXISTS unknown_shapes (
			id BIGSERIAL PRIMARY KEY,
			shape_hash BIGINT UNIQUE NOT NULL,
			opcode VARCHAR(50) NOT NULL,
			field_count INTEGER NOT NULL,
			sample_payload TEXT NOT NULL,
			occurrences INTEGER NOT NULL DEFAULT 1,
			tournament_id VARCHAR(100) NOT NULL,
			first_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_unknown_shapes_opcode ON unknown_shapes(opcode)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
