package models

import (
	"strconv"
	"time"
)

// EventKind 事件类型
type EventKind string

const (
	EventClock       EventKind = "clock"
	EventRound       EventKind = "round"
	EventScore       EventKind = "score"
	EventWarning     EventKind = "warning"
	EventHitLevel    EventKind = "hit_level"
	EventAthleteInfo EventKind = "athlete_info"
	EventMatchConfig EventKind = "match_config"
	EventReady       EventKind = "ready"
	EventBreak       EventKind = "break"
	EventWinner      EventKind = "winner"
	EventUnknown     EventKind = "unknown"
)

// RecognitionStatus 识别状态
type RecognitionStatus string

const (
	StatusRecognized RecognitionStatus = "recognized"
	StatusPartial    RecognitionStatus = "partial"
	StatusUnknown    RecognitionStatus = "unknown"
	StatusDeprecated RecognitionStatus = "deprecated"
)

// Valid 检查识别状态是否合法
func (s RecognitionStatus) Valid() bool {
	switch s {
	case StatusRecognized, StatusPartial, StatusUnknown, StatusDeprecated:
		return true
	}
	return false
}

// RawMessage 解码后的原始数据报，每个数据报创建一个，立即被分类器消费
type RawMessage struct {
	Opcode     string    `json:"opcode"`
	Fields     []string  `json:"fields"`
	Raw        string    `json:"raw"`
	ReceivedAt time.Time `json:"received_at"`
}

// Detail 事件的有序键值明细
type Detail struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	ValueType string `json:"value_type"` // string, int, duration, enum
}

// ValidationError 单字段校验错误，非致命，累积在事件上
type ValidationError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// DomainEvent 分类后的领域事件
type DomainEvent struct {
	ID                int64             `json:"id,omitempty"`
	Kind              EventKind         `json:"kind"`
	SessionID         string            `json:"session_id"`
	MatchID           *string           `json:"match_id,omitempty"`
	RoundID           *int              `json:"round_id,omitempty"`
	SequenceNumber    uint64            `json:"sequence_number"`
	OccurredAt        time.Time         `json:"occurred_at"`
	RawPayload        string            `json:"raw_payload"`
	RecognitionStatus RecognitionStatus `json:"recognition_status"`
	ValidationErrors  []ValidationError `json:"validation_errors,omitempty"`
	Details           []Detail          `json:"details,omitempty"`
	TournamentID      string            `json:"tournament_id"`
	TournamentDayID   string            `json:"tournament_day_id"`

	// 覆盖标记，检测到人工干预时设置
	Override *OverrideFlag `json:"override,omitempty"`

	// 关联的击打强度样本（仅得分事件）
	RecentHits []HitSample `json:"recent_hits,omitempty"`

	// 回放时间戳（由时间戳关联器填充）
	Replay ReplayTimestamps `json:"replay"`
}

// Detail 查找明细值，不存在返回空字符串
func (e *DomainEvent) Detail(key string) string {
	for _, d := range e.Details {
		if d.Key == key {
			return d.Value
		}
	}
	return ""
}

// DetailInt 查找整数明细值
func (e *DomainEvent) DetailInt(key string) (int, bool) {
	v := e.Detail(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// AddDetail 追加一条明细
func (e *DomainEvent) AddDetail(key, value, valueType string) {
	e.Details = append(e.Details, Detail{Key: key, Value: value, ValueType: valueType})
}

// AddValidationError 追加一条校验错误
func (e *DomainEvent) AddValidationError(field, rule, message string) {
	e.ValidationErrors = append(e.ValidationErrors, ValidationError{
		Field:   field,
		Rule:    rule,
		Message: message,
	})
}

// ReplayTimestamps 回放相对时间戳，缺失表示无匹配会话（不是错误）
type ReplayTimestamps struct {
	RecSeconds *float64 `json:"rec_seconds,omitempty"`
	StrSeconds *float64 `json:"str_seconds,omitempty"`
}
