package models

import "time"

// OverrideKind 人工覆盖类型
type OverrideKind string

const (
	OverrideRound   OverrideKind = "round"
	OverrideScore   OverrideKind = "score"
	OverrideTime    OverrideKind = "time"
	OverrideWarning OverrideKind = "warning"
)

// OverrideFlag 人工覆盖标记，不单独持久化，只决定事件的应用策略
type OverrideFlag struct {
	Kind       OverrideKind `json:"kind"`
	DetectedAt time.Time    `json:"detected_at"`
	Evidence   string       `json:"evidence"`
}
