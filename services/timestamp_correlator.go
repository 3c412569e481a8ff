package services

import (
	"time"

	"pss-service/models"
)

// TimestampCorrelator 回放时间戳关联器
// 纯读取会话管理器状态做查找和算术，可安全重算（幂等）
type TimestampCorrelator struct {
	sessions *SessionManager
	now      func() time.Time
}

// NewTimestampCorrelator 创建时间戳关联器
func NewTimestampCorrelator(sessions *SessionManager) *TimestampCorrelator {
	return &TimestampCorrelator{sessions: sessions, now: time.Now}
}

// Correlate 计算事件的录制/推流回放相对时间戳
// 无匹配会话时对应值缺失，不是错误
func (c *TimestampCorrelator) Correlate(ev *models.DomainEvent) models.ReplayTimestamps {
	return models.ReplayTimestamps{
		RecSeconds: c.offsetFor(ev, models.SessionRecording),
		StrSeconds: c.offsetFor(ev, models.SessionStreaming),
	}
}

// offsetFor 选取事件时间窗内的活动会话并计算偏移
// 多个候选时取会话编号最大者，再比创建时间最晚者
func (c *TimestampCorrelator) offsetFor(ev *models.DomainEvent, typ models.SessionType) *float64 {
	now := c.now()

	candidates := c.sessions.SessionsFor(ev.TournamentDayID, typ)
	best := -1
	for i := range candidates {
		s := &candidates[i]
		if !s.IsActive || !s.Contains(ev.OccurredAt, now) {
			continue
		}
		if best < 0 ||
			s.SessionNumber > candidates[best].SessionNumber ||
			(s.SessionNumber == candidates[best].SessionNumber && s.CreatedAt.After(candidates[best].CreatedAt)) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}

	chosen := candidates[best]
	seconds := ev.OccurredAt.Sub(chosen.StartTime).Seconds() + float64(chosen.CumulativeOffsetSec)
	return &seconds
}
