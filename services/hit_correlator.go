package services

import (
	"sync"
	"time"

	"pss-service/models"
)

const (
	// hitBufferCap 每名运动员保留的最近样本数
	hitBufferCap = 10

	// hitAttachWindow 得分事件回溯击打样本的时间窗
	hitAttachWindow = 5000 * time.Millisecond
)

// HitCorrelator 击打强度关联器
// 为每名运动员维护固定容量的环形样本缓冲，超出容量先淘汰最旧样本
// 整个结构使用单把锁，竞争很低，无需每元素加锁
type HitCorrelator struct {
	mu      sync.Mutex
	buffers map[models.Athlete][]models.HitSample
}

// NewHitCorrelator 创建击打关联器
func NewHitCorrelator() *HitCorrelator {
	return &HitCorrelator{
		buffers: make(map[models.Athlete][]models.HitSample),
	}
}

// RecordHit 记录一个击打样本，超过容量淘汰最旧的（与时间无关）
func (h *HitCorrelator) RecordHit(athlete models.Athlete, intensity int, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := append(h.buffers[athlete], models.HitSample{
		Athlete:   athlete,
		Intensity: intensity,
		SampledAt: at,
	})
	if len(buf) > hitBufferCap {
		buf = buf[len(buf)-hitBufferCap:]
	}
	h.buffers[athlete] = buf
}

// AttachRecent 返回时间窗（5000ms）内该运动员的样本，最旧在前，不修改缓冲
// 窗口边界: 4999ms 包含, 5001ms 排除
func (h *HitCorrelator) AttachRecent(athlete models.Athlete, scoreEventTime time.Time) []models.HitSample {
	h.mu.Lock()
	defer h.mu.Unlock()

	var recent []models.HitSample
	for _, s := range h.buffers[athlete] {
		age := scoreEventTime.Sub(s.SampledAt)
		if age < 0 {
			age = -age
		}
		if age < hitAttachWindow {
			recent = append(recent, s)
		}
	}
	return recent
}

// Reset 清空所有运动员的缓冲，新比赛加载时调用，击打上下文不跨场次
func (h *HitCorrelator) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buffers = make(map[models.Athlete][]models.HitSample)
}
