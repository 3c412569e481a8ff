package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"pss-service/logger"
)

// StatsTracker 接入事件统计追踪器，按事件类型计数并定期输出
type StatsTracker struct {
	mu           sync.RWMutex
	stats        map[string]int
	totalCount   int
	lastReported time.Time
	interval     time.Duration
	done         chan struct{}
}

// NewStatsTracker 创建统计追踪器
func NewStatsTracker(interval time.Duration) *StatsTracker {
	return &StatsTracker{
		stats:        make(map[string]int),
		lastReported: time.Now(),
		interval:     interval,
		done:         make(chan struct{}),
	}
}

// Record 记录一条事件
func (t *StatsTracker) Record(kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats[kind]++
	t.totalCount++
}

// Snapshot 返回当前周期的计数快照
func (t *StatsTracker) Snapshot() (map[string]int, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	copied := make(map[string]int, len(t.stats))
	for k, v := range t.stats {
		copied[k] = v
	}
	return copied, t.totalCount
}

// StartPeriodicReport 启动定期报告
func (t *StatsTracker) StartPeriodicReport() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.report()
		}
	}
}

// Stop 停止定期报告
func (t *StatsTracker) Stop() {
	close(t.done)
}

func (t *StatsTracker) report() {
	t.mu.Lock()
	if t.totalCount == 0 {
		t.mu.Unlock()
		return
	}

	elapsed := time.Since(t.lastReported)
	parts := make([]string, 0, len(t.stats))
	for kind, count := range t.stats {
		parts = append(parts, fmt.Sprintf("%s=%d", kind, count))
	}
	sort.Strings(parts)
	total := t.totalCount

	// 重置当前周期
	t.stats = make(map[string]int)
	t.totalCount = 0
	t.lastReported = time.Now()
	t.mu.Unlock()

	logger.Printf("[Stats] %d events in last %.0fm: %s",
		total, elapsed.Minutes(), strings.Join(parts, " "))
}
