package services

import (
	"fmt"
	"sync"
	"time"

	"pss-service/models"
	"pss-service/pkg/common"
)

const (
	// recentEventCap 保留的最近已分类事件数
	recentEventCap = 10

	// corrWindow 时间修正标记的有效期
	corrWindow = 5000 * time.Millisecond

	roundBurstWindow   = 5000 * time.Millisecond
	scoreBurstWindow   = 2000 * time.Millisecond
	warningBurstWindow = 3000 * time.Millisecond

	// scoreJumpThreshold 判定人工改分的分差阈值
	scoreJumpThreshold = 3
)

// OverrideDetector 人工覆盖检测器
// 通过最近事件窗口和当前计时状态判断变更是否来自协议正常序列
// 任何内部故障都降级为"非覆盖"（fail-open），绝不中断接入
type OverrideDetector struct {
	mu sync.Mutex

	clockRunning bool
	corrSeenAt   time.Time
	recent       []*models.DomainEvent
	lastScores   map[models.Athlete]int
	lastWarnings map[models.Athlete]int

	logger  common.Logger
	anomaly func() // 内部故障计数回调
}

// NewOverrideDetector 创建覆盖检测器
func NewOverrideDetector(anomaly func()) *OverrideDetector {
	return &OverrideDetector{
		lastScores:   make(map[models.Athlete]int),
		lastWarnings: make(map[models.Athlete]int),
		logger:       common.NewLogger("OverrideDetector"),
		anomaly:      anomaly,
	}
}

// Check 检测事件是否为人工覆盖并更新内部状态
// 检测使用事件到达前的状态，随后事件进入最近窗口
func (d *OverrideDetector) Check(ev *models.DomainEvent) (flag *models.OverrideFlag) {
	d.mu.Lock()
	defer d.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			// fail-open: 检测器自身故障不判覆盖，不中断接入
			d.logger.Error("Detector fault on seq %d: %v", ev.SequenceNumber, r)
			if d.anomaly != nil {
				d.anomaly()
			}
			flag = nil
			d.observe(ev, nil)
		}
	}()

	flag = d.detect(ev)
	d.observe(ev, flag)
	return flag
}

// detect 按短路顺序执行检测规则
func (d *OverrideDetector) detect(ev *models.DomainEvent) *models.OverrideFlag {
	now := ev.OccurredAt
	corrActive := !d.corrSeenAt.IsZero() && now.Sub(d.corrSeenAt) < corrWindow

	switch ev.Kind {
	case models.EventRound:
		// 规则1: 停表状态下的回合变更，唯一例外是紧邻的
		// 第0回合0:00休息结束信号——那是正常的自动回合切换
		if !d.clockRunning && !d.precededByBreakEndAtZero() {
			return d.flag(models.OverrideRound, now, "round change while clock stopped")
		}
		// 规则2: 5000ms内两次及以上回合变更
		if d.countRecent(models.EventRound, now, roundBurstWindow) >= 1 {
			return d.flag(models.OverrideRound, now, "multiple round changes within 5s")
		}

	case models.EventScore:
		// 规则3
		if !d.clockRunning {
			return d.flag(models.OverrideScore, now, "score change while clock stopped")
		}
		if corrActive {
			return d.flag(models.OverrideScore, now, "score change inside time-correction window")
		}
		if jump, delta := d.scoreJump(ev); jump {
			return d.flag(models.OverrideScore, now, fmt.Sprintf("score jump of %d points", delta))
		}
		if d.countRecent(models.EventScore, now, scoreBurstWindow) >= 1 {
			return d.flag(models.OverrideScore, now, "multiple score changes within 2s")
		}

	case models.EventClock:
		// 规则4: 任何corr动作都是时间覆盖
		if ev.Detail("action") == "corr" {
			return d.flag(models.OverrideTime, now, "clock correction")
		}

	case models.EventWarning:
		// 规则5
		if !d.clockRunning {
			return d.flag(models.OverrideWarning, now, "warning change while clock stopped")
		}
		if corrActive {
			return d.flag(models.OverrideWarning, now, "warning change inside time-correction window")
		}
		if d.countRecent(models.EventWarning, now, warningBurstWindow) >= 1 {
			return d.flag(models.OverrideWarning, now, "multiple warning changes within 3s")
		}
	}
	return nil
}

// precededByBreakEndAtZero 最近一条事件是否为第0回合0:00的休息结束信号
func (d *OverrideDetector) precededByBreakEndAtZero() bool {
	if len(d.recent) == 0 {
		return false
	}
	prev := d.recent[len(d.recent)-1]
	if prev.Kind != models.EventBreak || prev.Detail("phase") != "end" {
		return false
	}
	round, ok := prev.DetailInt("round")
	if !ok || round != 0 {
		return false
	}
	return prev.Detail("time") == "0:00" || prev.Detail("time") == "00:00"
}

// scoreJump 与上次已知分数相比是否出现≥3分的跳变
func (d *OverrideDetector) scoreJump(ev *models.DomainEvent) (bool, int) {
	athlete, ok := ev.DetailInt("athlete")
	if !ok {
		return false, 0
	}
	score, ok := ev.DetailInt("score")
	if !ok {
		return false, 0
	}
	last, seen := d.lastScores[models.Athlete(athlete)]
	if !seen {
		return false, 0
	}
	delta := score - last
	if delta < 0 {
		delta = -delta
	}
	return delta >= scoreJumpThreshold, delta
}

// countRecent 最近窗口内某类事件的数量
func (d *OverrideDetector) countRecent(kind models.EventKind, now time.Time, window time.Duration) int {
	count := 0
	for _, ev := range d.recent {
		if ev.Kind == kind && now.Sub(ev.OccurredAt) < window {
			count++
		}
	}
	return count
}

// observe 事件进入最近窗口并更新计时/比分状态
func (d *OverrideDetector) observe(ev *models.DomainEvent, flag *models.OverrideFlag) {
	switch ev.Kind {
	case models.EventClock:
		switch ev.Detail("action") {
		case "start":
			d.clockRunning = true
		case "stop":
			d.clockRunning = false
		case "corr":
			d.corrSeenAt = ev.OccurredAt
		}

	case models.EventScore:
		if athlete, ok := ev.DetailInt("athlete"); ok {
			if score, ok := ev.DetailInt("score"); ok {
				d.lastScores[models.Athlete(athlete)] = score
			}
		}

	case models.EventWarning:
		if n, ok := ev.DetailInt("blue_warnings"); ok {
			d.lastWarnings[models.AthleteBlue] = n
		}
		if n, ok := ev.DetailInt("red_warnings"); ok {
			d.lastWarnings[models.AthleteRed] = n
		}

	case models.EventRound:
		// 覆盖只更新回合计数；正常回合切换会清零比分和警告
		if flag == nil {
			d.lastScores = make(map[models.Athlete]int)
			d.lastWarnings = make(map[models.Athlete]int)
		}

	case models.EventReady, models.EventMatchConfig:
		d.lastScores = make(map[models.Athlete]int)
		d.lastWarnings = make(map[models.Athlete]int)
		d.clockRunning = false
		d.corrSeenAt = time.Time{}
	}

	d.recent = append(d.recent, ev)
	if len(d.recent) > recentEventCap {
		d.recent = d.recent[len(d.recent)-recentEventCap:]
	}
}

func (d *OverrideDetector) flag(kind models.OverrideKind, at time.Time, evidence string) *models.OverrideFlag {
	return &models.OverrideFlag{Kind: kind, DetectedAt: at, Evidence: evidence}
}
