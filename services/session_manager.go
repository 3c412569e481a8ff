package services

import (
	"sync"
	"time"

	"pss-service/models"
	"pss-service/pkg/common"
)

// SessionWriter 会话变更持久化接口
type SessionWriter interface {
	WriteSessionTransition(s *models.RecordingSession) error
}

// dayType 会话编号和偏移继承的作用域
type dayType struct {
	day string
	typ models.SessionType
}

// backendType 会话状态机的键
type backendType struct {
	backend string
	typ     models.SessionType
}

// SessionManager 录制/推流会话生命周期管理器
// 每个 (backend_connection_id, session_type) 一个 Idle→Active→Closed 状态机
// 同一 (tournament_day_id, session_type) 同时最多一个活动会话
type SessionManager struct {
	mu sync.RWMutex

	tournamentDayID string
	active          map[backendType]*models.RecordingSession
	history         map[dayType][]*models.RecordingSession
	nextNumber      map[dayType]int
	lastClosed      map[dayType]*models.RecordingSession

	writer    SessionWriter
	logger    common.Logger
	gauge     func(delta int) // 活动会话计量回调
	persistCh chan models.RecordingSession
	persistWG sync.WaitGroup
}

// NewSessionManager 创建会话管理器
func NewSessionManager(tournamentDayID string, writer SessionWriter, gauge func(delta int)) *SessionManager {
	m := &SessionManager{
		tournamentDayID: tournamentDayID,
		active:          make(map[backendType]*models.RecordingSession),
		history:         make(map[dayType][]*models.RecordingSession),
		nextNumber:      make(map[dayType]int),
		lastClosed:      make(map[dayType]*models.RecordingSession),
		writer:          writer,
		logger:          common.NewLogger("SessionManager"),
		gauge:           gauge,
	}
	if writer != nil {
		m.persistCh = make(chan models.RecordingSession, 256)
		m.persistWG.Add(1)
		go m.persistLoop()
	}
	return m
}

// HandleStarted 后端上报"已开始"：Idle/Closed → Active
// 会话编号按 (day, type) 递增；累计偏移继承上一个已关闭会话的偏移加间隔，下限0
func (m *SessionManager) HandleStarted(backendID string, typ models.SessionType, at time.Time) *models.RecordingSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	dt := dayType{day: m.tournamentDayID, typ: typ}

	// 同 (day, type) 的陈旧活动会话先强制关闭，保持单活动不变量
	for key, s := range m.active {
		if key.typ == typ && s.TournamentDayID == m.tournamentDayID {
			m.logger.Warn("Stale active %s session on backend %s, force closing", typ, key.backend)
			m.closeLocked(key, s, at, models.InterruptionUnspecified)
		}
	}

	number := m.nextNumber[dt] + 1
	m.nextNumber[dt] = number

	var offset int64
	if prev := m.lastClosed[dt]; prev != nil && prev.EndTime != nil {
		gap := int64(at.Sub(*prev.EndTime).Seconds())
		if gap < 0 {
			gap = 0
		}
		offset = prev.CumulativeOffsetSec + gap
	}

	s := &models.RecordingSession{
		BackendConnectionID: backendID,
		SessionType:         typ,
		TournamentDayID:     m.tournamentDayID,
		SessionNumber:       number,
		StartTime:           at,
		IsActive:            true,
		CumulativeOffsetSec: offset,
		CreatedAt:           time.Now(),
	}

	m.active[backendType{backend: backendID, typ: typ}] = s
	m.history[dt] = append(m.history[dt], s)
	if m.gauge != nil {
		m.gauge(1)
	}

	m.logger.Info("Session started: backend=%s type=%s number=%d offset=%ds",
		backendID, typ, number, offset)
	m.persist(s)
	cp := *s
	return &cp
}

// HandleStopped 后端上报"已停止"：Active → Closed
func (m *SessionManager) HandleStopped(backendID string, typ models.SessionType, at time.Time, reason string) *models.RecordingSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := backendType{backend: backendID, typ: typ}
	s, ok := m.active[key]
	if !ok {
		m.logger.Warn("Stop signal for inactive session: backend=%s type=%s", backendID, typ)
		return nil
	}
	m.closeLocked(key, s, at, reason)
	cp := *s
	return &cp
}

// HandleDisconnect 后端连接断开，其全部活动会话以 crash 原因关闭
func (m *SessionManager) HandleDisconnect(backendID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, s := range m.active {
		if key.backend == backendID {
			m.logger.Warn("Backend %s disconnected, closing %s session %d", backendID, key.typ, s.SessionNumber)
			m.closeLocked(key, s, at, models.InterruptionCrash)
		}
	}
}

// closeLocked 关闭会话并记录中断原因，须持有写锁
func (m *SessionManager) closeLocked(key backendType, s *models.RecordingSession, at time.Time, reason string) {
	end := at
	if end.Before(s.StartTime) {
		end = s.StartTime
	}
	s.EndTime = &end
	s.IsActive = false
	s.InterruptionReason = &reason
	delete(m.active, key)
	m.lastClosed[dayType{day: s.TournamentDayID, typ: s.SessionType}] = s
	if m.gauge != nil {
		m.gauge(-1)
	}

	m.logger.Info("Session closed: backend=%s type=%s number=%d reason=%s",
		key.backend, s.SessionType, s.SessionNumber, reason)
	m.persist(s)
}

// SessionsFor 返回某 (day, type) 全部会话的快照，按创建顺序
// 返回副本：closeLocked会原地修改会话字段，裸指针在锁外读不安全
func (m *SessionManager) SessionsFor(day string, typ models.SessionType) []models.RecordingSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.history[dayType{day: day, typ: typ}]
	out := make([]models.RecordingSession, len(src))
	for i, s := range src {
		out[i] = *s
	}
	return out
}

// ActiveSession 返回某 (day, type) 当前活动会话的快照，无则nil
func (m *SessionManager) ActiveSession(day string, typ models.SessionType) *models.RecordingSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.active {
		if s.TournamentDayID == day && s.SessionType == typ {
			cp := *s
			return &cp
		}
	}
	return nil
}

// persist 把会话快照交给单一落库协程，须持有写锁
// 单协程按到达顺序写库：start/stop的upsert绝不能乱序
func (m *SessionManager) persist(s *models.RecordingSession) {
	if m.persistCh == nil {
		return
	}
	m.persistCh <- *s
}

func (m *SessionManager) persistLoop() {
	defer m.persistWG.Done()
	for snap := range m.persistCh {
		if err := m.writer.WriteSessionTransition(&snap); err != nil {
			m.logger.Error("Failed to persist session transition (number=%d): %v", snap.SessionNumber, err)
		}
	}
}

// Stop 排空落库队列并停止落库协程
// 须在不再产生会话状态变更后调用（后端管理器停止之后）
func (m *SessionManager) Stop() {
	m.mu.Lock()
	ch := m.persistCh
	m.persistCh = nil
	m.mu.Unlock()

	if ch == nil {
		return
	}
	close(ch)
	m.persistWG.Wait()
}
