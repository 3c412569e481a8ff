package services

import (
	"sync"
	"time"

	"pss-service/config"
	"pss-service/models"
	"pss-service/obsws"
	"pss-service/pkg/common"
	"pss-service/pkg/metrics"
)

// BackendManager 录制后端连接管理器
// 每个后端一个独立的连接与重连循环，单个后端故障不影响其他后端
// 后端上报的输出状态变化驱动 SessionManager 的会话生命周期
type BackendManager struct {
	mu       sync.RWMutex
	clients  map[string]*obsws.Client
	sessions *SessionManager
	metrics  *metrics.Manager
	logger   common.Logger
	done     chan struct{}
}

// NewBackendManager 创建后端管理器
func NewBackendManager(backends []config.BackendConfig, sessions *SessionManager, m *metrics.Manager) (*BackendManager, error) {
	mgr := &BackendManager{
		clients:  make(map[string]*obsws.Client),
		sessions: sessions,
		metrics:  m,
		logger:   common.NewLogger("BackendManager"),
		done:     make(chan struct{}),
	}

	for _, bc := range backends {
		dialect, err := obsws.ParseDialect(bc.Dialect)
		if err != nil {
			return nil, err
		}

		client := obsws.NewClient(bc.ID, bc.URL, bc.Password, dialect)
		backendID := bc.ID
		client.OnState(func(ev obsws.StateEvent) {
			mgr.handleState(backendID, ev)
		})
		client.OnDisconnect(func(err error) {
			mgr.logger.Warn("Backend %s disconnected: %v", backendID, err)
			if m != nil {
				m.BackendReconnect.WithLabelValues(backendID).Inc()
			}
			sessions.HandleDisconnect(backendID, time.Now())
		})
		mgr.clients[bc.ID] = client
	}
	return mgr, nil
}

// Start 为每个后端启动独立的初始连接循环
func (m *BackendManager) Start() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, client := range m.clients {
		go m.connectLoop(id, client)
	}
}

// Stop 礼貌断开全部后端连接
func (m *BackendManager) Stop() {
	close(m.done)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, client := range m.clients {
		if client.IsConnected() {
			if err := client.Disconnect(); err != nil {
				m.logger.Warn("Failed to disconnect backend %s: %v", id, err)
			}
		}
	}
}

// connectLoop 初始连接重试，成功后由客户端自身的重连循环接管
func (m *BackendManager) connectLoop(id string, client *obsws.Client) {
	for {
		err := client.Connect()
		if err == nil {
			return
		}

		m.logger.Warn("Backend %s connect failed: %v, retrying", id, err)
		if m.metrics != nil {
			m.metrics.BackendReconnect.WithLabelValues(id).Inc()
		}

		select {
		case <-m.done:
			return
		case <-time.After(obsws.ReconnectDelay):
		}
	}
}

// handleState 后端输出状态变化映射到会话生命周期
func (m *BackendManager) handleState(backendID string, ev obsws.StateEvent) {
	typ, ok := sessionTypeFor(ev.Output)
	if !ok {
		return
	}

	if ev.Active {
		m.sessions.HandleStarted(backendID, typ, ev.At)
	} else {
		m.sessions.HandleStopped(backendID, typ, ev.At, models.InterruptionManual)
	}
}

func sessionTypeFor(output obsws.OutputKind) (models.SessionType, bool) {
	switch output {
	case obsws.OutputRecording:
		return models.SessionRecording, true
	case obsws.OutputStreaming:
		return models.SessionStreaming, true
	case obsws.OutputReplayBuffer:
		return models.SessionReplayBuffer, true
	}
	return "", false
}

// Client 按ID获取后端客户端，供控制接口使用
func (m *BackendManager) Client(id string) (*obsws.Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[id]
	return client, ok
}

// Backends 返回全部后端的连接状态
func (m *BackendManager) Backends() []map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]map[string]interface{}, 0, len(m.clients))
	for id, client := range m.clients {
		out = append(out, map[string]interface{}{
			"id":        id,
			"dialect":   client.Dialect().String(),
			"connected": client.IsConnected(),
		})
	}
	return out
}
