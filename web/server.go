package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"pss-service/config"
	"pss-service/models"
	"pss-service/obsws"
	"pss-service/pkg/common"
	"pss-service/services"
)

type Server struct {
	config     *config.Config
	db         *sql.DB
	wsHub      *Hub
	store      *services.EventStore
	stats      *services.StatsTracker
	backends   *services.BackendManager
	sessions   *services.SessionManager
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

func NewServer(cfg *config.Config, db *sql.DB, hub *Hub, store *services.EventStore,
	stats *services.StatsTracker, backends *services.BackendManager, sessions *services.SessionManager) *Server {
	return &Server{
		config:   cfg,
		db:       db,
		wsHub:    hub,
		store:    store,
		stats:    stats,
		backends: backends,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源(生产环境需要限制)
			},
		},
	}
}

func (s *Server) Start() error {
	router := mux.NewRouter()

	// API路由
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/events/{id}/recognition", s.handleReclassify).Methods("POST")
	api.HandleFunc("/matches/{match_id}/events", s.handleGetMatchEvents).Methods("GET")
	api.HandleFunc("/sessions", s.handleGetSessions).Methods("GET")
	api.HandleFunc("/unknown-shapes", s.handleGetUnknownShapes).Methods("GET")

	// 后端控制路由
	api.HandleFunc("/backends", s.handleListBackends).Methods("GET")
	api.HandleFunc("/backends/{id}/recording/start", s.handleStartRecording).Methods("POST")
	api.HandleFunc("/backends/{id}/recording/stop", s.handleStopRecording).Methods("POST")
	api.HandleFunc("/backends/{id}/recording", s.handleRecordingState).Methods("GET")
	api.HandleFunc("/backends/{id}/replay/save", s.handleSaveReplay).Methods("POST")
	api.HandleFunc("/backends/{id}/scenes", s.handleListScenes).Methods("GET")
	api.HandleFunc("/backends/{id}/scene", s.handleSetScene).Methods("PUT")

	// WebSocket路由
	router.HandleFunc("/ws", s.handleWebSocket)

	// Prometheus指标
	router.Handle("/metrics", promhttp.Handler())

	// CORS配置
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	handler := c.Handler(router)

	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

// handleHealth 健康检查
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := s.db.Ping(); err != nil {
		status = "degraded"
	}
	writeJSON(w, map[string]interface{}{
		"status": status,
		"time":   time.Now().Unix(),
	})
}

// handleGetStats 获取统计信息
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	dbStats, err := s.store.GetStats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	byKind, total := s.stats.Snapshot()
	writeJSON(w, map[string]interface{}{
		"database":       dbStats,
		"events_by_kind": byKind,
		"events_total":   total,
	})
}

// handleGetEvents 获取事件列表
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	offset, _ := strconv.Atoi(query.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	events, err := s.store.GetEvents(limit, offset, query.Get("kind"), query.Get("match_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"events": events,
		"limit":  limit,
		"offset": offset,
	})
}

// handleGetMatchEvents 获取特定场次的事件
func (s *Server) handleGetMatchEvents(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["match_id"]

	events, err := s.store.GetEvents(500, 0, "", matchID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"match_id": matchID,
		"events":   events,
	})
}

// handleReclassify 人工重分类，带审计轨迹
func (s *Server) handleReclassify(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}

	var req struct {
		Status string `json:"status"`
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	status := models.RecognitionStatus(req.Status)
	if !status.Valid() {
		http.Error(w, "invalid recognition status: "+req.Status, http.StatusBadRequest)
		return
	}
	if req.Actor == "" {
		http.Error(w, "actor is required", http.StatusBadRequest)
		return
	}

	if err := s.store.ReclassifyEvent(eventID, status, req.Actor, req.Reason); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			http.Error(w, "event not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"event_id": eventID,
		"status":   status,
	})
}

// handleGetSessions 获取录制会话列表
func (s *Server) handleGetSessions(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	if day == "" {
		day = s.config.TournamentDayID
	}

	sessions, err := s.store.GetSessions(day)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	active := map[string]interface{}{}
	for _, typ := range []models.SessionType{models.SessionRecording, models.SessionStreaming, models.SessionReplayBuffer} {
		if as := s.sessions.ActiveSession(day, typ); as != nil {
			active[string(typ)] = as
		}
	}

	writeJSON(w, map[string]interface{}{
		"day":      day,
		"sessions": sessions,
		"active":   active,
	})
}

// handleGetUnknownShapes 获取未识别的报文形状
func (s *Server) handleGetUnknownShapes(w http.ResponseWriter, r *http.Request) {
	shapes, err := s.store.GetUnknownShapes()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"shapes": shapes,
	})
}

// handleListBackends 后端连接状态列表
func (s *Server) handleListBackends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"backends": s.backends.Backends(),
	})
}

func (s *Server) backendClient(w http.ResponseWriter, r *http.Request) *obsws.Client {
	id := mux.Vars(r)["id"]
	client, ok := s.backends.Client(id)
	if !ok {
		http.Error(w, "unknown backend: "+id, http.StatusNotFound)
		return nil
	}
	return client
}

// handleStartRecording 启动录制
func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	c := s.backendClient(w, r)
	if c == nil {
		return
	}
	if err := c.StartRecording(); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "started"})
}

// handleStopRecording 停止录制
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	c := s.backendClient(w, r)
	if c == nil {
		return
	}
	if err := c.StopRecording(); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "stopped"})
}

// handleRecordingState 查询录制状态
func (s *Server) handleRecordingState(w http.ResponseWriter, r *http.Request) {
	c := s.backendClient(w, r)
	if c == nil {
		return
	}
	state, err := c.GetRecordingState()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, state)
}

// handleSaveReplay 保存回放缓冲
func (s *Server) handleSaveReplay(w http.ResponseWriter, r *http.Request) {
	c := s.backendClient(w, r)
	if c == nil {
		return
	}
	if err := c.SaveReplayBuffer(); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "saved"})
}

// handleListScenes 场景列表
func (s *Server) handleListScenes(w http.ResponseWriter, r *http.Request) {
	c := s.backendClient(w, r)
	if c == nil {
		return
	}
	scenes, err := c.ListScenes()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	current, _ := c.GetCurrentScene()
	writeJSON(w, map[string]interface{}{
		"scenes":  scenes,
		"current": current,
	})
}

// handleSetScene 切换场景
func (s *Server) handleSetScene(w http.ResponseWriter, r *http.Request) {
	c := s.backendClient(w, r)
	if c == nil {
		return
	}

	var req struct {
		Scene string `json:"scene"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Scene == "" {
		http.Error(w, "scene is required", http.StatusBadRequest)
		return
	}

	if err := c.SetCurrentScene(req.Scene); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]interface{}{"scene": req.Scene})
}

// handleWebSocket WebSocket连接处理
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		hub:      s.wsHub,
		conn:     conn,
		send:     make(chan []byte, s.wsHub.queueSize),
		kinds:    make(map[string]bool),
		matchIDs: make(map[string]bool),
	}

	client.hub.register <- client

	// 发送欢迎消息
	welcomeMsg := &WSMessage{
		Type: "connected",
		Data: map[string]interface{}{
			"message": "Connected to competition event stream",
			"time":    time.Now().Unix(),
		},
	}
	welcomeData, _ := json.Marshal(welcomeMsg)
	client.send <- welcomeData

	go client.writePump()
	go client.readPump()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
