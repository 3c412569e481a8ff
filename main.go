package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"pss-service/config"
	"pss-service/database"
	"pss-service/pkg/metrics"
	"pss-service/services"
	"pss-service/web"
)

func main() {
	log.Println("Starting PSS Competition Event Service...")

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 连接数据库
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// 运行数据库迁移
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database connected and migrated")

	// 指标
	m := metrics.New(nil)

	// 加载校验规则
	rules, err := services.LoadRuleSet(cfg.RulesPath)
	if err != nil {
		log.Fatalf("Failed to load validation rules: %v", err)
	}

	// 事件存储
	store := services.NewEventStore(db, cfg.TournamentID)

	// 本次进程的接入流ID
	streamID := uuid.NewString()
	classifier := services.NewClassifier(cfg.ProtocolVersion, rules, store,
		cfg.TournamentID, cfg.TournamentDayID, streamID)

	// 会话管理与回放时间戳关联
	sessionManager := services.NewSessionManager(cfg.TournamentDayID, store, func(delta int) {
		m.SessionsActive.Add(float64(delta))
	})
	correlator := services.NewTimestampCorrelator(sessionManager)

	// 覆盖检测器，内部异常只计数不中断
	detector := services.NewOverrideDetector(func() {
		m.DetectorAnomaly.Inc()
	})

	// 创建WebSocket Hub
	wsHub := web.NewHub(cfg.SubscriberQueueSize, m)
	go wsHub.Run()

	// 事件统计追踪器 (5分钟间隔)
	statsTracker := services.NewStatsTracker(5 * time.Minute)
	go statsTracker.StartPeriodicReport()

	// AMQP事件桥（可选）
	var bridge *services.AMQPBridge
	if cfg.AMQP.Enabled {
		bridge = services.NewAMQPBridge(cfg.AMQP, m)
		bridge.Start()
		log.Println("AMQP bridge started")
	}

	// 组装处理管道
	pipelineOpts := services.PipelineOptions{
		Classifier:   classifier,
		Hits:         services.NewHitCorrelator(),
		Overrides:    detector,
		Correlator:   correlator,
		Store:        store,
		Spool:        services.NewOverflowSpool(cfg.OverflowPath),
		Broadcaster:  wsHub,
		QueueSize:    cfg.QueueSize,
		RetryCeiling: cfg.RetryCeiling,
		BaseBackoff:  cfg.RetryBaseBackoff,
		Metrics:      m,
		Stats:        statsTracker,
	}
	if bridge != nil {
		pipelineOpts.Bridge = bridge
	}
	pipeline := services.NewPipeline(pipelineOpts)

	// 上次运行溢出的事件先补写
	pipeline.ReplaySpool()
	pipeline.Start()

	// UDP监听
	udpListener := services.NewUDPListener(cfg.UDPListenAddr, pipeline)
	if err := udpListener.Start(); err != nil {
		log.Fatalf("Failed to start UDP listener: %v", err)
	}
	log.Printf("UDP listener started on %s", cfg.UDPListenAddr)

	// MQTT中继（可选）
	var mqttRelay *services.MQTTRelay
	if cfg.MQTT.Enabled {
		mqttRelay = services.NewMQTTRelay(cfg.MQTT, pipeline)
		if err := mqttRelay.Start(); err != nil {
			log.Printf("MQTT relay failed to start: %v", err)
		} else {
			log.Println("MQTT relay started")
		}
	}

	// 录制后端连接
	backendManager, err := services.NewBackendManager(cfg.Backends, sessionManager, m)
	if err != nil {
		log.Fatalf("Failed to create backend manager: %v", err)
	}
	backendManager.Start()
	log.Printf("Backend manager started (%d backends)", len(cfg.Backends))

	// 启动Web服务器
	server := web.NewServer(cfg, db, wsHub, store, statsTracker, backendManager, sessionManager)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Web server error: %v", err)
		}
	}()

	log.Printf("Web server started on port %s", cfg.Port)
	log.Println("Service is running. Press Ctrl+C to stop.")

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down service...")

	// 先停接入，再排空队列
	udpListener.Stop()
	if mqttRelay != nil {
		mqttRelay.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer cancel()
	if err := pipeline.Stop(ctx); err != nil {
		log.Printf("Pipeline drain: %v", err)
	}

	backendManager.Stop()
	sessionManager.Stop()
	if bridge != nil {
		bridge.Stop()
	}
	statsTracker.Stop()
	server.Stop()

	log.Println("Service stopped")
}
