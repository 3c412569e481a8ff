package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"pss-service/models"
	"pss-service/pkg/common"
	"pss-service/pkg/metrics"
	"pss-service/pss"
)

// EventWriter 最终化事件的写入接口
type EventWriter interface {
	WriteEvent(ev *models.DomainEvent) (int64, error)
}

// EventBroadcaster 分发接口，避免对web包的循环依赖
type EventBroadcaster interface {
	Broadcast(ev *models.DomainEvent)
}

// EventPublisher 事件桥接口（可选的下游总线）
type EventPublisher interface {
	Publish(ev *models.DomainEvent)
}

// Pipeline 实时赛事事件管道
// 接入路径同步完成解码+分类以保证序号顺序，之后经有界有序队列
// 交给下游（击打关联、覆盖检测、时间戳关联、持久化、广播）
// 队列满时丢最旧的并计数，接入路径永不阻塞在持久化或广播上
type Pipeline struct {
	classifier *Classifier
	hits       *HitCorrelator
	overrides  *OverrideDetector
	correlator *TimestampCorrelator
	store      EventWriter
	spool      *OverflowSpool

	broadcaster EventBroadcaster
	bridge      EventPublisher

	retryCeiling int
	baseBackoff  time.Duration

	metrics *metrics.Manager
	stats   *StatsTracker
	logger  common.Logger

	enqMu   sync.Mutex
	seq     uint64
	queue   chan *models.DomainEvent
	stopped bool

	wg sync.WaitGroup
}

// PipelineOptions 管道依赖与参数
type PipelineOptions struct {
	Classifier   *Classifier
	Hits         *HitCorrelator
	Overrides    *OverrideDetector
	Correlator   *TimestampCorrelator
	Store        EventWriter
	Spool        *OverflowSpool
	Broadcaster  EventBroadcaster
	Bridge       EventPublisher
	QueueSize    int
	RetryCeiling int
	BaseBackoff  time.Duration
	Metrics      *metrics.Manager
	Stats        *StatsTracker
}

// NewPipeline 创建管道
func NewPipeline(opts PipelineOptions) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.RetryCeiling <= 0 {
		opts.RetryCeiling = 5
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 200 * time.Millisecond
	}
	return &Pipeline{
		classifier:   opts.Classifier,
		hits:         opts.Hits,
		overrides:    opts.Overrides,
		correlator:   opts.Correlator,
		store:        opts.Store,
		spool:        opts.Spool,
		broadcaster:  opts.Broadcaster,
		bridge:       opts.Bridge,
		retryCeiling: opts.RetryCeiling,
		baseBackoff:  opts.BaseBackoff,
		metrics:      opts.Metrics,
		stats:        opts.Stats,
		logger:       common.NewLogger("Pipeline"),
		queue:        make(chan *models.DomainEvent, opts.QueueSize),
	}
}

// Start 启动下游工作协程
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go p.worker()
}

// Ingest 接入一帧原始数据报，UDP监听器和MQTT中继都走这里
// 同步解码+分类，序号在单个接入流内严格递增
func (p *Pipeline) Ingest(buf []byte, transport string, at time.Time) {
	if p.metrics != nil {
		p.metrics.FramesReceived.WithLabelValues(transport).Inc()
	}

	msg, err := pss.Decode(buf, at)
	if err != nil {
		// 坏帧丢弃并计数，永不致命
		p.logger.Warn("Dropped malformed frame: %v", err)
		if p.metrics != nil {
			p.metrics.FramesMalformed.Inc()
		}
		return
	}

	p.enqMu.Lock()
	if p.stopped {
		p.enqMu.Unlock()
		return
	}
	p.seq++
	ev := p.classifier.Classify(msg, p.seq)

	// 击打样本在接入路径进入缓冲，新比赛加载时清零
	if ev.Kind == models.EventHitLevel {
		if athlete, ok := ev.DetailInt("athlete"); ok {
			if intensity, ok := ev.DetailInt("intensity"); ok {
				p.hits.RecordHit(models.Athlete(athlete), intensity, ev.OccurredAt)
			}
		}
	}
	if ResetsHitBuffer(ev.Kind) {
		p.hits.Reset()
	}

	p.enqueueLocked(ev)
	p.enqMu.Unlock()

	if p.metrics != nil {
		p.metrics.EventsClassified.WithLabelValues(string(ev.RecognitionStatus)).Inc()
		p.metrics.QueueDepth.Set(float64(len(p.queue)))
	}
	if p.stats != nil {
		p.stats.Record(string(ev.Kind))
	}
}

// enqueueLocked 有界入队：队列满时丢最旧的，绝不阻塞
func (p *Pipeline) enqueueLocked(ev *models.DomainEvent) {
	select {
	case p.queue <- ev:
		return
	default:
	}

	select {
	case <-p.queue:
		if p.metrics != nil {
			p.metrics.QueueDropped.Inc()
		}
	default:
	}

	select {
	case p.queue <- ev:
	default:
		// 消费者恰好清空后又被塞满，只可能在极端突发下发生
		if p.metrics != nil {
			p.metrics.QueueDropped.Inc()
		}
	}
}

// worker 下游处理循环，单消费者保证事件有序
func (p *Pipeline) worker() {
	defer p.wg.Done()

	for ev := range p.queue {
		p.process(ev)
		if p.metrics != nil {
			p.metrics.QueueDepth.Set(float64(len(p.queue)))
		}
	}
}

// process 单个事件的下游处理
func (p *Pipeline) process(ev *models.DomainEvent) {
	// 未知形状在这里落库，不在持有enqMu的接入路径上
	if ev.RecognitionStatus == models.StatusUnknown {
		p.classifier.RecordShape(ev)
	}

	// 得分事件带上最近的击打强度样本
	if ev.Kind == models.EventScore {
		if athlete, ok := ev.DetailInt("athlete"); ok {
			ev.RecentHits = p.hits.AttachRecent(models.Athlete(athlete), ev.OccurredAt)
		}
	}

	if flag := p.overrides.Check(ev); flag != nil {
		ev.Override = flag
		p.logger.Info("Manual override detected: kind=%s evidence=%q seq=%d",
			flag.Kind, flag.Evidence, ev.SequenceNumber)
		if p.metrics != nil {
			p.metrics.OverridesFlagged.WithLabelValues(string(flag.Kind)).Inc()
		}
	}

	ev.Replay = p.correlator.Correlate(ev)

	if id, err := p.persistWithRetry(ev); err != nil {
		p.spillToOverflow(ev, err)
	} else {
		ev.ID = id
	}

	if p.bridge != nil {
		p.bridge.Publish(ev)
	}
	if p.broadcaster != nil {
		p.broadcaster.Broadcast(ev)
	}
}

// persistWithRetry 有上限的指数退避重试
func (p *Pipeline) persistWithRetry(ev *models.DomainEvent) (int64, error) {
	var lastErr error
	backoff := p.baseBackoff

	for attempt := 0; attempt < p.retryCeiling; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
			if p.metrics != nil {
				p.metrics.PersistRetries.Inc()
			}
		}
		id, err := p.store.WriteEvent(ev)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

// spillToOverflow 重试耗尽后转入本地持久溢出文件
func (p *Pipeline) spillToOverflow(ev *models.DomainEvent, cause error) {
	p.logger.Error("Persistence failed for seq %d after %d attempts: %v, spooling",
		ev.SequenceNumber, p.retryCeiling, cause)
	if p.metrics != nil {
		p.metrics.PersistOverflow.Inc()
	}

	if p.spool == nil {
		p.logger.Error("No overflow spool configured, event seq %d lost", ev.SequenceNumber)
		if p.metrics != nil {
			p.metrics.EventsLost.Inc()
		}
		return
	}
	if err := p.spool.Append(ev); err != nil {
		// 仅对该事件致命，接入继续
		p.logger.Error("Overflow exhausted, event seq %d lost: %v", ev.SequenceNumber, err)
		if p.metrics != nil {
			p.metrics.EventsLost.Inc()
		}
	}
}

// ReplaySpool 启动时回放溢出文件中的滞留事件
func (p *Pipeline) ReplaySpool() {
	if p.spool == nil {
		return
	}
	events, err := p.spool.Drain()
	if err != nil {
		p.logger.Error("Failed to drain overflow spool: %v", err)
	}
	if len(events) == 0 {
		return
	}

	p.logger.Info("Replaying %d spooled events", len(events))
	for _, ev := range events {
		if _, err := p.persistWithRetry(ev); err != nil {
			p.spillToOverflow(ev, err)
		}
	}
}

// Stop 停止接入并在截止时间内排空队列
func (p *Pipeline) Stop(ctx context.Context) error {
	p.enqMu.Lock()
	if p.stopped {
		p.enqMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.enqMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("pipeline drain deadline exceeded")
	}
}
