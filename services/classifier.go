package services

import (
	"hash/fnv"
	"strconv"
	"strings"

	"pss-service/models"
	"pss-service/pkg/common"
	"pss-service/pss"
)

// opcodeKinds opcode到事件类型的静态映射表
var opcodeKinds = map[string]models.EventKind{
	pss.OpClock:       models.EventClock,
	pss.OpRound:       models.EventRound,
	pss.OpScoreBlue:   models.EventScore,
	pss.OpScoreRed:    models.EventScore,
	pss.OpHitBlue:     models.EventHitLevel,
	pss.OpHitRed:      models.EventHitLevel,
	pss.OpWarning:     models.EventWarning,
	pss.OpBreak:       models.EventBreak,
	pss.OpReady:       models.EventReady,
	pss.OpWinner:      models.EventWinner,
	pss.OpAthleteInfo: models.EventAthleteInfo,
	pss.OpMatchConfig: models.EventMatchConfig,
}

// fieldNames 每个opcode的有序字段名，校验规则按字段名定位原始值
var fieldNames = map[string][]string{
	pss.OpClock:       {"time", "action"},
	pss.OpRound:       {"round"},
	pss.OpScoreBlue:   {"score"},
	pss.OpScoreRed:    {"score"},
	pss.OpHitBlue:     {"intensity"},
	pss.OpHitRed:      {"intensity"},
	pss.OpWarning:     {"blue_warnings", "red_warnings"},
	pss.OpBreak:       {"round", "time", "phase"},
	pss.OpReady:       {"match_id"},
	pss.OpWinner:      {"athlete", "method"},
	pss.OpAthleteInfo: {"athlete", "name", "country", "wins"},
	pss.OpMatchConfig: {"match_id", "rounds", "round_seconds", "break_seconds"},
}

// UnknownShapeRecorder 未知报文形状的收集接口
type UnknownShapeRecorder interface {
	RecordUnknownShape(shapeHash int64, opcode string, fieldCount int, samplePayload string) error
}

// Classifier 事件分类器，把RawMessage映射为带校验结果的DomainEvent
type Classifier struct {
	protocolVersion string
	rules           *RuleSet
	shapes          UnknownShapeRecorder
	tournamentID    string
	tournamentDayID string
	streamID        string
	logger          common.Logger
}

// NewClassifier 创建分类器
func NewClassifier(protocolVersion string, rules *RuleSet, shapes UnknownShapeRecorder,
	tournamentID, tournamentDayID, streamID string) *Classifier {
	return &Classifier{
		protocolVersion: protocolVersion,
		rules:           rules,
		shapes:          shapes,
		tournamentID:    tournamentID,
		tournamentDayID: tournamentDayID,
		streamID:        streamID,
		logger:          common.NewLogger("Classifier"),
	}
}

// Classify 分类一条原始消息，解析失败只追加校验错误，永不丢弃
func (c *Classifier) Classify(msg *models.RawMessage, seq uint64) *models.DomainEvent {
	ev := &models.DomainEvent{
		Kind:            models.EventUnknown,
		SessionID:       c.streamID,
		SequenceNumber:  seq,
		OccurredAt:      msg.ReceivedAt,
		RawPayload:      msg.Raw,
		TournamentID:    c.tournamentID,
		TournamentDayID: c.tournamentDayID,
	}

	kind, known := opcodeKinds[msg.Opcode]
	if !known {
		ev.RecognitionStatus = models.StatusUnknown
		ev.AddDetail("opcode", msg.Opcode, "string")
		ev.AddDetail("field_count", strconv.Itoa(len(msg.Fields)), "int")
		return ev
	}

	ev.Kind = kind
	c.parseFields(ev, msg)
	c.applyRules(ev, msg)

	if len(ev.ValidationErrors) == 0 {
		ev.RecognitionStatus = models.StatusRecognized
	} else {
		ev.RecognitionStatus = models.StatusPartial
	}
	return ev
}

// parseFields 按事件类型解析字段到Details
func (c *Classifier) parseFields(ev *models.DomainEvent, msg *models.RawMessage) {
	f := msg.Fields
	switch msg.Opcode {
	case pss.OpClock:
		if _, err := pss.ParseClock(f[0]); err != nil {
			ev.AddValidationError("time", "format", err.Error())
		}
		ev.AddDetail("time", f[0], "duration")
		action := strings.ToLower(f[1])
		if action != "start" && action != "stop" && action != "corr" {
			ev.AddValidationError("action", "enum", "unknown clock action "+f[1])
		}
		ev.AddDetail("action", action, "enum")

	case pss.OpRound:
		if n, ok := c.parseInt(ev, "round", f[0]); ok {
			ev.RoundID = &n
		}

	case pss.OpScoreBlue, pss.OpScoreRed:
		athlete := athleteForOpcode(msg.Opcode)
		ev.AddDetail("athlete", strconv.Itoa(int(athlete)), "int")
		c.parseInt(ev, "score", f[0])

	case pss.OpHitBlue, pss.OpHitRed:
		athlete := athleteForOpcode(msg.Opcode)
		ev.AddDetail("athlete", strconv.Itoa(int(athlete)), "int")
		c.parseInt(ev, "intensity", f[0])

	case pss.OpWarning:
		c.parseInt(ev, "blue_warnings", f[0])
		c.parseInt(ev, "red_warnings", f[1])

	case pss.OpBreak:
		if n, ok := c.parseInt(ev, "round", f[0]); ok {
			ev.RoundID = &n
		}
		if _, err := pss.ParseClock(f[1]); err != nil {
			ev.AddValidationError("time", "format", err.Error())
		}
		ev.AddDetail("time", f[1], "duration")
		phase := strings.ToLower(f[2])
		if phase != "start" && phase != "end" {
			ev.AddValidationError("phase", "enum", "unknown break phase "+f[2])
		}
		ev.AddDetail("phase", phase, "enum")

	case pss.OpReady:
		matchID := f[0]
		ev.MatchID = &matchID
		ev.AddDetail("match_id", matchID, "string")

	case pss.OpWinner:
		c.parseInt(ev, "athlete", f[0])
		ev.AddDetail("method", f[1], "string")

	case pss.OpAthleteInfo:
		c.parseInt(ev, "athlete", f[0])
		ev.AddDetail("name", f[1], "string")
		ev.AddDetail("country", f[2], "string")
		c.parseInt(ev, "wins", f[3])

	case pss.OpMatchConfig:
		matchID := f[0]
		ev.MatchID = &matchID
		ev.AddDetail("match_id", matchID, "string")
		c.parseInt(ev, "rounds", f[1])
		c.parseInt(ev, "round_seconds", f[2])
		c.parseInt(ev, "break_seconds", f[3])
	}
}

// parseInt 解析整数字段，失败追加校验错误但仍记录原始值
func (c *Classifier) parseInt(ev *models.DomainEvent, key, raw string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		ev.AddValidationError(key, "format", "not an integer: "+raw)
		ev.AddDetail(key, raw, "string")
		return 0, false
	}
	ev.AddDetail(key, strconv.Itoa(n), "int")
	return n, true
}

// applyRules 执行所有命中的校验规则，失败只累积不阻断
func (c *Classifier) applyRules(ev *models.DomainEvent, msg *models.RawMessage) {
	names := fieldNames[msg.Opcode]
	for _, rule := range c.rules.For(msg.Opcode, c.protocolVersion) {
		idx := -1
		for i, name := range names {
			if name == rule.FieldName {
				idx = i
				break
			}
		}
		var value string
		if idx >= 0 && idx < len(msg.Fields) {
			value = strings.TrimSpace(msg.Fields[idx])
		}
		if detail, ok := evaluate(rule, value); !ok {
			ev.AddValidationError(rule.FieldName, string(rule.Constraint), detail)
		}
	}
}

// RecordShape 把未识别事件的报文形状写入收集器
// 落库在下游工作协程调用，接入路径只做分类，不做存储I/O
func (c *Classifier) RecordShape(ev *models.DomainEvent) {
	if c.shapes == nil || ev.RecognitionStatus != models.StatusUnknown {
		return
	}
	opcode := ev.Detail("opcode")
	fieldCount, _ := ev.DetailInt("field_count")
	hash := ShapeHash(opcode, fieldCount)
	if err := c.shapes.RecordUnknownShape(hash, opcode, fieldCount, ev.RawPayload); err != nil {
		c.logger.Error("Failed to record unknown shape %s/%d: %v", opcode, fieldCount, err)
	}
}

// ShapeHash 报文形状（opcode+字段数）的稳定哈希
func ShapeHash(opcode string, fieldCount int) int64 {
	h := fnv.New64a()
	h.Write([]byte(opcode))
	h.Write([]byte{';'})
	h.Write([]byte(strconv.Itoa(fieldCount)))
	return int64(h.Sum64())
}

func athleteForOpcode(opcode string) models.Athlete {
	if strings.HasSuffix(opcode, "1") {
		return models.AthleteBlue
	}
	return models.AthleteRed
}

// Describe 生成事件的人类可读描述，供分发消息使用
func Describe(ev *models.DomainEvent) string {
	switch ev.Kind {
	case models.EventClock:
		return "clock " + ev.Detail("action") + " at " + ev.Detail("time")
	case models.EventRound:
		return "round changed to " + ev.Detail("round")
	case models.EventScore:
		return athleteName(ev) + " score " + ev.Detail("score")
	case models.EventWarning:
		return "warnings blue=" + ev.Detail("blue_warnings") + " red=" + ev.Detail("red_warnings")
	case models.EventHitLevel:
		return athleteName(ev) + " hit level " + ev.Detail("intensity")
	case models.EventBreak:
		return "break " + ev.Detail("phase") + " (round " + ev.Detail("round") + ")"
	case models.EventReady:
		return "match " + ev.Detail("match_id") + " loaded"
	case models.EventWinner:
		return athleteName(ev) + " wins by " + ev.Detail("method")
	case models.EventAthleteInfo:
		return "athlete info: " + ev.Detail("name")
	case models.EventMatchConfig:
		return "match " + ev.Detail("match_id") + " configured"
	}
	return "unrecognized message " + firstToken(ev.RawPayload)
}

func athleteName(ev *models.DomainEvent) string {
	if n, ok := ev.DetailInt("athlete"); ok {
		return models.Athlete(n).String()
	}
	return "unknown"
}

func firstToken(raw string) string {
	if i := strings.Index(raw, pss.Separator); i >= 0 {
		return raw[:i]
	}
	return raw
}

// ResetsHitBuffer 判断事件是否触发击打缓冲清零（新比赛加载）
func ResetsHitBuffer(kind models.EventKind) bool {
	return kind == models.EventReady || kind == models.EventMatchConfig
}
