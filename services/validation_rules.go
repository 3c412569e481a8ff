package services

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"pss-service/models"
	"pss-service/pss"
)

// RuleSet 按 (opcode, 协议版本) 索引的校验规则集
type RuleSet struct {
	rules []models.ValidationRule
}

// NewRuleSet 创建规则集
func NewRuleSet(rules []models.ValidationRule) *RuleSet {
	return &RuleSet{rules: rules}
}

// LoadRuleSet 从JSON文件加载规则集，path为空时使用内置规则
func LoadRuleSet(path string) (*RuleSet, error) {
	if path == "" {
		return NewRuleSet(DefaultRules()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var rules []models.ValidationRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	return NewRuleSet(rules), nil
}

// For 返回命中opcode和协议版本的全部规则，同一字段可命中多条
func (s *RuleSet) For(opcode, protocolVersion string) []models.ValidationRule {
	var matched []models.ValidationRule
	for _, r := range s.rules {
		if r.Opcode != opcode {
			continue
		}
		if r.ProtocolVersion != "" && r.ProtocolVersion != protocolVersion {
			continue
		}
		matched = append(matched, r)
	}
	return matched
}

// evaluate 执行单条规则，返回失败描述
func evaluate(rule models.ValidationRule, value string) (string, bool) {
	switch rule.Constraint {
	case models.ConstraintRequired:
		if value == "" {
			return "field is required", false
		}

	case models.ConstraintRange:
		if value == "" {
			return "", true // required 规则单独处理空值
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return "not an integer: " + value, false
		}
		if n < rule.Min || n > rule.Max {
			return fmt.Sprintf("value %d outside [%d, %d]", n, rule.Min, rule.Max), false
		}

	case models.ConstraintRegex:
		if value == "" {
			return "", true
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return "invalid pattern " + rule.Pattern, false
		}
		if !re.MatchString(value) {
			return fmt.Sprintf("value %q does not match %s", value, rule.Pattern), false
		}

	case models.ConstraintEnum:
		if value == "" {
			return "", true
		}
		for _, a := range rule.Allowed {
			if value == a {
				return "", true
			}
		}
		return fmt.Sprintf("value %q not in allowed set", value), false
	}
	return "", true
}

// DefaultRules 内置规则集（协议1.0）
func DefaultRules() []models.ValidationRule {
	return []models.ValidationRule{
		{Opcode: pss.OpClock, FieldName: "time", Constraint: models.ConstraintRegex, Pattern: `^\d{1,2}:\d{2}$`},
		{Opcode: pss.OpClock, FieldName: "action", Constraint: models.ConstraintEnum, Allowed: []string{"start", "stop", "corr"}},
		{Opcode: pss.OpRound, FieldName: "round", Constraint: models.ConstraintRequired},
		{Opcode: pss.OpRound, FieldName: "round", Constraint: models.ConstraintRange, Min: 0, Max: 9},
		{Opcode: pss.OpScoreBlue, FieldName: "score", Constraint: models.ConstraintRange, Min: 0, Max: 99},
		{Opcode: pss.OpScoreRed, FieldName: "score", Constraint: models.ConstraintRange, Min: 0, Max: 99},
		{Opcode: pss.OpHitBlue, FieldName: "intensity", Constraint: models.ConstraintRange, Min: 0, Max: 100},
		{Opcode: pss.OpHitRed, FieldName: "intensity", Constraint: models.ConstraintRange, Min: 0, Max: 100},
		{Opcode: pss.OpWarning, FieldName: "blue_warnings", Constraint: models.ConstraintRange, Min: 0, Max: 20},
		{Opcode: pss.OpWarning, FieldName: "red_warnings", Constraint: models.ConstraintRange, Min: 0, Max: 20},
		{Opcode: pss.OpBreak, FieldName: "phase", Constraint: models.ConstraintEnum, Allowed: []string{"start", "end"}},
		{Opcode: pss.OpBreak, FieldName: "time", Constraint: models.ConstraintRegex, Pattern: `^\d{1,2}:\d{2}$`},
		{Opcode: pss.OpReady, FieldName: "match_id", Constraint: models.ConstraintRequired},
		{Opcode: pss.OpWinner, FieldName: "athlete", Constraint: models.ConstraintEnum, Allowed: []string{"1", "2"}},
		{Opcode: pss.OpMatchConfig, FieldName: "match_id", Constraint: models.ConstraintRequired},
		{Opcode: pss.OpMatchConfig, FieldName: "rounds", Constraint: models.ConstraintRange, Min: 1, Max: 9},
		{Opcode: pss.OpMatchConfig, FieldName: "round_seconds", Constraint: models.ConstraintRange, Min: 10, Max: 600},
		{Opcode: pss.OpMatchConfig, FieldName: "break_seconds", Constraint: models.ConstraintRange, Min: 0, Max: 600},
	}
}
