package models

// ConstraintType 校验规则的约束类型
type ConstraintType string

const (
	ConstraintRange    ConstraintType = "range"
	ConstraintRegex    ConstraintType = "regex"
	ConstraintEnum     ConstraintType = "enum"
	ConstraintRequired ConstraintType = "required"
)

// ValidationRule 按 opcode 和协议版本生效的字段校验规则
// 同一字段可以匹配多条规则
type ValidationRule struct {
	Opcode          string         `json:"opcode"`
	FieldName       string         `json:"field_name"`
	Constraint      ConstraintType `json:"constraint"`
	ProtocolVersion string         `json:"protocol_version"`

	// range 约束参数
	Min int `json:"min,omitempty"`
	Max int `json:"max,omitempty"`

	// regex 约束参数
	Pattern string `json:"pattern,omitempty"`

	// enum 约束参数
	Allowed []string `json:"allowed,omitempty"`
}
