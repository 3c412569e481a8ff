// Package pss implements the scoring-device wire protocol: UTF-8 text frames
// with ';'-separated fields, the first field being the opcode token.
package pss

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"pss-service/models"
	"pss-service/pkg/common"
)

// Field separator used by the scoring device.
const Separator = ";"

// Known opcodes.
const (
	OpClock       = "clk"
	OpRound       = "rnd"
	OpScoreBlue   = "pt1"
	OpScoreRed    = "pt2"
	OpHitBlue     = "hl1"
	OpHitRed      = "hl2"
	OpWarning     = "wng"
	OpBreak       = "brk"
	OpReady       = "rdy"
	OpWinner      = "win"
	OpAthleteInfo = "ath"
	OpMatchConfig = "cfg"
)

// arity is the fixed field count (after the opcode) per known opcode.
// Unknown opcodes accept any number of trailing fields.
var arity = map[string]int{
	OpClock:       2, // mm:ss, action
	OpRound:       1, // round number
	OpScoreBlue:   1, // absolute score
	OpScoreRed:    1, // absolute score
	OpHitBlue:     1, // intensity
	OpHitRed:      1, // intensity
	OpWarning:     2, // blue count, red count
	OpBreak:       3, // round, mm:ss, phase
	OpReady:       1, // match id
	OpWinner:      2, // athlete, method
	OpAthleteInfo: 4, // athlete, name, country, wins
	OpMatchConfig: 4, // match id, rounds, round seconds, break seconds
}

// Known reports whether the opcode has a fixed arity in the protocol table.
func Known(opcode string) bool {
	_, ok := arity[opcode]
	return ok
}

// Arity returns the fixed field count for a known opcode.
func Arity(opcode string) (int, bool) {
	n, ok := arity[opcode]
	return n, ok
}

// Decode turns a raw datagram buffer into a RawMessage. It is a pure function
// of its input: no state is retained across calls. Unknown opcodes decode
// successfully with an opaque field list; malformed frames (empty, invalid
// UTF-8, arity violation for a known opcode) fail with ErrMalformedFrame.
func Decode(buf []byte, at time.Time) (*models.RawMessage, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty frame", common.ErrMalformedFrame)
	}
	if !utf8.Valid(buf) {
		return nil, fmt.Errorf("%w: invalid UTF-8 payload", common.ErrMalformedFrame)
	}

	raw := strings.TrimRight(string(buf), "\r\n\x00")
	if raw == "" {
		return nil, fmt.Errorf("%w: blank frame", common.ErrMalformedFrame)
	}

	parts := strings.Split(raw, Separator)
	opcode := strings.TrimSpace(parts[0])
	if opcode == "" {
		return nil, fmt.Errorf("%w: missing opcode token", common.ErrMalformedFrame)
	}

	fields := parts[1:]
	if want, ok := arity[opcode]; ok && len(fields) != want {
		return nil, fmt.Errorf("%w: opcode %q expects %d fields, got %d",
			common.ErrMalformedFrame, opcode, want, len(fields))
	}

	return &models.RawMessage{
		Opcode:     opcode,
		Fields:     fields,
		Raw:        raw,
		ReceivedAt: at,
	}, nil
}

// ParseClock parses a mm:ss clock value into a duration.
func ParseClock(v string) (time.Duration, error) {
	var min, sec int
	if _, err := fmt.Sscanf(v, "%d:%d", &min, &sec); err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", v, err)
	}
	if sec < 0 || sec > 59 || min < 0 {
		return 0, fmt.Errorf("clock value %q out of range", v)
	}
	return time.Duration(min)*time.Minute + time.Duration(sec)*time.Second, nil
}
