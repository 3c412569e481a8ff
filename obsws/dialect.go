// Package obsws implements the control protocol for recording/streaming
// backends. Two incompatible JSON-over-WebSocket dialects are supported behind
// one client: a flat request/response protocol (legacy) and an enveloped
// opcode protocol (modern). Callers never see the dialect.
package obsws

import (
	"encoding/json"
	"fmt"
)

// Dialect identifies the wire protocol variant spoken by a backend.
type Dialect int

const (
	// DialectLegacy is the flat {request-type, message-id} protocol.
	DialectLegacy Dialect = iota + 1

	// DialectModern is the enveloped {op, d} protocol.
	DialectModern
)

// ParseDialect parses a configured dialect name.
func ParseDialect(s string) (Dialect, error) {
	switch s {
	case "legacy":
		return DialectLegacy, nil
	case "modern":
		return DialectModern, nil
	}
	return 0, fmt.Errorf("unknown dialect %q", s)
}

func (d Dialect) String() string {
	switch d {
	case DialectLegacy:
		return "legacy"
	case DialectModern:
		return "modern"
	}
	return "unknown"
}

// Op is the dialect-independent operation set.
type Op int

const (
	OpGetCurrentScene Op = iota
	OpSetCurrentScene
	OpListScenes
	OpStartRecording
	OpStopRecording
	OpGetRecordingState
	OpStartReplayBuffer
	OpStopReplayBuffer
	OpSaveReplayBuffer
)

// requestNames maps each operation to its request name per dialect.
// The set is closed: adding an Op without a row here fails at encode time.
var requestNames = map[Op][2]string{
	//                  legacy                modern
	OpGetCurrentScene:   {"GetCurrentScene", "GetCurrentProgramScene"},
	OpSetCurrentScene:   {"SetCurrentScene", "SetCurrentProgramScene"},
	OpListScenes:        {"GetSceneList", "GetSceneList"},
	OpStartRecording:    {"StartRecording", "StartRecord"},
	OpStopRecording:     {"StopRecording", "StopRecord"},
	OpGetRecordingState: {"GetRecordingStatus", "GetRecordStatus"},
	OpStartReplayBuffer: {"StartReplayBuffer", "StartReplayBuffer"},
	OpStopReplayBuffer:  {"StopReplayBuffer", "StopReplayBuffer"},
	OpSaveReplayBuffer:  {"SaveReplayBuffer", "SaveReplayBuffer"},
}

// requestName resolves the wire request name for an operation.
func requestName(d Dialect, op Op) (string, error) {
	row, ok := requestNames[op]
	if !ok {
		return "", fmt.Errorf("operation %d has no request name", op)
	}
	switch d {
	case DialectLegacy:
		return row[0], nil
	case DialectModern:
		return row[1], nil
	}
	return "", fmt.Errorf("unknown dialect %d", d)
}

// response is the dialect-normalized reply to one request.
type response struct {
	ID     string
	OK     bool
	ErrMsg string
	Data   json.RawMessage
}

// encodeRequest builds the wire frame for one operation.
func encodeRequest(d Dialect, op Op, id string, params map[string]interface{}) ([]byte, error) {
	name, err := requestName(d, op)
	if err != nil {
		return nil, err
	}
	switch d {
	case DialectLegacy:
		return encodeLegacyRequest(name, id, params)
	case DialectModern:
		return encodeModernRequest(name, id, params)
	}
	return nil, fmt.Errorf("unknown dialect %d", d)
}
