package obsws

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Modern dialect envelope opcodes.
const (
	modernOpHello           = 0
	modernOpIdentify        = 1
	modernOpIdentified      = 2
	modernOpEvent           = 5
	modernOpRequest         = 6
	modernOpRequestResponse = 7
)

// modernEnvelope is the {op, d} wrapper on every modern-dialect frame.
type modernEnvelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

// encodeModernRequest wraps a request in the {op:6, d:{...}} envelope.
func encodeModernRequest(name, id string, params map[string]interface{}) ([]byte, error) {
	d := map[string]interface{}{
		"requestType": name,
		"requestId":   id,
	}
	if len(params) > 0 {
		d["requestData"] = params
	}
	return json.Marshal(map[string]interface{}{"op": modernOpRequest, "d": d})
}

// encodeModernIdentify builds the {op:1} identify frame, with authentication
// when the server's hello carried a challenge.
func encodeModernIdentify(authentication string) ([]byte, error) {
	d := map[string]interface{}{"rpcVersion": 1}
	if authentication != "" {
		d["authentication"] = authentication
	}
	return json.Marshal(map[string]interface{}{"op": modernOpIdentify, "d": d})
}

// modernHello is the payload of the server's {op:0} frame.
type modernHello struct {
	Authentication *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

// modernAuthResponse computes the identify authentication string:
// secret = base64(sha256(password + salt))
// auth   = base64(sha256(secret + challenge))
func modernAuthResponse(password, salt, challenge string) string {
	secretHash := sha256.Sum256([]byte(password + salt))
	secret := base64.StdEncoding.EncodeToString(secretHash[:])
	authHash := sha256.Sum256([]byte(secret + challenge))
	return base64.StdEncoding.EncodeToString(authHash[:])
}

// decodeModernFrame classifies an inbound modern frame as a response or a
// normalized state event. Other opcodes yield (nil, nil, nil).
func decodeModernFrame(data []byte) (*response, *StateEvent, error) {
	var env modernEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("malformed modern frame: %w", err)
	}

	switch env.Op {
	case modernOpRequestResponse:
		var body struct {
			RequestID     string `json:"requestId"`
			RequestStatus struct {
				Result  bool   `json:"result"`
				Comment string `json:"comment"`
			} `json:"requestStatus"`
			ResponseData json.RawMessage `json:"responseData"`
		}
		if err := json.Unmarshal(env.D, &body); err != nil {
			return nil, nil, fmt.Errorf("malformed modern response: %w", err)
		}
		return &response{
			ID:     body.RequestID,
			OK:     body.RequestStatus.Result,
			ErrMsg: body.RequestStatus.Comment,
			Data:   body.ResponseData,
		}, nil, nil

	case modernOpEvent:
		var body struct {
			EventType string          `json:"eventType"`
			EventData json.RawMessage `json:"eventData"`
		}
		if err := json.Unmarshal(env.D, &body); err != nil {
			return nil, nil, fmt.Errorf("malformed modern event: %w", err)
		}
		return nil, modernStateEvent(body.EventType, body.EventData), nil
	}
	return nil, nil, nil
}

// modernStateEvent normalizes *StateChanged events. Unrelated events yield nil.
func modernStateEvent(eventType string, eventData json.RawMessage) *StateEvent {
	var output OutputKind
	switch eventType {
	case "RecordStateChanged":
		output = OutputRecording
	case "StreamStateChanged":
		output = OutputStreaming
	case "ReplayBufferStateChanged":
		output = OutputReplayBuffer
	default:
		return nil
	}

	var body struct {
		OutputActive bool `json:"outputActive"`
	}
	if err := json.Unmarshal(eventData, &body); err != nil {
		return nil
	}
	return &StateEvent{Output: output, Active: body.OutputActive, At: time.Now()}
}

// modernSceneNames extracts scene names from a GetSceneList response.
func modernSceneNames(data json.RawMessage) []string {
	var body struct {
		Scenes []struct {
			SceneName string `json:"sceneName"`
		} `json:"scenes"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil
	}
	names := make([]string, 0, len(body.Scenes))
	for _, s := range body.Scenes {
		names = append(names, s.SceneName)
	}
	return names
}

// modernCurrentScene extracts the scene name from GetCurrentProgramScene.
func modernCurrentScene(data json.RawMessage) string {
	var body struct {
		CurrentProgramSceneName string `json:"currentProgramSceneName"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.CurrentProgramSceneName
}

// modernRecordingState extracts the recording flags from GetRecordStatus.
func modernRecordingState(data json.RawMessage) RecordingState {
	var body struct {
		OutputActive   bool   `json:"outputActive"`
		OutputPaused   bool   `json:"outputPaused"`
		OutputTimecode string `json:"outputTimecode"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return RecordingState{}
	}
	return RecordingState{
		Active:   body.OutputActive,
		Paused:   body.OutputPaused,
		Timecode: body.OutputTimecode,
	}
}
