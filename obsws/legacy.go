package obsws

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// encodeLegacyRequest builds a flat {request-type, message-id, params...} frame.
func encodeLegacyRequest(name, id string, params map[string]interface{}) ([]byte, error) {
	frame := map[string]interface{}{
		"request-type": name,
		"message-id":   id,
	}
	for k, v := range params {
		frame[k] = v
	}
	return json.Marshal(frame)
}

// decodeLegacyFrame classifies an inbound legacy frame as a response (carries
// message-id) or an event (carries update-type).
func decodeLegacyFrame(data []byte) (*response, *StateEvent, error) {
	var head struct {
		MessageID  string `json:"message-id"`
		Status     string `json:"status"`
		Error      string `json:"error"`
		UpdateType string `json:"update-type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, nil, fmt.Errorf("malformed legacy frame: %w", err)
	}

	if head.MessageID != "" {
		return &response{
			ID:     head.MessageID,
			OK:     head.Status != "error",
			ErrMsg: head.Error,
			Data:   json.RawMessage(data),
		}, nil, nil
	}

	if head.UpdateType != "" {
		return nil, legacyStateEvent(head.UpdateType), nil
	}
	return nil, nil, nil
}

// legacyStateEvent normalizes legacy update-types into state events.
// Unrelated update-types yield nil.
func legacyStateEvent(updateType string) *StateEvent {
	now := time.Now()
	switch updateType {
	case "RecordingStarted":
		return &StateEvent{Output: OutputRecording, Active: true, At: now}
	case "RecordingStopped":
		return &StateEvent{Output: OutputRecording, Active: false, At: now}
	case "StreamStarted":
		return &StateEvent{Output: OutputStreaming, Active: true, At: now}
	case "StreamStopped":
		return &StateEvent{Output: OutputStreaming, Active: false, At: now}
	case "ReplayStarted":
		return &StateEvent{Output: OutputReplayBuffer, Active: true, At: now}
	case "ReplayStopped":
		return &StateEvent{Output: OutputReplayBuffer, Active: false, At: now}
	}
	return nil
}

// legacyAuthResponse computes the challenge response for the legacy handshake:
// secret = base64(sha256(password + salt))
// auth   = base64(sha256(secret + challenge))
func legacyAuthResponse(password, salt, challenge string) string {
	secretHash := sha256.Sum256([]byte(password + salt))
	secret := base64.StdEncoding.EncodeToString(secretHash[:])
	authHash := sha256.Sum256([]byte(secret + challenge))
	return base64.StdEncoding.EncodeToString(authHash[:])
}

// legacySceneNames extracts scene names from a GetSceneList response.
func legacySceneNames(data json.RawMessage) []string {
	var body struct {
		Scenes []struct {
			Name string `json:"name"`
		} `json:"scenes"`
		CurrentScene string `json:"current-scene"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil
	}
	names := make([]string, 0, len(body.Scenes))
	for _, s := range body.Scenes {
		names = append(names, s.Name)
	}
	return names
}

// legacyCurrentScene extracts the scene name from a GetCurrentScene response.
func legacyCurrentScene(data json.RawMessage) string {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.Name
}

// legacyRecordingState extracts the recording flags from GetRecordingStatus.
func legacyRecordingState(data json.RawMessage) RecordingState {
	var body struct {
		IsRecording       bool   `json:"isRecording"`
		IsRecordingPaused bool   `json:"isRecordingPaused"`
		RecordTimecode    string `json:"recordTimecode"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return RecordingState{}
	}
	return RecordingState{
		Active:   body.IsRecording,
		Paused:   body.IsRecordingPaused,
		Timecode: strings.TrimSpace(body.RecordTimecode),
	}
}
