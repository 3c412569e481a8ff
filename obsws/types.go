package obsws

import "time"

// OutputKind identifies which backend output a state event refers to.
type OutputKind string

const (
	OutputRecording    OutputKind = "recording"
	OutputStreaming    OutputKind = "streaming"
	OutputReplayBuffer OutputKind = "replay_buffer"
)

// StateEvent is the dialect-normalized output state change. Both dialects
// reduce their recording/streaming/replay notifications to this one shape.
type StateEvent struct {
	Output OutputKind
	Active bool
	At     time.Time
}

// RecordingState is the dialect-normalized reply to a recording state query.
type RecordingState struct {
	Active   bool   `json:"active"`
	Paused   bool   `json:"paused"`
	Timecode string `json:"timecode"`
}
