package push

import "encoding/json"

// FrameType tags an outbound unit of data. On the wire every frame is a
// single JSON object with one top-level key equal to the tag, mapping to
// the frame's payload.
type FrameType string

const (
	FrameCurrent               FrameType = "current"
	FrameHistory               FrameType = "history"
	FrameUpdateTrigger         FrameType = "updateTrigger"
	FrameFeedbackCommandOutput FrameType = "feedbackCommandOutput"
	FrameTimelapse             FrameType = "timelapse"
)

// UpdateTriggerPayload names the event that should make the client refresh,
// with an optional event payload.
type UpdateTriggerPayload struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// FeedbackCommandPayload carries the output of a named feedback command.
type FeedbackCommandPayload struct {
	Name   string `json:"name"`
	Output string `json:"output"`
}

// encodeFrame wraps payload in the single-key envelope.
func encodeFrame(frame FrameType, payload any) ([]byte, error) {
	return json.Marshal(map[string]any{string(frame): payload})
}
