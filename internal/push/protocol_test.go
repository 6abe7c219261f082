package push

import (
	"encoding/json"
	"testing"
)

func TestEncodeFrameSingleKeyEnvelope(t *testing.T) {
	data, err := encodeFrame(FrameHistory, map[string]any{"temperatures": []int{1, 2}})
	if err != nil {
		t.Fatal(err)
	}

	var frame map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatal(err)
	}
	if len(frame) != 1 {
		t.Fatalf("envelope has %d keys, want 1", len(frame))
	}
	if _, ok := frame["history"]; !ok {
		t.Fatalf("envelope key missing, got %s", data)
	}
}

func TestUpdateTriggerNullPayloadEncoded(t *testing.T) {
	data, err := encodeFrame(FrameUpdateTrigger, UpdateTriggerPayload{Type: "timelapseFiles"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"updateTrigger":{"type":"timelapseFiles","payload":null}}`
	if string(data) != want {
		t.Errorf("encoded frame = %s, want %s", data, want)
	}
}
