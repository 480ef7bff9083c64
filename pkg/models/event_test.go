package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDoneFrameCarriesMandatoryFields(t *testing.T) {
	data, err := json.Marshal(DoneEvent("", 1, nil))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, want := range []string{`"answer":""`, `"iterations":1`, `"tool_calls":[]`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("done frame %s missing %s", data, want)
		}
	}
}

func TestOtherFramesElideEmptyFields(t *testing.T) {
	data, err := json.Marshal(AgentEvent{Type: EventThinking, Message: "checking"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, banned := range []string{`"answer"`, `"iterations"`, `"tool_calls"`} {
		if strings.Contains(string(data), banned) {
			t.Errorf("thinking frame %s carries %s", data, banned)
		}
	}
}
