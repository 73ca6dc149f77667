// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package flow

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestExtract_FromMessages(t *testing.T) {
	raw := `{"outputs":[{"outputs":[{"messages":[{"message":"Games Workshop is a UK miniatures company."}]}]}]}`
	got := Extract(json.RawMessage(raw))
	want := "Games Workshop is a UK miniatures company."
	if got != want {
		t.Errorf("Extract = %q, want %q", got, want)
	}
}

func TestExtract_FromResultText(t *testing.T) {
	raw := `{"outputs":[{"outputs":[{"results":{"message":{"text":"reply via results.text"}}}]}]}`
	if got := Extract(json.RawMessage(raw)); got != "reply via results.text" {
		t.Errorf("Extract = %q", got)
	}
}

func TestExtract_FromResultDataText(t *testing.T) {
	raw := `{"outputs":[{"outputs":[{"results":{"message":{"data":{"text":"reply via data.text"}}}}]}]}`
	if got := Extract(json.RawMessage(raw)); got != "reply via data.text" {
		t.Errorf("Extract = %q", got)
	}
}

func TestExtract_MessagesWinOverResults(t *testing.T) {
	raw := `{"outputs":[{"outputs":[{
		"messages":[{"message":"from messages"}],
		"results":{"message":{"text":"from results"}}
	}]}]}`
	if got := Extract(json.RawMessage(raw)); got != "from messages" {
		t.Errorf("Extract = %q, want the messages projection to win", got)
	}
}

func TestExtract_EmptyListsFallThrough(t *testing.T) {
	raw := `{"outputs":[{"outputs":[{
		"messages":[],
		"results":{"message":{"text":"fallback to results"}}
	}]}]}`
	if got := Extract(json.RawMessage(raw)); got != "fallback to results" {
		t.Errorf("Extract = %q", got)
	}
}

func TestExtract_UnknownShapeFallsBackToPrettyJSON(t *testing.T) {
	raw := `{"status":"ok","detail":{"code":7}}`
	got := Extract(json.RawMessage(raw))

	// The fallback is the pretty-printed envelope.
	if !strings.Contains(got, `"status": "ok"`) || !strings.Contains(got, `"code": 7`) {
		t.Errorf("fallback output missing envelope content:\n%s", got)
	}

	var roundTrip map[string]any
	if err := json.Unmarshal([]byte(got), &roundTrip); err != nil {
		t.Errorf("fallback output is not valid JSON: %v", err)
	}
}

func TestExtract_EmptyOutputsFallsBack(t *testing.T) {
	for _, raw := range []string{`{"outputs":[]}`, `{"outputs":[{"outputs":[]}]}`, `{}`} {
		got := Extract(json.RawMessage(raw))
		if got == "" {
			t.Errorf("Extract(%s) returned empty string", raw)
		}
	}
}
