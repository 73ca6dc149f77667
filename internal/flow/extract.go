// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package flow

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jeranaias/flowgate/internal/util"
)

// diagnosticPrefixLength bounds the envelope snippet in extraction
// diagnostics.
const diagnosticPrefixLength = 200

// extractRule is one projection attempt over the decoded envelope.
// It returns the reply and true when its position is populated.
type extractRule func(inner InnerOutput) (string, bool)

// extractRules are tried in order; the first populated position wins.
var extractRules = []extractRule{
	fromMessages,
	fromResultText,
	fromResultDataText,
}

// Extract projects a raw flow response envelope down to a single reply
// string. When no known position is populated, the whole envelope is
// returned pretty-printed so the user at least sees what came back.
func Extract(raw json.RawMessage) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			reply = fmt.Sprintf("Error extracting message: %v\nRaw response: %s",
				r, util.TruncateRunesNoEllipsis(string(raw), diagnosticPrefixLength))
		}
	}()

	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if inner, ok := firstInner(envelope); ok {
			for _, rule := range extractRules {
				if text, found := rule(inner); found {
					return text
				}
			}
		}
	}

	return prettyJSON(raw)
}

// firstInner walks to outputs[0].outputs[0], reporting false when either
// list is empty.
func firstInner(envelope Envelope) (InnerOutput, bool) {
	if len(envelope.Outputs) == 0 {
		return InnerOutput{}, false
	}
	outer := envelope.Outputs[0]
	if len(outer.Outputs) == 0 {
		return InnerOutput{}, false
	}
	return outer.Outputs[0], true
}

// fromMessages projects messages[0].message.
func fromMessages(inner InnerOutput) (string, bool) {
	if len(inner.Messages) == 0 {
		return "", false
	}
	return inner.Messages[0].Message, true
}

// fromResultText projects results.message.text.
func fromResultText(inner InnerOutput) (string, bool) {
	if inner.Results == nil || inner.Results.Message == nil || inner.Results.Message.Text == "" {
		return "", false
	}
	return inner.Results.Message.Text, true
}

// fromResultDataText projects results.message.data.text.
func fromResultDataText(inner InnerOutput) (string, bool) {
	if inner.Results == nil || inner.Results.Message == nil || inner.Results.Message.Data == nil {
		return "", false
	}
	if inner.Results.Message.Data.Text == "" {
		return "", false
	}
	return inner.Results.Message.Data.Text, true
}

// prettyJSON re-indents the raw envelope, falling back to the raw bytes when
// they cannot be indented.
func prettyJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
