package executor

import (
	"encoding/json"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// InboundMessage is the structured content pulled out of an inbound A2A
// payload. Fields other than Text may be empty; the executor generates ids
// for whatever the caller did not supply.
type InboundMessage struct {
	Text      string
	ContextID string
	TaskID    string
	MessageID string
	Role      string
}

// envelopeSchema describes the A2A message envelope shape. Payloads that do
// not validate are not rejected; extraction degrades to the flat-key
// fallbacks below.
const envelopeSchema = `{
	"type": "object",
	"properties": {
		"message": {
			"type": "object",
			"properties": {
				"parts": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"kind": {"type": "string"},
							"text": {"type": "string"}
						}
					}
				},
				"messageId": {"type": "string"},
				"contextId": {"type": "string"},
				"taskId": {"type": "string"},
				"role": {"type": "string"}
			},
			"required": ["parts"]
		}
	},
	"required": ["message"]
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
)

func envelopeValid(envelope map[string]any) bool {
	schemaOnce.Do(func() {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(envelopeSchema))
		if err != nil {
			return
		}
		schema = compiled
	})
	if schema == nil {
		return false
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return false
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return false
	}
	return result.Valid()
}

// Extract pulls the message text and ids out of an A2A-shaped payload. It
// accepts the message object at the top level, under "message", or under the
// JSON-RPC "params.message" nesting, and never fails: a payload with no
// recognizable message yields a zero-text result the caller rejects.
func Extract(payload map[string]any) InboundMessage {
	envelope := normalize(payload)

	var in InboundMessage
	if envelopeValid(envelope) {
		msg := mapValue(envelope, "message")
		in.Text = textFromParts(msg["parts"])
		in.MessageID = stringValue(msg, "messageId", "message_id")
		in.Role = stringValue(msg, "role")
		in.ContextID = stringValue(msg, "contextId", "context_id")
		in.TaskID = stringValue(msg, "taskId", "task_id")
	}

	if in.Text == "" {
		for _, key := range []string{"text", "content", "query", "input"} {
			if s, ok := envelope[key].(string); ok && s != "" {
				in.Text = s
				break
			}
		}
	}
	if in.ContextID == "" {
		in.ContextID = firstString(envelope, payload, "contextId", "context_id")
	}
	if in.TaskID == "" {
		in.TaskID = firstString(envelope, payload, "taskId", "task_id")
	}
	return in
}

// normalize resolves the envelope that actually holds the message object:
// the payload itself, or its JSON-RPC "params" member.
func normalize(payload map[string]any) map[string]any {
	if mapValue(payload, "message") != nil {
		return payload
	}
	if params := mapValue(payload, "params"); params != nil && mapValue(params, "message") != nil {
		return params
	}
	return payload
}

// textFromParts concatenates the text of every part whose kind is "text".
// Parts with no kind but a text field count as text parts.
func textFromParts(parts any) string {
	list, ok := parts.([]any)
	if !ok {
		return ""
	}

	var out string
	for _, item := range list {
		part, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if kind, ok := part["kind"].(string); ok && kind != "text" {
			continue
		}
		if text, ok := part["text"].(string); ok {
			out += text
		}
	}
	return out
}

func mapValue(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func stringValue(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstString(primary, secondary map[string]any, keys ...string) string {
	if s := stringValue(primary, keys...); s != "" {
		return s
	}
	return stringValue(secondary, keys...)
}
