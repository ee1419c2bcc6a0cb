package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Stop is the OpenAI stop parameter: a single string or a list of strings.
type Stop []string

func (s *Stop) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = nil
		return nil
	case len(b) > 0 && b[0] == '"':
		var one string
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*s = Stop{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("stop must be a string or an array of strings")
	}
	*s = many
	return nil
}

// chatRequestFields are the keys decoded into ChatCompletionRequest fields.
var chatRequestFields = map[string]bool{
	"model": true, "messages": true, "stream": true, "max_tokens": true,
	"temperature": true, "top_p": true, "frequency_penalty": true,
	"presence_penalty": true, "stop": true, "seed": true, "n": true, "user": true,
}

// chatCompletionRequest drops the methods to avoid recursion.
type chatCompletionRequest ChatCompletionRequest

func (r *ChatCompletionRequest) UnmarshalJSON(b []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	var known chatCompletionRequest
	if err := json.Unmarshal(b, &known); err != nil {
		return err
	}
	*r = ChatCompletionRequest(known)
	r.Extra = extraFields(all, chatRequestFields)
	return nil
}

func (r ChatCompletionRequest) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(chatCompletionRequest(r))
	if err != nil || len(r.Extra) == 0 {
		return b, err
	}
	return mergeExtra(b, r.Extra, chatRequestFields)
}

func (m *ChatMessage) UnmarshalJSON(b []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	var out ChatMessage
	if raw, ok := all["role"]; ok {
		if err := json.Unmarshal(raw, &out.Role); err != nil {
			return fmt.Errorf("role: %w", err)
		}
	}
	if raw, ok := all["content"]; ok {
		raw = bytes.TrimSpace(raw)
		switch {
		case bytes.Equal(raw, []byte("null")):
			out.Parts = json.RawMessage("null")
		case len(raw) > 0 && raw[0] == '[':
			text, err := textParts(raw)
			if err != nil {
				return err
			}
			out.Content, out.Parts = text, append(json.RawMessage(nil), raw...)
		default:
			if err := json.Unmarshal(raw, &out.Content); err != nil {
				return fmt.Errorf("content must be a string or an array of parts")
			}
		}
	}
	out.Extra = extraFields(all, map[string]bool{"role": true, "content": true})
	*m = out
	return nil
}

func (m ChatMessage) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+2)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["role"] = m.Role
	if m.Parts != nil {
		out["content"] = m.Parts
	} else {
		out["content"] = m.Content
	}
	return json.Marshal(out)
}

// textParts concatenates the text of an OpenAI content-part array.
func textParts(raw json.RawMessage) (string, error) {
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("content parts: %w", err)
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String(), nil
}

func extraFields(all map[string]json.RawMessage, known map[string]bool) map[string]json.RawMessage {
	var extra map[string]json.RawMessage
	for k, v := range all {
		if known[k] {
			continue
		}
		if extra == nil {
			extra = map[string]json.RawMessage{}
		}
		extra[k] = v
	}
	return extra
}

// mergeExtra adds extra keys to the JSON object b. Keys owned by typed
// fields are never overwritten.
func mergeExtra(b []byte, extra map[string]json.RawMessage, known map[string]bool) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if known[k] {
			continue
		}
		if _, ok := obj[k]; !ok {
			obj[k] = v
		}
	}
	return json.Marshal(obj)
}
