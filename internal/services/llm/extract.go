package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"reelhook/internal/jsonscan"
)

var (
	leadingFence  = regexp.MustCompile("^```(?:json)?")
	trailingFence = regexp.MustCompile("```$")
	objectSpan    = regexp.MustCompile(`(?s)\{.*\}`)
)

// ExtractText pulls the generated text out of a chat completion payload:
// choices[0].message.content, then choices[0].content, then output_text, then
// the first non-blank text or content value anywhere in the payload.
func ExtractText(payload any) string {
	if first := firstChoice(payload); first != nil {
		if value, ok := jsonscan.Path(first, "message", "content"); ok {
			if content, ok := jsonscan.String(value); ok {
				return strings.TrimSpace(content)
			}
		}
		if value, ok := jsonscan.Path(first, "content"); ok {
			if content, ok := jsonscan.String(value); ok {
				return strings.TrimSpace(content)
			}
		}
	}
	if value, ok := jsonscan.Path(payload, "output_text"); ok {
		if text, ok := jsonscan.String(value); ok {
			return strings.TrimSpace(text)
		}
	}
	return jsonscan.FindString(payload, "text", "content")
}

func firstChoice(payload any) *jsonscan.Fields {
	value, ok := jsonscan.Path(payload, "choices")
	if !ok {
		return nil
	}
	choices := jsonscan.Array(value)
	if len(choices) == 0 {
		return nil
	}
	return jsonscan.Object(choices[0])
}

// ExtractFirstJSONObject recovers one JSON object from free-form model output.
// A surrounding code fence is removed, the whole text is tried, and otherwise
// the widest {...} span is parsed.
func ExtractFirstJSONObject(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty llm output")
	}
	if strings.HasPrefix(text, "```") {
		text = strings.TrimSpace(leadingFence.ReplaceAllString(text, ""))
		text = strings.TrimSpace(trailingFence.ReplaceAllString(text, ""))
	}

	var whole any
	if err := json.Unmarshal([]byte(text), &whole); err == nil {
		if obj, ok := whole.(map[string]any); ok {
			return obj, nil
		}
	}

	span := objectSpan.FindString(text)
	if span == "" {
		return nil, errors.New("no json object found in llm output")
	}
	var parsed any
	if err := json.Unmarshal([]byte(span), &parsed); err != nil {
		return nil, fmt.Errorf("parse llm json (payload snippet: %s): %w", jsonscan.Snippet(span, 160), err)
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, errors.New("llm output json must be object")
	}
	return obj, nil
}
