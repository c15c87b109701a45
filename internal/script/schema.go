package script

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"reelhook/internal/services"
)

// RequiredFields lists the keys every hook script must carry.
var RequiredFields = []string{
	"hook_title",
	"visual_prompt",
	"shot_list",
	"narration",
	"style_tags",
	"safety_notes",
}

var textFields = []string{"hook_title", "visual_prompt", "narration", "safety_notes"}

// Script is a validated hook script. Raw keeps the payload as generated,
// including keys beyond the required set.
type Script struct {
	HookTitle    string
	VisualPrompt string
	ShotList     []string
	Narration    string
	StyleTags    []string
	SafetyNotes  string
	Raw          map[string]any
}

// ValidatePayload checks payload against the hook script schema. Missing keys
// are reported together; otherwise the first malformed field is reported.
func ValidatePayload(payload map[string]any) (Script, error) {
	var missing []string
	for _, key := range RequiredFields {
		if _, ok := payload[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return Script{}, &services.SchemaError{
			Fields:  missing,
			Message: "missing fields: " + strings.Join(missing, ", "),
		}
	}

	shots, ok := payload["shot_list"].([]any)
	if !ok {
		return Script{}, schemaErr("shot_list", "shot_list must be an array")
	}
	tags, ok := payload["style_tags"].([]any)
	if !ok {
		return Script{}, schemaErr("style_tags", "style_tags must be an array")
	}
	text := make(map[string]string, len(textFields))
	for _, key := range textFields {
		value, ok := payload[key].(string)
		if !ok || strings.TrimSpace(value) == "" {
			return Script{}, schemaErr(key, key+" must be non-empty string")
		}
		text[key] = value
	}

	return Script{
		HookTitle:    text["hook_title"],
		VisualPrompt: text["visual_prompt"],
		ShotList:     stringify(shots),
		Narration:    text["narration"],
		StyleTags:    stringify(tags),
		SafetyNotes:  text["safety_notes"],
		Raw:          payload,
	}, nil
}

// Parse decodes raw JSON and validates it as a hook script.
func Parse(raw []byte) (Script, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Script{}, fmt.Errorf("decode hook script: %w", err)
	}
	if payload == nil {
		return Script{}, schemaErr("", "hook script must be a JSON object")
	}
	return ValidatePayload(payload)
}

func schemaErr(field, message string) error {
	var fields []string
	if field != "" {
		fields = []string{field}
	}
	return &services.SchemaError{Fields: fields, Message: message}
}

func stringify(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case nil:
			continue
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}
