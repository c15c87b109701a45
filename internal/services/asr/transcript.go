package asr

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"reelhook/internal/jsonscan"
)

// Transcript extracts recognized text from a response payload: result.text,
// else the first utterances/sentences block joined by newlines, else the first
// non-blank text value anywhere. The result is NFC-normalized.
func Transcript(payload any) string {
	return norm.NFC.String(transcript(payload))
}

func transcript(payload any) string {
	if value, ok := jsonscan.Path(payload, "result", "text"); ok {
		if text, ok := jsonscan.String(value); ok && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
	}
	for _, block := range jsonscan.DeepFind(payload, "utterances", "sentences") {
		var parts []string
		for _, row := range jsonscan.Array(block) {
			if text, ok := jsonscan.String(member(row, "text")); ok && strings.TrimSpace(text) != "" {
				parts = append(parts, strings.TrimSpace(text))
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}
	return jsonscan.FindString(payload, "text")
}

func member(row any, key string) any {
	value, _ := jsonscan.Path(row, key)
	return value
}
