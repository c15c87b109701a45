package script

import (
	"fmt"
	"strings"
)

// PolishTemperature is the sampling temperature used for transcript cleanup.
const PolishTemperature = 0.2

// PolishPrompt asks for correction-only cleanup of a raw transcript.
func PolishPrompt(rawTranscript string) string {
	return strings.Join([]string{
		"以下是ASR转写文本，请只做纠错、断句和轻微可读性优化。",
		"不要扩写内容，不要改变事实，不要新增剧情。",
		"",
		"原始文本：",
		strings.TrimSpace(rawTranscript),
	}, "\n")
}

// GenerationPrompt asks for a hook script of hookSeconds as a strict JSON object.
func GenerationPrompt(polishedTranscript string, hookSeconds int) string {
	return strings.Join([]string{
		fmt.Sprintf("基于以下文本，生成一个用于短视频导流的前贴脚本，时长目标 %d 秒。", hookSeconds),
		"风格要求：荒诞、有趣、吸睛、节奏快、画面冲击强。",
		"",
		"输出必须是严格JSON对象，字段如下：",
		"hook_title: string",
		"visual_prompt: string",
		"shot_list: string[]",
		"narration: string",
		"style_tags: string[]",
		"safety_notes: string",
		"",
		"输入文本：",
		strings.TrimSpace(polishedTranscript),
	}, "\n")
}

// VideoPrompt renders the script into the text prompt submitted for video
// generation, prefixed by the configured system prompt.
func VideoPrompt(systemPrompt string, s Script) string {
	var b strings.Builder
	if prefix := strings.TrimSpace(systemPrompt); prefix != "" {
		b.WriteString(prefix)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "标题：%s\n", s.HookTitle)
	fmt.Fprintf(&b, "视觉描述：%s\n", s.VisualPrompt)
	b.WriteString("分镜：\n")
	for _, shot := range s.ShotList {
		fmt.Fprintf(&b, "- %s\n", shot)
	}
	fmt.Fprintf(&b, "\n旁白：%s\n", s.Narration)
	fmt.Fprintf(&b, "风格标签：%s\n", strings.Join(s.StyleTags, ", "))
	fmt.Fprintf(&b, "安全约束：%s", s.SafetyNotes)
	return b.String()
}
