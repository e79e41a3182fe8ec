package llm

import (
	"strings"

	"github.com/tidwall/gjson"
)

// minLineLength is the line-heuristic threshold: shorter lines are treated as noise.
const minLineLength = 10

// jsonArray returns the elements of s when s is a JSON array.
func jsonArray(s string) ([]string, bool) {
	if !gjson.Valid(s) {
		return nil, false
	}
	parsed := gjson.Parse(s)
	if !parsed.IsArray() {
		return nil, false
	}
	return resultStrings(parsed), true
}

// promptList accepts {"prompts": [...]} or a bare array.
func promptList(s string) ([]string, bool) {
	if !gjson.Valid(s) {
		return nil, false
	}
	parsed := gjson.Parse(s)
	if parsed.IsObject() {
		if prompts := parsed.Get("prompts"); prompts.IsArray() {
			return resultStrings(prompts), true
		}
		return nil, false
	}
	if parsed.IsArray() {
		return resultStrings(parsed), true
	}
	return nil, false
}

func resultStrings(arr gjson.Result) []string {
	items := arr.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.String())
	}
	return out
}

// lineCandidates keeps at most limit lines whose trimmed length exceeds minLineLength,
// falling back to the whole content when none qualify.
func lineCandidates(content string, limit int) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if len(lines) >= limit {
			break
		}
		if len([]rune(strings.TrimSpace(line))) > minLineLength {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return []string{content}
	}
	return lines
}

func clampAll(c Clamper, candidates []string) []string {
	out := make([]string, len(candidates))
	for i, s := range candidates {
		out[i] = c.Clamp(s)
	}
	return out
}
