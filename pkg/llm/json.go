package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// thinkTagPattern matches <think>...</think> tags at the start of responses
// from reasoning models.
var thinkTagPattern = regexp.MustCompile(`(?s)^[\s]*<think>.*?</think>[\s]*`)

// trailingCommaPattern matches a comma immediately before a closing brace or
// bracket, a common LLM output defect.
var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// ExtractJSON extracts JSON content from an LLM response that may contain
// <think> tags, markdown code fences, trailing commas or prose around the
// payload.
func ExtractJSON(response string) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")

	objStart := strings.IndexByte(cleaned, '{')
	arrStart := strings.IndexByte(cleaned, '[')

	if objStart >= 0 && (arrStart < 0 || objStart < arrStart) {
		if jsonStr, ok := extractBalancedJSON(cleaned, '{', '}'); ok {
			if repaired, ok := validOrRepaired(jsonStr); ok {
				return repaired, nil
			}
		}
	}

	if arrStart >= 0 {
		if jsonStr, ok := extractBalancedJSON(cleaned, '[', ']'); ok {
			if repaired, ok := validOrRepaired(jsonStr); ok {
				return repaired, nil
			}
		}
	}

	trimmed := strings.TrimSpace(cleaned)
	if repaired, ok := validOrRepaired(trimmed); ok {
		return repaired, nil
	}

	return "", fmt.Errorf("no valid JSON found in response")
}

// validOrRepaired accepts the candidate as-is when valid, otherwise strips
// trailing commas and retries once.
func validOrRepaired(candidate string) (string, bool) {
	if json.Valid([]byte(candidate)) {
		return candidate, true
	}
	repaired := trailingCommaPattern.ReplaceAllString(candidate, "$1")
	if json.Valid([]byte(repaired)) {
		return repaired, true
	}
	return "", false
}

// extractBalancedJSON finds the first balanced JSON structure starting with
// openChar, counting bracket depth and skipping string literals.
func extractBalancedJSON(s string, openChar, closeChar byte) (string, bool) {
	start := strings.IndexByte(s, openChar)
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if c == openChar {
			depth++
		} else if c == closeChar {
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}

// ParseJSONResponse extracts JSON from a response and unmarshals it.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, NewError(ErrorTypeParse, "extract json", false, err)
	}

	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, NewError(ErrorTypeParse, "unmarshal json", false, err)
	}

	return result, nil
}
