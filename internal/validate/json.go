package validate

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
)

var (
	reFence         = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
	structValidator = validator.New(validator.WithRequiredStructEnabled())
)

// ExtractJSON pulls a JSON object out of LLM output.
//
// Priority:
// 1. fenced ```json ... ``` block
// 2. outermost {...} span
//
// Trailing commas are removed only when the candidate is not already valid JSON.
func ExtractJSON(input string) (string, bool) {
	input = strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\uFEFF' || r == '\u200B' || r == '\u200C' || r == '\u200D' {
			return -1
		}
		return r
	}, input))
	if input == "" {
		return "", false
	}

	if match := reFence.FindStringSubmatch(input); len(match) > 1 {
		input = strings.TrimSpace(match[1])
	}
	start := strings.Index(input, "{")
	end := strings.LastIndex(input, "}")
	if start < 0 || end < start {
		return "", false
	}
	candidate := input[start : end+1]
	if json.Valid([]byte(candidate)) {
		return candidate, true
	}
	repaired := reTrailingComma.ReplaceAllString(candidate, "$1")
	if json.Valid([]byte(repaired)) {
		return repaired, true
	}
	return candidate, false
}

// Object validates that raw holds a JSON object and returns it for field lookups.
func Object(raw string) Result[gjson.Result] {
	if strings.TrimSpace(raw) == "" {
		return Fail[gjson.Result](Empty, "no output")
	}
	doc, ok := ExtractJSON(raw)
	if !ok {
		return Fail[gjson.Result](Malformed, "output is not a JSON object")
	}
	obj := gjson.Parse(doc)
	if !obj.IsObject() {
		return Fail[gjson.Result](Malformed, "output is not a JSON object")
	}
	return Ok(obj)
}

// StringField requires obj[path] to exist and be a JSON string.
func StringField(obj gjson.Result, path string) Result[string] {
	v := obj.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return Fail[string](MissingField, "%s is missing", path)
	}
	if v.Type != gjson.String {
		return Fail[string](WrongType, "%s must be a string, got %s", path, v.Type)
	}
	return Ok(v.Str)
}

// Struct runs validator tags on a decoded value.
func Struct(v any) error {
	return structValidator.Struct(v)
}
