// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// Regex uses \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

// fencedBlockRegex extracts content wrapped in a markdown code block,
// with or without a json language tag.
var fencedBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(.*?)\\s*\x60\x60\x60")

// ParseModelJSON parses a model response into a target Go type. Model
// output is rarely clean JSON, so extraction is layered:
//
//  1. parse the whole trimmed response directly;
//  2. parse the contents of any markdown code fence;
//  3. scan for brace-balanced object candidates, keeping only those
//     that contain at least one of requiredKeys.
//
// The first candidate that unmarshals wins. If requiredKeys is empty,
// layer 3 accepts any balanced object.
func ParseModelJSON[T any](response string, requiredKeys ...string) (*T, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, fmt.Errorf("empty model response")
	}

	var result T
	if err := json.UnmarshalFromString(response, &result); err == nil {
		return &result, nil
	}

	for _, m := range fencedBlockRegex.FindAllStringSubmatch(response, -1) {
		candidate := strings.TrimSpace(m[1])
		if candidate == "" {
			continue
		}
		var fenced T
		if err := json.UnmarshalFromString(candidate, &fenced); err == nil {
			return &fenced, nil
		}
	}

	for _, candidate := range balancedObjects(response) {
		if !containsAnyKey(candidate, requiredKeys) {
			continue
		}
		var scanned T
		if err := json.UnmarshalFromString(candidate, &scanned); err == nil {
			return &scanned, nil
		}
	}

	return nil, fmt.Errorf("no parseable JSON object in model response: %s", truncateString(response, 500))
}

// balancedObjects returns every top-level brace-balanced substring of s,
// in order of appearance. String literals and escapes are honored so
// braces inside values do not break the balance count.
func balancedObjects(s string) []string {
	var (
		objects  []string
		depth    int
		start    int
		inString bool
		escaped  bool
	)
	for i, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inString && depth > 0 {
				depth--
				if depth == 0 {
					objects = append(objects, s[start:i+1])
				}
			}
		}
	}
	return objects
}

// containsAnyKey reports whether candidate mentions at least one of the
// given keys in quoted form. No keys means no filtering.
func containsAnyKey(candidate string, keys []string) bool {
	if len(keys) == 0 {
		return true
	}
	for _, k := range keys {
		if strings.Contains(candidate, `"`+k+`"`) {
			return true
		}
	}
	return false
}

// truncateString truncates a string to a maximum length for error messages.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
