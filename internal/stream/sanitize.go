// Package stream cleans and classifies the Claude CLI's line-oriented output.
//
// The CLI occasionally interleaves rendered answer text with JSON-RPC debug
// traces prefixed by a short server token (e.g. "app-server"). Those traces
// must never surface as assistant answer text, so every line passes through
// the classifiers here before it is treated as payload.
package stream

import (
	"encoding/json"
	"strings"
)

// StripEscapes removes ANSI CSI sequences: ESC '[' followed by characters up
// to and including the first byte in '@'..'~'. A bare ESC without '[' is
// dropped silently.
func StripEscapes(text string) string {
	var out strings.Builder
	out.Grow(len(text))
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != 0x1b {
			out.WriteRune(runes[i])
			continue
		}
		if i+1 < len(runes) && runes[i+1] == '[' {
			i++
			for i+1 < len(runes) {
				i++
				if runes[i] >= '@' && runes[i] <= '~' {
					break
				}
			}
		}
	}
	return out.String()
}

// IsServerToken reports whether value trims to a non-empty string made up
// entirely of ASCII alphanumerics, '-', '_' and '.'.
func IsServerToken(value string) bool {
	token := strings.TrimSpace(value)
	if token == "" {
		return false
	}
	for _, ch := range token {
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_' || ch == '.':
		default:
			return false
		}
	}
	return true
}

// IsJSONRPCPayload reports whether a decoded JSON object exhibits JSON-RPC
// request/response shape: a string method, a result, or an error, combined
// with an id or params.
func IsJSONRPCPayload(value map[string]any) bool {
	_, methodIsString := value["method"].(string)
	_, hasResult := value["result"]
	_, hasError := value["error"]
	hasRPCShape := methodIsString || hasResult || hasError

	_, hasID := value["id"]
	_, hasParams := value["params"]
	return hasRPCShape && (hasID || hasParams)
}

// IsDiagnosticLine reports whether a single line is a server-token-prefixed
// JSON-RPC debug trace.
func IsDiagnosticLine(line string) bool {
	trimmed := strings.TrimSpace(StripEscapes(line))
	if trimmed == "" {
		return false
	}

	braceIndex := strings.Index(trimmed, "{")
	if braceIndex < 0 {
		return false
	}
	prefix, jsonPart := trimmed[:braceIndex], trimmed[braceIndex:]
	if !IsServerToken(prefix) {
		return false
	}

	var value map[string]any
	if err := json.Unmarshal([]byte(jsonPart), &value); err != nil {
		return false
	}
	return IsJSONRPCPayload(value)
}

// IsDiagnosticMessage reports whether text is a JSON-RPC debug trace, either
// as a single prefixed line or as a server token followed by a JSON payload
// on the next line.
func IsDiagnosticMessage(text string) bool {
	if IsDiagnosticLine(text) {
		return true
	}

	var lines []string
	for _, line := range strings.Split(StripEscapes(text), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) != 2 {
		return false
	}
	if !IsServerToken(lines[0]) {
		return false
	}
	if !strings.HasPrefix(lines[1], "{") {
		return false
	}
	var value map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &value); err != nil {
		return false
	}
	return IsJSONRPCPayload(value)
}
