package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Listing tools return at most maxLimit entries regardless of what the
// model asks for; defaultLimit applies when the argument is absent.
const (
	defaultLimit = 5
	maxLimit     = 10
)

// stringArg extracts a required non-empty string argument.
func stringArg(tool string, args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return "", &ToolError{Tool: tool, Msg: fmt.Sprintf("missing required argument %q", key)}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &ToolError{Tool: tool, Msg: fmt.Sprintf("argument %q must be a string", key)}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &ToolError{Tool: tool, Msg: fmt.Sprintf("argument %q must not be empty", key)}
	}
	return s, nil
}

// optionalStringArg extracts an optional string argument, empty when absent.
func optionalStringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// intArg extracts a required integer argument. Models deliver numbers as
// JSON floats and occasionally as digit strings; both are accepted.
func intArg(tool string, args map[string]any, key string) (int, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return 0, &ToolError{Tool: tool, Msg: fmt.Sprintf("missing required argument %q", key)}
	}
	n, ok := asInt(raw)
	if !ok {
		return 0, &ToolError{Tool: tool, Msg: fmt.Sprintf("argument %q must be an integer", key)}
	}
	return n, nil
}

// limitArg extracts the optional limit argument, clamped to [1, maxLimit].
func limitArg(args map[string]any) int {
	raw, ok := args["limit"]
	if !ok || raw == nil {
		return defaultLimit
	}
	n, ok := asInt(raw)
	if !ok || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func asInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
