package mcpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"llmrouter/internal/session"
	"llmrouter/internal/storage"
)

// arguments keeps raw values so that an explicit null differs from an absent key.
type arguments map[string]json.RawMessage

func parseArguments(raw json.RawMessage) (arguments, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return arguments{}, nil
	}
	var args arguments
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: arguments must be a JSON object", session.ErrInvalidArgument)
	}
	if args == nil {
		args = arguments{}
	}
	return args, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func (a arguments) requiredString(key string) (string, error) {
	v, ok := a[key]
	if !ok || isNull(v) {
		return "", fmt.Errorf("%w: %s is required", session.ErrInvalidArgument, key)
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%w: %s must be a string", session.ErrInvalidArgument, key)
	}
	return s, nil
}

// limit returns def when key is absent and storage.Unbounded when it is null.
func (a arguments) limit(key string, def int) (int, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}
	if isNull(v) {
		return storage.Unbounded, nil
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer or null", session.ErrInvalidArgument, key)
	}
	if f != math.Trunc(f) || f < 0 || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", session.ErrInvalidArgument, key)
	}
	return int(f), nil
}
