package providers

import "errors"

var (
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrInvalidModel        = errors.New("invalid model")
	ErrConfiguration       = errors.New("provider not configured")
	ErrUpstream            = errors.New("upstream error")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrModelNotFound       = errors.New("model not found")
	ErrEmptyResponse       = errors.New("empty response")
)
