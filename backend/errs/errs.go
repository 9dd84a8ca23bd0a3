package errs

import "errors"

// Domain sentinel errors mapped to response codes in handlers.
var (
	ErrDeviceNotFound        = errors.New("device not found")
	ErrDeviceOffline         = errors.New("device offline")
	ErrChannelNotFound       = errors.New("channel not found")
	ErrSessionNotFound       = errors.New("stream session not found")
	ErrSessionAlreadyActive  = errors.New("stream session already active")
	ErrUnsupportedPTZCommand = errors.New("unsupported ptz command")
	ErrMediaServerFailure    = errors.New("media server request failed")
	ErrTransportUnavailable  = errors.New("signaling transport unavailable")
)
