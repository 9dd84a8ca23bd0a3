package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"videosurveillance/platform/backend/errs"
	"videosurveillance/platform/backend/httpapi"
)

func parseIntOrDefault(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// writeServiceError maps domain sentinels to HTTP statuses; everything else
// stays a code -1 payload on 200 so callers key off the envelope.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusOK
	switch {
	case errors.Is(err, errs.ErrDeviceNotFound),
		errors.Is(err, errs.ErrChannelNotFound),
		errors.Is(err, errs.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrDeviceOffline):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrUnsupportedPTZCommand):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrMediaServerFailure),
		errors.Is(err, errs.ErrTransportUnavailable):
		status = http.StatusBadGateway
	}
	httpapi.Error(w, -1, err.Error(), status)
}
