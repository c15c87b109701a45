package asr

import (
	"net/http"
	"strings"

	"reelhook/internal/jsonscan"
	"reelhook/internal/services"
)

type response struct {
	code    int
	header  http.Header
	body    []byte
	payload *jsonscan.Fields
}

// statusCode returns the business status from X-Api-Status-Code or header.code.
func (r *response) statusCode() string {
	if status := r.header.Get("X-Api-Status-Code"); status != "" {
		return status
	}
	return jsonscan.Scalar(headerField(r.payload, "code"))
}

// statusMessage returns X-Api-Message or header.message.
func (r *response) statusMessage() string {
	if msg := r.header.Get("X-Api-Message"); msg != "" {
		return msg
	}
	return jsonscan.Scalar(headerField(r.payload, "message"))
}

func (r *response) reqID() string {
	return jsonscan.Scalar(headerField(r.payload, "reqid"))
}

// permissionDenied reports whether the response says the credentials lack a
// grant for the requested resource id.
func (r *response) permissionDenied() bool {
	if isPermissionMessage(string(r.body)) || isPermissionMessage(r.statusMessage()) {
		return true
	}
	message := strings.ToLower(jsonscan.Scalar(headerField(r.payload, "message")))
	return strings.Contains(message, "grant") && strings.Contains(message, "not found")
}

func (r *response) fatal(op, message string) error {
	return &services.ServiceError{
		Service:    "asr",
		Op:         op,
		StatusCode: r.code,
		Message:    strings.TrimSpace(message + " " + services.Truncate(string(r.body), errorBodyLimit)),
		Marker:     services.StatusMarker(max(r.code, http.StatusBadRequest)),
	}
}

var permissionPatterns = []string{
	"requested grant not found",
	"resourceid",
	"not allowed",
	"requested resource not granted",
	"not granted",
}

func isPermissionMessage(message string) bool {
	text := strings.ToLower(message)
	if text == "" {
		return false
	}
	for _, pattern := range permissionPatterns {
		if strings.Contains(text, pattern) {
			return true
		}
	}
	return false
}

func headerField(payload *jsonscan.Fields, key string) any {
	value, _ := jsonscan.Path(payload, "header", key)
	return value
}
