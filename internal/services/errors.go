package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")

	// ErrPermission marks a remote rejection caused by the credentials lacking a
	// resource grant. Adapters recover from it by trying the next candidate.
	ErrPermission = errors.New("permission denied")
	// ErrShapeMismatch marks a remote rejection of the request payload shape.
	// Adapters recover from it by trying the next payload variant.
	ErrShapeMismatch = errors.New("payload shape rejected")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Recoverable reports whether err is a fallback-class failure (permission or
// payload shape) that an adapter may answer by trying its next candidate.
func Recoverable(err error) bool {
	return errors.Is(err, ErrPermission) || errors.Is(err, ErrShapeMismatch)
}

// PipelineError is a stage-level business failure: a missing precondition, a
// missing reusable artifact, or empty/invalid stage output.
type PipelineError struct {
	Stage   string
	Message string
	Err     error
}

// NewPipelineError constructs a PipelineError for stage.
func NewPipelineError(stage, format string, args ...any) *PipelineError {
	return &PipelineError{Stage: stage, Message: fmt.Sprintf(format, args...)}
}

func (e *PipelineError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "pipeline failure"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// ServiceError is a remote API business or transport failure. Attempts carries
// the per-candidate trace when the failure aggregates several tries.
type ServiceError struct {
	Service    string
	Op         string
	StatusCode int
	Message    string
	Attempts   []string
	Marker     error
	Err        error
}

func (e *ServiceError) Error() string {
	parts := make([]string, 0, 4)
	if label := buildDetail(e.Service, e.Op, ""); label != "service failure" {
		parts = append(parts, label)
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("http %d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

func (e *ServiceError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Marker != nil {
		errs = append(errs, e.Marker)
	} else {
		errs = append(errs, ErrTransient)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// MediaToolError reports a non-zero exit from a local media command.
type MediaToolError struct {
	Command string
	Output  string
	Err     error
}

func (e *MediaToolError) Error() string {
	var b strings.Builder
	b.WriteString("command failed: ")
	b.WriteString(e.Command)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		b.WriteString("\n")
		b.WriteString(out)
	}
	return b.String()
}

func (e *MediaToolError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrExternalTool, e.Err}
	}
	return []error{ErrExternalTool}
}

// SchemaError reports generated JSON that fails structural validation.
type SchemaError struct {
	Fields  []string
	Message string
}

func (e *SchemaError) Error() string {
	return strings.TrimSpace(e.Message)
}

func (e *SchemaError) Unwrap() error { return ErrValidation }

// Truncate trims value to at most limit runes.
func Truncate(value string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// StatusMarker classifies an HTTP status code from a remote service.
func StatusMarker(code int) error {
	switch {
	case code == 408 || code == 429 || code >= 500:
		return ErrTransient
	case code == 401 || code == 403:
		return ErrConfiguration
	case code == 404:
		return ErrNotFound
	default:
		return ErrValidation
	}
}
