// Package response defines the closed result taxonomy every handler and the
// dispatcher produce. Responses are built through constructors only, so the
// status tag always matches the payload kind, and are immutable afterwards.
package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Status is the top-level branch tag carried by every response.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Kind identifies the concrete variant inside a branch.
type Kind string

const (
	// success branch
	KindSuccess     Kind = "success"
	KindProcessInfo Kind = "process_info"
	KindProgramInfo Kind = "program_info"
	KindSystemInfo  Kind = "system_info"
	KindLogs        Kind = "logs"

	// error branch
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation_error"
	KindAuth       Kind = "auth_error"
	KindInternal   Kind = "internal_error"
)

// Response is a tagged variant: one success or error kind plus its payload.
// The zero value is not valid; use the constructors.
type Response struct {
	kind    Kind
	status  Status
	message string
	code    string // machine-readable code, error branch only
	data    any
}

// Success builds a generic success response with optional payload data.
func Success(message string, data any) *Response {
	return &Response{kind: KindSuccess, status: StatusSuccess, message: message, data: data}
}

// ProcessInfo reports the outcome of a process operation (execute/kill/list).
func ProcessInfo(message string, processes any) *Response {
	return &Response{
		kind:    KindProcessInfo,
		status:  StatusSuccess,
		message: message,
		data:    map[string]any{"processes": processes},
	}
}

// ProgramInfo reports program/command catalog data.
func ProgramInfo(programs any) *Response {
	return &Response{
		kind:    KindProgramInfo,
		status:  StatusSuccess,
		message: "Program operation successful",
		data:    map[string]any{"programs": programs},
	}
}

// SystemInfo carries a host state snapshot.
func SystemInfo(message string, info any) *Response {
	if message == "" {
		message = "System information"
	}
	return &Response{kind: KindSystemInfo, status: StatusSuccess, message: message, data: info}
}

// Logs carries retrieved log lines.
func Logs(lines []string) *Response {
	return &Response{
		kind:    KindLogs,
		status:  StatusSuccess,
		message: "Logs retrieved",
		data:    map[string]any{"logs": lines},
	}
}

// NotFound reports an unknown endpoint, token or pid.
func NotFound(resource string) *Response {
	return &Response{
		kind:    KindNotFound,
		status:  StatusError,
		message: fmt.Sprintf("%s not found", resource),
		code:    "not_found",
	}
}

// ValidationError reports malformed or missing input, naming the offending fields.
func ValidationError(fields ...string) *Response {
	msg := "Invalid request"
	if len(fields) > 0 {
		sorted := append([]string(nil), fields...)
		sort.Strings(sorted)
		msg = fmt.Sprintf("Missing or invalid field(s): %s", strings.Join(sorted, ", "))
	}
	return &Response{kind: KindValidation, status: StatusError, message: msg, code: "validation_error"}
}

// AuthError reports a missing, invalid or expired session token.
func AuthError(message string) *Response {
	if message == "" {
		message = "Unauthorized"
	}
	return &Response{kind: KindAuth, status: StatusError, message: message, code: "auth_error"}
}

// InternalError reports a handler or executor fault. The message must already
// be sanitized; callers log the underlying detail out-of-band.
func InternalError(message string) *Response {
	if message == "" {
		message = "Internal server error"
	}
	return &Response{kind: KindInternal, status: StatusError, message: message, code: "internal_error"}
}

func (r *Response) Kind() Kind      { return r.kind }
func (r *Response) Status() Status  { return r.status }
func (r *Response) Message() string { return r.message }
func (r *Response) Code() string    { return r.code }
func (r *Response) Data() any       { return r.data }
func (r *Response) IsError() bool   { return r.status == StatusError }

// HTTPStatus maps the variant to its wire status code. Only the transport
// layer calls this; handlers never deal in raw status codes.
func (r *Response) HTTPStatus() int {
	switch r.kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// MarshalJSON serializes the wire shape: status and message always, data when
// present, code on the error branch.
func (r *Response) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"status":  r.status,
		"message": r.message,
	}
	if r.data != nil {
		out["data"] = r.data
	}
	if r.code != "" {
		out["code"] = r.code
	}
	return json.Marshal(out)
}
