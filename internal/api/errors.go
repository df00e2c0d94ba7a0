package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 64 << 10

// Error is a non-2xx backend response. Detail carries the body's "detail"
// field when present.
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
}

func newError(req *http.Request, resp *http.Response) *Error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &Error{
		Method:     req.Method,
		Path:       req.URL.Path,
		StatusCode: resp.StatusCode,
		Detail:     parseDetail(data),
	}
}

func parseDetail(data []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return strings.TrimSpace(s)
	}
	if string(payload.Detail) == "null" {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload.Detail); err != nil {
		return ""
	}
	return buf.String()
}

// IsNotFound reports whether err says the resource no longer exists.
func IsNotFound(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusGone
}

// DetailOr returns the backend's detail for err, or fallback when there is
// none (transport failures, empty bodies).
func DetailOr(err error, fallback string) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}
