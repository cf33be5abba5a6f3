// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package apperr

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// maxPlainBody bounds how much of a non-JSON body is used as a message.
const maxPlainBody = 256

// serverEnvelope covers the error bodies the backends produce.
type serverEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// ParseServerError classifies a non-2xx response. It is pure and safe to call
// with any body.
//
// Kind: a recognised structured "code" field wins, otherwise the status decides.
// Message: "message" field, then "error" field, then a plain-text body, then
// statusText, then the default message for the kind.
//
// Status 0 means the request never produced a response and yields Unreachable.
func ParseServerError(status int, statusText string, body []byte) *Error {
	e := &Error{Kind: kindForStatus(status), Status: status}

	trimmed := bytes.TrimSpace(body)
	var env serverEnvelope
	structured := len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &env) == nil

	if structured && env.Code != "" {
		if k, ok := KindFromCode(env.Code); ok {
			e.Kind = k
		}
	}

	switch {
	case structured && env.Message != "":
		e.Message = env.Message
	case structured && env.Error != "":
		e.Message = env.Error
	case !structured && isPlainText(trimmed):
		e.Message = plainMessage(trimmed)
	case statusText != "":
		e.Message = statusText
	default:
		e.Message = DefaultMessage(e.Kind)
	}
	return e
}

func kindForStatus(status int) Kind {
	switch {
	case status == 0:
		return Unreachable
	case status == 400 || status == 422:
		return BadRequest
	case status == 401:
		return AuthExpired
	case status == 403:
		return Forbidden
	case status == 404:
		return NotFound
	case status == 409:
		return AckConflict
	case status >= 500:
		return ServerError
	default:
		return Unknown
	}
}

func isPlainText(b []byte) bool {
	if len(b) == 0 || !utf8.Valid(b) {
		return false
	}
	// HTML error pages from proxies are not useful messages.
	lower := bytes.ToLower(b[:min(len(b), 16)])
	return !bytes.HasPrefix(lower, []byte("<!doctype")) && !bytes.HasPrefix(lower, []byte("<html")) &&
		b[0] != '[' && b[0] != '{'
}

func plainMessage(b []byte) string {
	s := strings.TrimSpace(string(b))
	s = strings.Trim(s, `"`)
	if len(s) > maxPlainBody {
		s = s[:maxPlainBody]
		for !utf8.ValidString(s) {
			s = s[:len(s)-1]
		}
	}
	return s
}
