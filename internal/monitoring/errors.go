package monitoring

import (
	"fmt"
)

// ProbeError describes why a single acquisition probe produced nothing.
type ProbeError struct {
	Probe   string
	Code    int
	Message string
	Err     error
}

func (e *ProbeError) Error() string {
	msg := fmt.Sprintf("[%s] %s (Code: %d)", e.Probe, e.Message, e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// Is matches any ProbeError target carrying the same code, so callers can
// test against the Err* values below with errors.Is.
func (e *ProbeError) Is(target error) bool {
	t, ok := target.(*ProbeError)
	if !ok {
		return false
	}
	return t.Probe == "" && t.Code == e.Code
}

// 에러 코드 상수
const (
	ErrorCodeToolNotFound     = 2001
	ErrorCodeTimeout          = 2002
	ErrorCodeParse            = 2003
	ErrorCodePermissionDenied = 2004
	ErrorCodeNoDevice         = 2005
	ErrorCodeCommandFailed    = 2006
)

var (
	ErrToolNotFound     = &ProbeError{Code: ErrorCodeToolNotFound, Message: "tool not found"}
	ErrTimeout          = &ProbeError{Code: ErrorCodeTimeout, Message: "timed out"}
	ErrParse            = &ProbeError{Code: ErrorCodeParse, Message: "unparseable output"}
	ErrPermissionDenied = &ProbeError{Code: ErrorCodePermissionDenied, Message: "permission denied"}
	ErrNoDevice         = &ProbeError{Code: ErrorCodeNoDevice, Message: "no device"}
)

// newProbeError - 표준화된 프로브 에러 생성
func newProbeError(probe string, code int, message string, err error) *ProbeError {
	return &ProbeError{
		Probe:   probe,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func parseError(probe, message string) *ProbeError {
	return newProbeError(probe, ErrorCodeParse, message, nil)
}

func noDevice(probe, message string) *ProbeError {
	return newProbeError(probe, ErrorCodeNoDevice, message, nil)
}
