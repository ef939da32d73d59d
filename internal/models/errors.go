package models

import "fmt"

const (
	CodeMalformed        = "malformed"
	CodeUnknownAction    = "unknown_action"
	CodeNotIdentified    = "not_identified"
	CodeInvalidRequest   = "invalid_request"
	CodeIdentityMismatch = "identity_mismatch"
	CodeStoreUnavailable = "store_unavailable"
	CodeInternal         = "internal"
)

// ProtocolError is reported to the offending connection only. The
// connection stays open.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewProtocolError(code, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}
