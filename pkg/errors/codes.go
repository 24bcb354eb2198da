package errors

import "strings"

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal    ErrorCode = "COMMON_001"
	ErrCodeBadRequest  ErrorCode = "COMMON_002"
	ErrCodeValidation  ErrorCode = "COMMON_010"
	ErrCodeCacheError  ErrorCode = "COMMON_013"
	ErrCodeCacheMiss   ErrorCode = "COMMON_017"
	ErrCodeConfigError ErrorCode = "COMMON_018"
	ErrCodeCancelled   ErrorCode = "COMMON_019"
)

// Message-passing Module Error Codes
const (
	ErrCodeInvalidShape      ErrorCode = "MPNN_001"
	ErrCodePrecondition      ErrorCode = "MPNN_002"
	ErrCodeMalformedGraph    ErrorCode = "MPNN_003"
	ErrCodeEncodeFailed      ErrorCode = "MPNN_004"
	ErrCodeUnknownActivation ErrorCode = "MPNN_005"
)

// Aliases used at call sites.
const (
	CodeOK           = ErrorCode("OK")
	CodeUnknown      = ErrorCode("UNKNOWN")
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeCacheError   = ErrCodeCacheError
	CodeCacheMiss    = ErrCodeCacheMiss
	CodeConfig       = ErrCodeConfigError
	CodeCancelled    = ErrCodeCancelled

	CodeInvalidShape   = ErrCodeInvalidShape
	CodePrecondition   = ErrCodePrecondition
	CodeMalformedGraph = ErrCodeMalformedGraph
	CodeEncodeFailed   = ErrCodeEncodeFailed
)

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:    "internal error",
	ErrCodeBadRequest:  "bad request",
	ErrCodeValidation:  "validation failed",
	ErrCodeCacheError:  "cache error",
	ErrCodeCacheMiss:   "cache miss",
	ErrCodeConfigError: "invalid configuration",
	ErrCodeCancelled:   "operation cancelled",

	ErrCodeInvalidShape:      "invalid tensor shape",
	ErrCodePrecondition:      "precondition violated",
	ErrCodeMalformedGraph:    "malformed molecular graph",
	ErrCodeEncodeFailed:      "graph encoding failed",
	ErrCodeUnknownActivation: "unknown activation function",
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsInputError reports whether code describes a problem with the caller's
// input rather than a failure inside the encoder.
func IsInputError(code ErrorCode) bool {
	switch code {
	case ErrCodeBadRequest, ErrCodeValidation, ErrCodeConfigError,
		ErrCodeInvalidShape, ErrCodePrecondition, ErrCodeMalformedGraph,
		ErrCodeUnknownActivation:
		return true
	}
	return false
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
