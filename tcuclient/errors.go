package tcuclient

import (
	"errors"
	"fmt"
)

var (
	ErrParameterNotFound     = errors.New("parameter not found")
	ErrTruncated             = errors.New("response truncated")
	ErrInvalidEncoding       = errors.New("response text is not valid UTF-8")
	ErrValueTooLong          = errors.New("value exceeds maximum length")
	ErrNotWritable           = errors.New("parameter is not writable")
	ErrNoResponse            = errors.New("no response from unit")
	ErrDecodeFailed          = errors.New("response could not be decoded")
	ErrSessionUnacknowledged = errors.New("diagnostic session start not acknowledged")
	ErrSessionClosed         = errors.New("diagnostic session not open")
	ErrUnexpectedResponse    = errors.New("unexpected response service id")
)

// TransportError wraps a send failure on the port. It aborts the whole run.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// KWP2000 negative response codes
const (
	NRCGeneralReject                          = 0x10
	NRCServiceNotSupported                    = 0x11
	NRCSubFunctionNotSupported                = 0x12
	NRCIncorrectMessageLength                 = 0x13
	NRCBusyRepeatRequest                      = 0x21
	NRCConditionsNotCorrect                   = 0x22
	NRCRequestSequenceError                   = 0x24
	NRCRequestOutOfRange                      = 0x31
	NRCSecurityAccessDenied                   = 0x33
	NRCInvalidKey                             = 0x35
	NRCExceedNumberOfAttempts                 = 0x36
	NRCRequiredTimeDelayNotExpired            = 0x37
	NRCGeneralProgrammingFailure              = 0x72
	NRCResponsePending                        = 0x78
	NRCSubFunctionNotSupportedInActiveSession = 0x7E
	NRCServiceNotSupportedInActiveSession     = 0x7F
)

var nrcDescriptions = map[byte]string{
	NRCGeneralReject:                          "general reject",
	NRCServiceNotSupported:                    "service not supported",
	NRCSubFunctionNotSupported:                "sub-function not supported",
	NRCIncorrectMessageLength:                 "incorrect message length or format",
	NRCBusyRepeatRequest:                      "busy, repeat request",
	NRCConditionsNotCorrect:                   "conditions not correct",
	NRCRequestSequenceError:                   "request sequence error",
	NRCRequestOutOfRange:                      "request out of range",
	NRCSecurityAccessDenied:                   "security access denied",
	NRCInvalidKey:                             "invalid key",
	NRCExceedNumberOfAttempts:                 "exceeded number of attempts",
	NRCRequiredTimeDelayNotExpired:            "required time delay not expired",
	NRCGeneralProgrammingFailure:              "general programming failure",
	NRCResponsePending:                        "response pending",
	NRCSubFunctionNotSupportedInActiveSession: "sub-function not supported in active session",
	NRCServiceNotSupportedInActiveSession:     "service not supported in active session",
}

// NRCDescription returns a human readable name for a negative response code.
func NRCDescription(nrc byte) string {
	if desc, ok := nrcDescriptions[nrc]; ok {
		return desc
	}
	return "unknown"
}

// NegativeResponseError is a 0x7F reply from the unit.
type NegativeResponseError struct {
	ServiceID byte
	NRC       byte
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("negative response: SID=0x%02X, NRC=0x%02X (%s)", e.ServiceID, e.NRC, NRCDescription(e.NRC))
}

// IsRetryable reports whether the request may be repeated.
func (e *NegativeResponseError) IsRetryable() bool {
	return e.NRC == NRCBusyRepeatRequest || e.NRC == NRCResponsePending
}

// parseNegativeResponse returns the error carried by a 0x7F frame, or nil.
func parseNegativeResponse(resp []byte) *NegativeResponseError {
	if len(resp) < 3 || resp[0] != SIDNegativeResponse {
		return nil
	}
	return &NegativeResponseError{ServiceID: resp[1], NRC: resp[2]}
}
