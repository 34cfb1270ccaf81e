package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller's retry decision.
type Kind int

const (
	// KindValidation marks malformed input, rejected before any mutation.
	KindValidation Kind = iota
	// KindAuthorization marks a signer that is not the required authority.
	KindAuthorization
	// KindState marks an operation invalid for the account's current status.
	KindState
	// KindNotFound marks a derived address with no stored account.
	KindNotFound
	// KindDecode marks stored bytes that do not match the expected layout.
	KindDecode
	// KindArithmetic marks overflow or underflow in a monetary or duration
	// computation.
	KindArithmetic
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindNotFound:
		return "not_found"
	case KindDecode:
		return "decode"
	case KindArithmetic:
		return "arithmetic"
	default:
		return "unknown"
	}
}

// Error codes for ledger operations.
const (
	// Shared
	CodeBadAddress   = "BAD_ADDRESS"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "ACCOUNT_NOT_FOUND"
	CodeExists       = "ACCOUNT_EXISTS"
	CodeTruncated    = "TRUNCATED"
	CodeTagMismatch  = "TAG_MISMATCH"
	CodeTrailing     = "TRAILING_BYTES"
	CodeOverflow     = "OVERFLOW"
	CodeUnderflow    = "UNDERFLOW"
	CodeBadOpcode    = "UNKNOWN_OPCODE"

	// Registry
	CodeStringTooLong  = "STRING_TOO_LONG"
	CodeBadCertLevel   = "INVALID_CERT_LEVEL"
	CodeTooManyProofs  = "TOO_MANY_CAPABILITIES"
	CodeRobotNotActive = "ROBOT_NOT_ACTIVE"
	CodeRobotBusy      = "ROBOT_BUSY"
	CodeProofNotFound  = "CAPABILITY_NOT_FOUND"
	CodeProofExpired   = "CAPABILITY_EXPIRED"
	CodeEmptyDeviceID  = "EMPTY_DEVICE_ID"
	CodeEmptyField     = "EMPTY_FIELD"

	// Streams
	CodeBadRate       = "INVALID_RATE"
	CodeBadDuration   = "INVALID_DURATION"
	CodeBadGrace      = "INVALID_GRACE_PERIOD"
	CodeInsufficient  = "INSUFFICIENT_FUNDS"
	CodeNotPending    = "STREAM_NOT_PENDING"
	CodeNotActive     = "STREAM_NOT_ACTIVE"
	CodeNotPaused     = "STREAM_NOT_PAUSED"
	CodeTerminated    = "STREAM_TERMINATED"
	CodeAlreadyLinked = "STREAM_ALREADY_LINKED"

	// Market
	CodeTitleTooLong       = "TITLE_TOO_LONG"
	CodeDescTooLong        = "DESCRIPTION_TOO_LONG"
	CodeMsgTooLong         = "MESSAGE_TOO_LONG"
	CodeTooManyCaps        = "TOO_MANY_REQUIRED_CAPS"
	CodeBadReward          = "INVALID_REWARD"
	CodeBadPriority        = "INVALID_PRIORITY"
	CodeBadExpiry          = "INVALID_EXPIRATION"
	CodeBadProgress        = "INVALID_PROGRESS"
	CodeTaskNotOpen        = "TASK_NOT_OPEN"
	CodeTaskExpired        = "TASK_EXPIRED"
	CodeTaskNotAssigned    = "TASK_NOT_ASSIGNED"
	CodeTaskNotInProgress  = "TASK_NOT_IN_PROGRESS"
	CodeTaskNotVerifiable  = "TASK_NOT_PENDING_VERIFICATION"
	CodeTaskNotCancellable = "TASK_NOT_CANCELLABLE"
	CodeTaskNotAbortable   = "TASK_NOT_ABORTABLE"
	CodeBidNotPending      = "BID_NOT_PENDING"
	CodeBidTaskMismatch    = "BID_TASK_MISMATCH"
	CodeNotAssignedRobot   = "NOT_ASSIGNED_ROBOT"

	// Staking
	CodeBelowMinStake     = "BELOW_MIN_STAKE"
	CodeStakeLocked       = "STAKE_LOCKED"
	CodeInsufficientStake = "INSUFFICIENT_STAKE"
	CodeNoRewards         = "NO_REWARDS"
	CodeNothingToSlash    = "NOTHING_TO_SLASH"
	CodeReasonTooLong     = "REASON_TOO_LONG"
)

// Error is the coded error type every component returns. It carries enough
// detail for the caller to distinguish the kind without string matching.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Context map[string]interface{}
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Kind, e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// NewValidationError builds a KindValidation error.
func NewValidationError(code, message string) *Error {
	return newError(KindValidation, code, message)
}

// WrapValidationError builds a KindValidation error around a cause.
func WrapValidationError(code, message string, cause error) *Error {
	e := newError(KindValidation, code, message)
	e.Cause = cause
	return e
}

// NewAuthorizationError builds a KindAuthorization error.
func NewAuthorizationError(message string) *Error {
	return newError(KindAuthorization, CodeUnauthorized, message)
}

// NewStateError builds a KindState error.
func NewStateError(code, message string) *Error {
	return newError(KindState, code, message)
}

// NewNotFoundError builds a KindNotFound error for addr.
func NewNotFoundError(addr Address) *Error {
	return newError(KindNotFound, CodeNotFound, "no account at derived address").
		WithContext("address", addr.String())
}

// NewDecodeError builds a KindDecode error. Decode failures are integrity
// faults, never coerced into defaults.
func NewDecodeError(code, message string) *Error {
	return newError(KindDecode, code, message)
}

// NewArithmeticError builds a KindArithmetic error.
func NewArithmeticError(code, message string) *Error {
	return newError(KindArithmetic, code, message)
}

// KindOf extracts the Kind from err, or -1 when err is not a ledger error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Kind(-1)
}

// IsValidation reports whether err is a KindValidation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsAuthorization reports whether err is a KindAuthorization error.
func IsAuthorization(err error) bool { return KindOf(err) == KindAuthorization }

// IsState reports whether err is a KindState error.
func IsState(err error) bool { return KindOf(err) == KindState }

// IsNotFound reports whether err is a KindNotFound error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsDecode reports whether err is a KindDecode error.
func IsDecode(err error) bool { return KindOf(err) == KindDecode }

// IsArithmetic reports whether err is a KindArithmetic error.
func IsArithmetic(err error) bool { return KindOf(err) == KindArithmetic }
