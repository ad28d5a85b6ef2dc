package errors

import (
	"strconv"

	jsoniter "github.com/json-iterator/go"
	pkgerrors "github.com/pkg/errors"
)

// Code identifies a class of failure in the signing and submission pipeline
type Code string

const (
	CodeInvalidSeed       Code = "invalid_seed"
	CodeAmountTooLarge    Code = "amount_too_large"
	CodePrecisionLoss     Code = "precision_loss"
	CodeFieldOverflow     Code = "field_overflow"
	CodeSignatureMismatch Code = "signature_mismatch"
	CodeTransport         Code = "transport_error"
	CodeNonceExhausted    Code = "nonce_exhausted_locally"
	CodeBatchAborted      Code = "batch_aborted"
	CodeInvalidConfig     Code = "invalid_config"
)

// NoIndex marks an error that is not tied to a record of a batch
const NoIndex = -1

// Error is the structured error returned by every core package.
// Index is the position of the record inside a batch, or NoIndex.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Index   int    `json:"index"`

	cause error
}

// Error renders the error as compact JSON so it can be logged or returned verbatim
func (e *Error) Error() string {
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
		Field   string `json:"field,omitempty"`
		Index   *int   `json:"index,omitempty"`
		Cause   string `json:"cause,omitempty"`
	}{
		Code:    e.Code,
		Message: e.Message,
		Field:   e.Field,
		Index:   e.indexPtr(),
		Cause:   e.causeText(),
	})
	if err != nil {
		return string(e.Code) + ": " + e.Message
	}
	return string(out)
}

func (e *Error) indexPtr() *int {
	if e.Index == NoIndex {
		return nil
	}
	idx := e.Index
	return &idx
}

func (e *Error) causeText() string {
	if e.cause == nil {
		return ""
	}
	return e.cause.Error()
}

// Unwrap exposes the underlying cause
func (e *Error) Unwrap() error {
	return e.cause
}

// Cause keeps compatibility with pkg/errors.Cause
func (e *Error) Cause() error {
	return e.cause
}

// Is matches any *Error carrying the same code, so sentinels work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is
var (
	ErrInvalidSeed       = &Error{Code: CodeInvalidSeed, Index: NoIndex}
	ErrAmountTooLarge    = &Error{Code: CodeAmountTooLarge, Index: NoIndex}
	ErrPrecisionLoss     = &Error{Code: CodePrecisionLoss, Index: NoIndex}
	ErrFieldOverflow     = &Error{Code: CodeFieldOverflow, Index: NoIndex}
	ErrSignatureMismatch = &Error{Code: CodeSignatureMismatch, Index: NoIndex}
	ErrTransport         = &Error{Code: CodeTransport, Index: NoIndex}
	ErrNonceExhausted    = &Error{Code: CodeNonceExhausted, Index: NoIndex}
	ErrBatchAborted      = &Error{Code: CodeBatchAborted, Index: NoIndex}
	ErrInvalidConfig     = &Error{Code: CodeInvalidConfig, Index: NoIndex}
)

func newError(code Code, field, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Field: field, Index: NoIndex, cause: cause}
}

func InvalidSeed(message string) error {
	return newError(CodeInvalidSeed, "", message, nil)
}

func InvalidSeedWrap(cause error, message string) error {
	return newError(CodeInvalidSeed, "", message, cause)
}

// AmountTooLarge reports a value above the packable range of a field
func AmountTooLarge(field, value, limit string) error {
	return newError(CodeAmountTooLarge, field, "value "+value+" exceeds packable maximum "+limit, nil)
}

// PrecisionLoss reports a value whose closest packing loses more than the format allows
func PrecisionLoss(field, value, closest string) error {
	return newError(CodePrecisionLoss, field, "value "+value+" packs to "+closest+", loss exceeds the format bound", nil)
}

// FieldOverflow reports a value that does not fit the declared bit width of field
func FieldOverflow(field, value string, bits int) error {
	return newError(CodeFieldOverflow, field, "value "+value+" does not fit in "+strconv.Itoa(bits)+" bits", nil)
}

func SignatureMismatch(message string) error {
	return newError(CodeSignatureMismatch, "", message, nil)
}

// Transport wraps a failure reported by the off-chain transport for one record
func Transport(reason string, cause error) error {
	return newError(CodeTransport, "", reason, cause)
}

func NonceExhausted(message string) error {
	return newError(CodeNonceExhausted, "", message, nil)
}

func BatchAborted(message string, cause error) error {
	return newError(CodeBatchAborted, "", message, cause)
}

func InvalidConfig(field, message string) error {
	return newError(CodeInvalidConfig, field, message, nil)
}

// WithIndex returns a copy of err bound to a batch record index.
// Errors that are not *Error are wrapped as transport failures.
func WithIndex(err error, index int) error {
	if err == nil {
		return nil
	}
	var e *Error
	if As(err, &e) {
		cp := *e
		cp.Index = index
		return &cp
	}
	wrapped := newError(CodeTransport, "", err.Error(), err)
	wrapped.Index = index
	return wrapped
}

// WithField returns a copy of err naming the record field it concerns
func WithField(err error, field string) error {
	var e *Error
	if !As(err, &e) {
		return err
	}
	cp := *e
	cp.Field = field
	return &cp
}

// CodeOf returns the code of the first *Error in the chain, or "" if there is none
func CodeOf(err error) Code {
	var e *Error
	if As(err, &e) {
		return e.Code
	}
	return ""
}

// IndexOf returns the batch index attached to err, or NoIndex
func IndexOf(err error) int {
	var e *Error
	if As(err, &e) {
		return e.Index
	}
	return NoIndex
}

// Re-exports so callers only need one errors import.

func New(message string) error {
	return pkgerrors.New(message)
}

func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

func Wrap(err error, message string) error {
	return pkgerrors.Wrap(err, message)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

func Is(err, target error) bool {
	return pkgerrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return pkgerrors.As(err, target)
}

func Unwrap(err error) error {
	return pkgerrors.Unwrap(err)
}
