package pkgerrors

import (
	"errors"
	"fmt"
)

const (
	CodeSignatureInvalid   = -2001
	CodeMalformedPayload   = -2002
	CodeDuplicatePayment   = -2003
	CodeInvalidAmount      = -2004
	CodeStorageUnavailable = -2005
	CodeInvalidCurrency    = -2006
	CodeUnknown            = -9999
)

var codeNames = map[int]string{
	CodeSignatureInvalid:   "signature_invalid",
	CodeMalformedPayload:   "malformed_payload",
	CodeDuplicatePayment:   "duplicate_payment",
	CodeInvalidAmount:      "invalid_amount",
	CodeStorageUnavailable: "storage_unavailable",
	CodeInvalidCurrency:    "invalid_currency",
	CodeUnknown:            "internal_error",
}

type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on Code so sentinels below work with errors.Is.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrSignatureInvalid   = &AppError{Code: CodeSignatureInvalid, Message: "webhook signature verification failed"}
	ErrMalformedPayload   = &AppError{Code: CodeMalformedPayload, Message: "malformed payload"}
	ErrDuplicatePayment   = &AppError{Code: CodeDuplicatePayment, Message: "payment already recorded"}
	ErrInvalidAmount      = &AppError{Code: CodeInvalidAmount, Message: "amount must not be negative"}
	ErrStorageUnavailable = &AppError{Code: CodeStorageUnavailable, Message: "storage unavailable"}
	ErrInvalidCurrency    = &AppError{Code: CodeInvalidCurrency, Message: "currency must be a three-letter code"}
)

func NewSignatureInvalidError(err error) *AppError {
	return &AppError{
		Code:    CodeSignatureInvalid,
		Message: "webhook signature verification failed",
		Err:     err,
	}
}

func NewMalformedPayloadError(err error) *AppError {
	return &AppError{
		Code:    CodeMalformedPayload,
		Message: "malformed payload",
		Err:     err,
	}
}

func NewDuplicatePaymentError(externalID string) *AppError {
	return &AppError{
		Code:    CodeDuplicatePayment,
		Message: fmt.Sprintf("payment %q already recorded", externalID),
	}
}

func NewInvalidAmountError(amount any) *AppError {
	return &AppError{
		Code:    CodeInvalidAmount,
		Message: fmt.Sprintf("amount must not be negative, got %v", amount),
	}
}

func NewAmountTooLargeError(amount any) *AppError {
	return &AppError{
		Code:    CodeInvalidAmount,
		Message: fmt.Sprintf("amount %v exceeds the maximum", amount),
	}
}

func NewInvalidCurrencyError(currency string) *AppError {
	return &AppError{
		Code:    CodeInvalidCurrency,
		Message: fmt.Sprintf("currency must be a three-letter code, got %q", currency),
	}
}

func NewStorageUnavailableError(err error) *AppError {
	return &AppError{
		Code:    CodeStorageUnavailable,
		Message: "storage unavailable",
		Err:     err,
	}
}

func IsSignatureInvalidError(err error) bool {
	return GetErrorCode(err) == CodeSignatureInvalid
}

func IsMalformedPayloadError(err error) bool {
	return GetErrorCode(err) == CodeMalformedPayload
}

func IsDuplicatePaymentError(err error) bool {
	return GetErrorCode(err) == CodeDuplicatePayment
}

func IsInvalidAmountError(err error) bool {
	return GetErrorCode(err) == CodeInvalidAmount
}

func IsStorageUnavailableError(err error) bool {
	return GetErrorCode(err) == CodeStorageUnavailable
}

func IsInvalidCurrencyError(err error) bool {
	return GetErrorCode(err) == CodeInvalidCurrency
}

func GetErrorCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// Name returns the machine-readable name of err's code.
func Name(err error) string {
	return codeNames[GetErrorCode(err)]
}

// Message returns the human message of err without the wrapped cause.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
