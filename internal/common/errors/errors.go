// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeStoreUnavailable      ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeContractNotFound      ErrorCode = "CONTRACT_NOT_FOUND"
	ErrCodeOrganizationNotFound  ErrorCode = "ORGANIZATION_NOT_FOUND"
	ErrCodeInsufficientBalance   ErrorCode = "INSUFFICIENT_BALANCE"
	ErrCodeInvalidAmount         ErrorCode = "INVALID_AMOUNT"
	ErrCodeContextUnresolved     ErrorCode = "CONTEXT_UNRESOLVED"
	ErrCodeAuditWriteFailed      ErrorCode = "AUDIT_WRITE_FAILED"
	ErrCodeNotificationFailed    ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeSearchQueryFailed     ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeInputValidationFailed ErrorCode = "INPUT_VALIDATION_FAILED"
	ErrCodeInternal              ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying driver or client error.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches any StandardError carrying the same code, so the sentinels below
// work with errors.Is regardless of details.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrStoreUnavailable     = &StandardError{Code: ErrCodeStoreUnavailable}
	ErrContractNotFound     = &StandardError{Code: ErrCodeContractNotFound}
	ErrOrganizationNotFound = &StandardError{Code: ErrCodeOrganizationNotFound}
	ErrInsufficientBalance  = &StandardError{Code: ErrCodeInsufficientBalance}
	ErrInvalidAmount        = &StandardError{Code: ErrCodeInvalidAmount}
	ErrContextUnresolved    = &StandardError{Code: ErrCodeContextUnresolved}
	ErrNotificationFailed   = &StandardError{Code: ErrCodeNotificationFailed}
	ErrSearchQueryFailed    = &StandardError{Code: ErrCodeSearchQueryFailed}
	ErrInputValidation      = &StandardError{Code: ErrCodeInputValidationFailed}
)

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewStoreUnavailableError wraps a failed database or cache round-trip.
func NewStoreUnavailableError(operation string, err error) *StandardError {
	return newError(ErrCodeStoreUnavailable, "Data store request failed",
		fmt.Sprintf("operation: %s, error: %v", operation, err), true, err)
}

func NewContractNotFoundError(contractID string) *StandardError {
	return newError(ErrCodeContractNotFound, "Contract not found for organization",
		fmt.Sprintf("contractId: %s", contractID), false, nil)
}

func NewOrganizationNotFoundError(organizationID string) *StandardError {
	return newError(ErrCodeOrganizationNotFound, "Organization not found",
		fmt.Sprintf("organizationId: %s", organizationID), false, nil)
}

// NewInsufficientBalanceError is the domain rejection surfaced to the user as "top up".
func NewInsufficientBalanceError(requested, available string) *StandardError {
	e := newError(ErrCodeInsufficientBalance, "Saldo insuficiente",
		fmt.Sprintf("requested: %s, available: %s", requested, available), false, nil)
	e.Metadata = map[string]interface{}{
		"requested": requested,
		"available": available,
	}
	return e
}

func NewInvalidAmountError(amount string) *StandardError {
	return newError(ErrCodeInvalidAmount, "Amount must be greater than zero",
		fmt.Sprintf("amount: %s", amount), false, nil)
}

func NewContextUnresolvedError(details string) *StandardError {
	return newError(ErrCodeContextUnresolved, "Organization or user not resolved", details, false, nil)
}

func NewAuditWriteFailedError(entryID string, err error) *StandardError {
	return newError(ErrCodeAuditWriteFailed, "Billing entry insert failed",
		fmt.Sprintf("entryId: %s, error: %v", entryID, err), true, err)
}

func NewNotificationFailedError(channel string, err error) *StandardError {
	return newError(ErrCodeNotificationFailed, "Check-in message delivery failed",
		fmt.Sprintf("channel: %s, error: %v", channel, err), true, err)
}

func NewSearchQueryFailedError(index string, err error) *StandardError {
	return newError(ErrCodeSearchQueryFailed, "Billing search failed",
		fmt.Sprintf("index: %s, error: %v", index, err), true, err)
}

func NewInputValidationError(details string) *StandardError {
	return newError(ErrCodeInputValidationFailed, "Job variables failed validation", details, false, nil)
}

// ==========================
// 4. Mapping & Retry Policy
// ==========================

// BPMNErrorMapping maps internal codes to the error codes modelled in the BPMN diagrams.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeStoreUnavailable:      "STORE_ERROR",
	ErrCodeContractNotFound:      "CONTRACT_NOT_FOUND",
	ErrCodeOrganizationNotFound:  "ORGANIZATION_NOT_FOUND",
	ErrCodeInsufficientBalance:   "INSUFFICIENT_BALANCE",
	ErrCodeInvalidAmount:         "VALIDATION_ERROR",
	ErrCodeContextUnresolved:     "VALIDATION_ERROR",
	ErrCodeInputValidationFailed: "VALIDATION_ERROR",
	ErrCodeAuditWriteFailed:      "STORE_ERROR",
	ErrCodeNotificationFailed:    "NOTIFICATION_ERROR",
	ErrCodeSearchQueryFailed:     "SEARCH_ERROR",
	ErrCodeInternal:              "INTERNAL_ERROR",
}

// GetRetryCount returns how many times a job failing with code should be retried.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeStoreUnavailable, ErrCodeNotificationFailed, ErrCodeSearchQueryFailed, ErrCodeAuditWriteFailed:
		return 3
	default:
		return 0
	}
}

// ConvertToBPMNError maps a StandardError onto the BPMN error contract.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	code, ok := BPMNErrorMapping[stdErr.Code]
	if !ok {
		code = string(stdErr.Code)
	}

	bpmnErr := &BPMNError{
		Code:      code,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   GetRetryCount(stdErr.Code),
	}
	if len(stdErr.Metadata) > 0 {
		bpmnErr.ErrorVariables = stdErr.Metadata
	}
	return bpmnErr
}

// IsRetryableErrorCode reports whether jobs failing with code are retried.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory groups codes for logs and metrics labels.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeInsufficientBalance:
		return "business"
	case ErrCodeInvalidAmount, ErrCodeContextUnresolved, ErrCodeInputValidationFailed:
		return "validation"
	case ErrCodeContractNotFound, ErrCodeOrganizationNotFound:
		return "not_found"
	case ErrCodeStoreUnavailable, ErrCodeAuditWriteFailed:
		return "store"
	case ErrCodeNotificationFailed, ErrCodeSearchQueryFailed:
		return "external"
	default:
		return "internal"
	}
}

// Normalize returns err as a StandardError, wrapping unknown errors as INTERNAL_ERROR.
func Normalize(err error) *StandardError {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return newError(ErrCodeInternal, "Unexpected error", err.Error(), false, err)
}
