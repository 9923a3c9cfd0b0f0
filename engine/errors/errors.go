// Package errors provides the error taxonomy shared by the query engine, the
// partition pipes and the backend they talk to.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/guileen/crossquery/logger"
)

// Error codes for different types of errors
const (
	ErrCodeUnknown            = "unknown_error"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeServiceUnavailable = "service_unavailable"
	ErrCodeThrottled          = "throttled"
	ErrCodePartitionGone      = "partition_gone"
	ErrCodeRequestCanceled    = "request_canceled"
	ErrCodeNotFound           = "not_found"
	ErrCodeConflict           = "conflict"
	ErrCodeInternal           = "internal"
)

// Messages surfaced verbatim for rejected query shapes and token usage.
const (
	MsgAggregateComposition = "Compositions of aggregates and other expressions are not allowed."
	MsgMixedTypeOrderBy     = "Cannot execute cross partition order-by queries on mix types. Consider using IS_STRING/IS_NUMBER to get around this exception."

	MsgUnorderedDistinctContinuation = "continuation tokens are not supported for unordered DISTINCT queries; " +
		"add an ORDER BY clause matching the DISTINCT projection to enable resumption"

	MsgGroupByContinuation = "continuation token is not supported for queries with GROUP BY; " +
		"drain the query without continuation tokens or remove the GROUP BY"

	MsgCrossPartitionDisabled = "Cross partition query is required but disabled. Please set EnableCrossPartitionQuery to true, " +
		"specify the PartitionKey header, or restrict the query to a single partition."
)

// EngineError represents a custom error type for the engine
type EngineError struct {
	Code    string
	Message string
	Op      string
	Err     error
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap implements the unwrap interface for error chaining
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target error
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return false
}

// Log logs the error with the provided logger
func (e *EngineError) Log(ctx context.Context, logLevel slog.Level) {
	logFields := []any{
		"error_code", e.Code,
		"operation", e.Op,
		"message", e.Message,
	}
	if e.Err != nil {
		logFields = append(logFields, "cause", e.Err.Error())
	}

	switch logLevel {
	case slog.LevelDebug:
		logger.DebugContext(ctx, "Query error occurred", logFields...)
	case slog.LevelInfo:
		logger.InfoContext(ctx, "Query error occurred", logFields...)
	case slog.LevelWarn:
		logger.WarnContext(ctx, "Query error occurred", logFields...)
	default:
		logger.ErrorContext(ctx, "Query error occurred", logFields...)
	}
}

// New creates a new EngineError
func New(code, message string) *EngineError {
	return &EngineError{
		Code:    code,
		Message: message,
	}
}

// Errorf creates a new EngineError with formatted message
func Errorf(code, format string, args ...interface{}) *EngineError {
	return &EngineError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with context
func Wrap(err error, code, op string) *EngineError {
	return &EngineError{
		Code:    code,
		Message: err.Error(),
		Op:      op,
		Err:     err,
	}
}

// Wrapf wraps an existing error with formatted context
func Wrapf(err error, code, op, format string, args ...interface{}) *EngineError {
	return &EngineError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Op:      op,
		Err:     err,
	}
}

// Common error constructors
func NewBadRequest(op, msg string) *EngineError {
	return &EngineError{
		Code:    ErrCodeBadRequest,
		Message: msg,
		Op:      op,
	}
}

func NewBadRequestf(op, format string, args ...interface{}) *EngineError {
	return &EngineError{
		Code:    ErrCodeBadRequest,
		Message: fmt.Sprintf(format, args...),
		Op:      op,
	}
}

func NewServiceUnavailable(op, msg string) *EngineError {
	return &EngineError{
		Code:    ErrCodeServiceUnavailable,
		Message: msg,
		Op:      op,
	}
}

func NewThrottled(op, msg string) *EngineError {
	return &EngineError{
		Code:    ErrCodeThrottled,
		Message: msg,
		Op:      op,
	}
}

func NewPartitionGone(op, rangeID string) *EngineError {
	return &EngineError{
		Code:    ErrCodePartitionGone,
		Message: fmt.Sprintf("partition key range %s is gone", rangeID),
		Op:      op,
	}
}

func NewRequestCanceled(op, msg string) *EngineError {
	return &EngineError{
		Code:    ErrCodeRequestCanceled,
		Message: msg,
		Op:      op,
	}
}

func NewNotFoundf(op, format string, args ...interface{}) *EngineError {
	return &EngineError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf(format, args...),
		Op:      op,
	}
}

func NewInternalf(op, format string, args ...interface{}) *EngineError {
	return &EngineError{
		Code:    ErrCodeInternal,
		Message: fmt.Sprintf(format, args...),
		Op:      op,
	}
}

// Code returns the code of the outermost EngineError in err's chain, or ErrCodeUnknown.
func Code(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeUnknown
}

// IsBadRequest checks if an error is a permanent query or token error
func IsBadRequest(err error) bool {
	return Code(err) == ErrCodeBadRequest
}

// IsTransient reports whether the caller may retry the same request
func IsTransient(err error) bool {
	switch Code(err) {
	case ErrCodeServiceUnavailable, ErrCodeThrottled:
		return true
	}
	return false
}

// IsThrottled checks if an error was caused by request rate limiting
func IsThrottled(err error) bool {
	return Code(err) == ErrCodeThrottled
}

// IsPartitionGone checks if a partition key range no longer exists
func IsPartitionGone(err error) bool {
	return Code(err) == ErrCodePartitionGone
}

// IsRequestCanceled checks if the backend reported a canceled request
func IsRequestCanceled(err error) bool {
	return Code(err) == ErrCodeRequestCanceled
}

// IsNotFound checks if an error indicates something was not found
func IsNotFound(err error) bool {
	return Code(err) == ErrCodeNotFound
}

// IsConflict checks if an error indicates a conflict
func IsConflict(err error) bool {
	return Code(err) == ErrCodeConflict
}

// StatusCode maps err to the HTTP status the REST surface reports.
func StatusCode(err error) int {
	switch Code(err) {
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeThrottled:
		return http.StatusTooManyRequests
	case ErrCodePartitionGone:
		return http.StatusGone
	case ErrCodeRequestCanceled:
		return 499
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Predefined error variables
var (
	ErrClosed   = &EngineError{Code: "closed", Message: "query iterator closed"}
	ErrConflict = &EngineError{Code: ErrCodeConflict, Message: "conflict"}
)

// IsClosedError checks if an error indicates a closed iterator
func IsClosedError(err error) bool {
	return Code(err) == "closed"
}

// LogError logs an error at error level
func LogError(ctx context.Context, err error) {
	var e *EngineError
	if errors.As(err, &e) {
		e.Log(ctx, slog.LevelError)
	} else {
		logger.ErrorContext(ctx, "Unexpected error occurred", "error", err.Error())
	}
}

// LogWarning logs an error at warning level
func LogWarning(ctx context.Context, err error) {
	var e *EngineError
	if errors.As(err, &e) {
		e.Log(ctx, slog.LevelWarn)
	} else {
		logger.WarnContext(ctx, "Unexpected error occurred", "error", err.Error())
	}
}
