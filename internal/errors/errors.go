package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
)

// ErrorCategory classifies pipeline errors for propagation policy decisions.
type ErrorCategory string

const (
	// CategoryDataFormat marks malformed input. Batch-fatal: the pipeline
	// aborts before any profile is emitted.
	CategoryDataFormat ErrorCategory = "data_format"
	// CategoryInsufficientData marks a person or trait that cannot be scored.
	// Recorded per-entity; the rest of the batch completes.
	CategoryInsufficientData ErrorCategory = "insufficient_data"
	// CategoryIncompleteProfile marks an assembly invariant violation. This is
	// a bug, not a user-facing condition.
	CategoryIncompleteProfile ErrorCategory = "incomplete_profile"
	CategoryConfiguration     ErrorCategory = "configuration"
	CategoryRateLimit         ErrorCategory = "rate_limit"
	CategoryInternal          ErrorCategory = "internal"
)

// AppError wraps an errbuilder error with the category and HTTP status the
// transport layer needs to report it.
type AppError struct {
	*errbuilder.ErrBuilder
	Category   ErrorCategory `json:"category"`
	HTTPStatus int           `json:"http_status"`
	Timestamp  time.Time     `json:"timestamp"`
	StackTrace string        `json:"stack_trace,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Category, e.ErrBuilder.Msg)
}

func (e *AppError) Unwrap() error {
	return e.ErrBuilder.Unwrap()
}

// MarshalJSON flattens the embedded builder by hand. The builder's own
// marshaller renders its cause unconditionally, which dereferences nil for
// errors that carry none.
func (e *AppError) MarshalJSON() ([]byte, error) {
	var details map[string]string
	if len(e.ErrBuilder.Details.Errors) > 0 {
		details = make(map[string]string, len(e.ErrBuilder.Details.Errors))
		for rule, detail := range e.ErrBuilder.Details.Errors {
			details[rule] = detail.Error()
		}
	}
	var cause string
	if c := e.ErrBuilder.Cause; c != nil {
		cause = c.Error()
	}
	return json.Marshal(appErrorJSON{
		Message:    e.ErrBuilder.Msg,
		Code:       e.ErrBuilder.ErrCode(),
		Category:   e.Category,
		HTTPStatus: e.HTTPStatus,
		Timestamp:  e.Timestamp,
		Cause:      cause,
		Details:    details,
		StackTrace: e.StackTrace,
	})
}

// appErrorJSON is the wire shape of an AppError. ErrCode round-trips as its
// text form.
type appErrorJSON struct {
	Message    string             `json:"message"`
	Code       errbuilder.ErrCode `json:"code"`
	Category   ErrorCategory      `json:"category"`
	HTTPStatus int                `json:"http_status"`
	Timestamp  time.Time          `json:"timestamp"`
	Cause      string             `json:"cause,omitempty"`
	Details    map[string]string  `json:"details,omitempty"`
	StackTrace string             `json:"stack_trace,omitempty"`
}

// UnmarshalJSON rebuilds the wrapped builder from the wire shape, so reports
// persisted with warnings load back intact.
func (e *AppError) UnmarshalJSON(data []byte) error {
	var payload appErrorJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	builder := errbuilder.New().
		WithCode(payload.Code).
		WithMsg(payload.Message)
	if payload.Cause != "" {
		builder = builder.WithCause(errors.New(payload.Cause))
	}
	if len(payload.Details) > 0 {
		errMap := errbuilder.ErrorMap{}
		for rule, detail := range payload.Details {
			errMap.Set(rule, errors.New(detail))
		}
		builder = builder.WithDetails(errbuilder.NewErrDetails(errMap))
	}

	e.ErrBuilder = builder
	e.Category = payload.Category
	e.HTTPStatus = payload.HTTPStatus
	e.Timestamp = payload.Timestamp
	e.StackTrace = payload.StackTrace
	return nil
}

// NewAppError creates an AppError from an errbuilder with transport context.
func NewAppError(builder *errbuilder.ErrBuilder, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		ErrBuilder: builder,
		Category:   category,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
	}
}

// NewDataFormatError reports malformed or duplicate input. The rule that was
// violated goes into the details map so callers see a structured cause, not a
// generic failure.
func NewDataFormatError(message string, details map[string]string) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(message)

	if len(details) > 0 {
		errMap := errbuilder.ErrorMap{}
		for rule, detail := range details {
			errMap.Set(rule, errors.New(detail))
		}
		builder = builder.WithDetails(errbuilder.NewErrDetails(errMap))
	}

	return NewAppError(builder, CategoryDataFormat, http.StatusBadRequest)
}

// NewInsufficientDataError reports an entity (person, trait, item) that cannot
// be scored. These are recorded per-entity and never abort the batch.
func NewInsufficientDataError(entity, message string) *AppError {
	errMap := errbuilder.ErrorMap{}
	errMap.Set("entity", errors.New(entity))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(message).
		WithDetails(errbuilder.NewErrDetails(errMap))

	return NewAppError(builder, CategoryInsufficientData, http.StatusUnprocessableEntity)
}

// NewIncompleteProfileError reports a gap found during profile assembly. Given
// the upstream contracts this should never occur; it is treated as a fatal bug.
func NewIncompleteProfileError(personID, missing string) *AppError {
	errMap := errbuilder.ErrorMap{}
	errMap.Set("person_id", errors.New(personID))
	errMap.Set("missing", errors.New(missing))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg("profile assembly found an incomplete profile").
		WithDetails(errbuilder.NewErrDetails(errMap))

	appErr := NewAppError(builder, CategoryIncompleteProfile, http.StatusInternalServerError)
	appErr.StackTrace = captureStackTrace()
	return appErr
}

// NewConfigurationError reports invalid static configuration (trait
// definitions, archetype templates, scale vocabulary).
func NewConfigurationError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryConfiguration, http.StatusInternalServerError)
}

// NewRateLimitError is returned by the transport layer when a client exceeds
// its request budget.
func NewRateLimitError(retryAfter string) *AppError {
	errMap := errbuilder.ErrorMap{}
	errMap.Set("retry_after", errors.New(retryAfter))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeResourceExhausted).
		WithMsg("rate limit exceeded").
		WithDetails(errbuilder.NewErrDetails(errMap))

	return NewAppError(builder, CategoryRateLimit, http.StatusTooManyRequests)
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	appErr := NewAppError(builder, CategoryInternal, http.StatusInternalServerError)
	if gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode {
		appErr.StackTrace = captureStackTrace()
	}
	return appErr
}

// IsBatchFatal reports whether an error must stop the batch before any profile
// is emitted. Per-entity insufficiency degrades fields instead.
func IsBatchFatal(err error) bool {
	appErr := ToAppError(err)
	switch appErr.Category {
	case CategoryDataFormat, CategoryIncompleteProfile, CategoryConfiguration:
		return true
	default:
		return false
	}
}

func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// ErrorHandler is a gin middleware that converts pipeline errors into
// structured JSON responses.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			appErr := ToAppError(err)
			LogError(c, appErr)
			c.JSON(appErr.HTTPStatus, appErr)
		}
	}
}

// RecoveryHandler converts panics into internal errors with a stack trace.
func RecoveryHandler() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		appErr := NewInternalError(fmt.Sprintf("panic recovered: %v", recovered), nil)
		appErr.StackTrace = captureStackTrace()
		LogError(c, appErr)
		c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
	})
}

// ToAppError converts any error to an AppError.
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if ebErr, ok := err.(*errbuilder.ErrBuilder); ok {
		return NewAppError(ebErr, CategoryInternal, http.StatusInternalServerError)
	}

	return NewInternalError("an unexpected error occurred", err)
}

// LogError logs an error with request context at a level matching its category.
func LogError(c *gin.Context, err *AppError) {
	logEntry := slog.With(
		"error_category", err.Category,
		"error_code", err.ErrBuilder.ErrCode(),
		"http_status", err.HTTPStatus,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"ip", c.ClientIP(),
	)

	switch err.Category {
	case CategoryDataFormat, CategoryRateLimit, CategoryInsufficientData:
		logEntry.Warn(err.ErrBuilder.Msg, "details", err.ErrBuilder.Details.Errors)
	default:
		if cause := err.ErrBuilder.Unwrap(); cause != nil {
			logEntry.Error(err.ErrBuilder.Msg, "cause", cause)
		} else {
			logEntry.Error(err.ErrBuilder.Msg)
		}
	}

	if err.StackTrace != "" && (gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode) {
		logEntry.Debug("stack_trace", "trace", err.StackTrace)
	}
}
