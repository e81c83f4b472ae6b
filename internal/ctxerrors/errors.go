package ctxerrors

import "fmt"

// CtxError is the structured error type returned at the ContextManager
// boundary (spec.md §7: "errors are values, not exceptions-for-control-flow").
type CtxError struct {
	Code     string
	Message  string
	Category Category
	Severity Severity

	// Details carries structured context, e.g. {"segment_id": "...", "project_id": "..."}.
	Details map[string]string

	Cause     error
	Retryable bool
}

func (e *CtxError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CtxError) Unwrap() error {
	return e.Cause
}

// Is enables errors.Is comparisons by error code.
func (e *CtxError) Is(target error) bool {
	t, ok := target.(*CtxError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail attaches a key/value to the error and returns it for chaining.
func (e *CtxError) WithDetail(key, value string) *CtxError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New builds a CtxError from a code and message. Category, severity, and
// retryability are derived from the code.
func New(code, message string, cause error) *CtxError {
	return &CtxError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

func InvalidArgument(message string) *CtxError {
	return New(CodeInvalidArgument, message, nil)
}

func NotFound(kind, id string) *CtxError {
	return New(CodeNotFound, fmt.Sprintf("%s %q not found", kind, id), nil).
		WithDetail(kind, id)
}

func PinnedProtected(segmentID string) *CtxError {
	return New(CodePinnedProtected, fmt.Sprintf("segment %q is pinned", segmentID), nil).
		WithDetail("segment_id", segmentID)
}

func StorageCorrupt(shardPath string, cause error) *CtxError {
	return New(CodeStorageCorrupt, fmt.Sprintf("shard %q is corrupt, treating as empty", shardPath), cause).
		WithDetail("shard_path", shardPath)
}

func StorageIO(message string, cause error) *CtxError {
	return New(CodeStorageIO, message, cause)
}

func CapacityExceeded(requested, available int64) *CtxError {
	return New(CodeCapacityExceeded,
		fmt.Sprintf("requested %d tokens but only %d available among candidates", requested, available), nil).
		WithDetail("requested_tokens", fmt.Sprint(requested)).
		WithDetail("available_tokens", fmt.Sprint(available))
}

func Concurrency(message string, cause error) *CtxError {
	return New(CodeConcurrency, message, cause)
}

func Internal(message string, cause error) *CtxError {
	return New(CodeInternal, message, cause)
}

// IsRetryable reports whether err (or one it wraps) should be retried.
func IsRetryable(err error) bool {
	var ce *CtxError
	if As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// IsFatal reports whether err has fatal severity.
func IsFatal(err error) bool {
	var ce *CtxError
	if As(err, &ce) {
		return ce.Severity == SeverityFatal
	}
	return false
}

// Code extracts the error code, or "" if err is not a *CtxError.
func Code(err error) string {
	var ce *CtxError
	if As(err, &ce) {
		return ce.Code
	}
	return ""
}

// As walks err's Unwrap chain looking for a *CtxError, so this file needs
// no import of the stdlib errors package.
func As(err error, target **CtxError) bool {
	for err != nil {
		if ce, ok := err.(*CtxError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
