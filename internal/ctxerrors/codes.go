// Package ctxerrors provides structured error handling for the context
// engine. Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 2XX: storage/IO errors
//   - 4XX: validation, lookup, and policy errors
//   - 5XX: internal errors
package ctxerrors

// Category classifies an error for logging and handling policy.
type Category string

const (
	CategoryValidation Category = "VALIDATION"
	CategoryStorage    Category = "STORAGE"
	CategoryPolicy     Category = "POLICY"
	CategoryConcurrent Category = "CONCURRENCY"
	CategoryInternal   Category = "INTERNAL"
)

// Severity defines how serious an error is.
type Severity string

const (
	SeverityFatal   Severity = "FATAL"
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// Error codes, one per spec.md §7 error kind plus internal fallback.
const (
	// CodeInvalidArgument: missing required field, bad enum, negative integer, ill-formed id.
	CodeInvalidArgument = "ERR_401_INVALID_ARGUMENT"
	// CodeNotFound: segment/project/task id unknown.
	CodeNotFound = "ERR_404_NOT_FOUND"
	// CodePinnedProtected: attempt to prune/delete a pinned segment without forced policy.
	CodePinnedProtected = "ERR_409_PINNED_PROTECTED"
	// CodeStorageCorrupt: shard file invalid JSON or schema mismatch.
	CodeStorageCorrupt = "ERR_205_STORAGE_CORRUPT"
	// CodeStorageIO: disk failure on write.
	CodeStorageIO = "ERR_206_STORAGE_IO"
	// CodeCapacityExceeded: caller asked to free more tokens than exist among candidates.
	// Not a hard error; surfaced as a warning alongside a best-effort plan.
	CodeCapacityExceeded = "ERR_413_CAPACITY_EXCEEDED"
	// CodeConcurrency: lock could not be acquired within a bounded time. Retryable.
	CodeConcurrency = "ERR_423_CONCURRENCY"
	// CodeInternal: unexpected internal error.
	CodeInternal = "ERR_500_INTERNAL"
)

func categoryFromCode(code string) Category {
	switch code {
	case CodeInvalidArgument, CodeNotFound:
		return CategoryValidation
	case CodeStorageCorrupt, CodeStorageIO:
		return CategoryStorage
	case CodePinnedProtected, CodeCapacityExceeded:
		return CategoryPolicy
	case CodeConcurrency:
		return CategoryConcurrent
	default:
		return CategoryInternal
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case CodeStorageCorrupt:
		return SeverityWarning // recoverable: shard treated as empty
	case CodeCapacityExceeded:
		return SeverityWarning // best-effort plan still returned
	case CodeStorageIO:
		return SeverityFatal // operation aborts, prior state intact
	default:
		return SeverityError
	}
}

func isRetryableCode(code string) bool {
	return code == CodeConcurrency
}
