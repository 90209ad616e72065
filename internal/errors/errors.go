package errors

import "fmt"

// QuarryError is the structured error carried across package boundaries:
// a stable code plus derived category, severity, and retryability, with
// optional detail pairs and a user-facing suggestion.
type QuarryError struct {
	Code       string // stable identifier, e.g. "ERR_201_FILE_NOT_FOUND"
	Message    string
	Category   Category
	Severity   Severity
	Details    map[string]string
	Cause      error
	Retryable  bool
	Suggestion string
}

func (e *QuarryError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *QuarryError) Unwrap() error { return e.Cause }

// Is matches QuarryErrors by code, so errors.Is works across wrapping.
func (e *QuarryError) Is(target error) bool {
	t, ok := target.(*QuarryError)
	return ok && e.Code == t.Code
}

// WithDetail attaches a key-value pair; chainable.
func (e *QuarryError) WithDetail(key, value string) *QuarryError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion attaches an actionable hint for the user; chainable.
func (e *QuarryError) WithSuggestion(suggestion string) *QuarryError {
	e.Suggestion = suggestion
	return e
}

// New builds a QuarryError, deriving category, severity, and retryability
// from the code.
func New(code string, message string, cause error) *QuarryError {
	return &QuarryError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap lifts an existing error into a QuarryError, reusing its message.
func Wrap(code string, err error) *QuarryError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Constructors for the common cases.

func ConfigError(message string, cause error) *QuarryError {
	return New(ErrCodeConfigInvalid, message, cause)
}

func IOError(message string, cause error) *QuarryError {
	return New(ErrCodeFileNotFound, message, cause)
}

// TransientError marks a backend failure worth retrying with backoff.
func TransientError(message string, cause error) *QuarryError {
	return New(ErrCodeBackendUnavailable, message, cause)
}

// IntegrityError marks corrupted or inconsistent stored state. Never
// retryable; surfaces for operator intervention.
func IntegrityError(message string, cause error) *QuarryError {
	return New(ErrCodeIntegrity, message, cause)
}

// AccessDeniedError marks a dataset access violation.
func AccessDeniedError(message string) *QuarryError {
	return New(ErrCodeDatasetDenied, message, nil)
}

func ValidationError(message string, cause error) *QuarryError {
	return New(ErrCodeInvalidInput, message, cause)
}

func InternalError(message string, cause error) *QuarryError {
	return New(ErrCodeInternal, message, cause)
}

// RetrievalUnavailable is the terminal error for a query whose dense
// retrieval path failed, carrying the dense-leg failure as cause.
func RetrievalUnavailable(cause error) *QuarryError {
	return New(ErrCodeRetrievalUnavailable, "dense retrieval path unavailable", cause)
}

// asQuarry extracts the QuarryError, or nil for plain errors.
func asQuarry(err error) *QuarryError {
	qe, _ := err.(*QuarryError)
	return qe
}

// IsRetryable reports whether err is a QuarryError flagged retryable.
func IsRetryable(err error) bool {
	qe := asQuarry(err)
	return qe != nil && qe.Retryable
}

// IsFatal reports fatal severity; fatal errors abort the current operation.
func IsFatal(err error) bool {
	qe := asQuarry(err)
	return qe != nil && qe.Severity == SeverityFatal
}

// IsAccessDenied reports a dataset access violation.
func IsAccessDenied(err error) bool {
	return GetCategory(err) == CategoryAccess
}

// IsIntegrity reports corrupted or inconsistent stored state.
func IsIntegrity(err error) bool {
	switch GetCode(err) {
	case ErrCodeIntegrity, ErrCodeCorruptIndex, ErrCodeOrphanedVectors:
		return true
	}
	return false
}

// GetCode returns the code, or "" for plain errors.
func GetCode(err error) string {
	if qe := asQuarry(err); qe != nil {
		return qe.Code
	}
	return ""
}

// GetCategory returns the category, or "" for plain errors.
func GetCategory(err error) Category {
	if qe := asQuarry(err); qe != nil {
		return qe.Category
	}
	return ""
}
