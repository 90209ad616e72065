package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForUser renders a multi-line, user-facing message with the
// suggestion (if any) and the code on its own trailing line.
func FormatForUser(err error) string {
	if err == nil {
		return ""
	}
	qe := asQuarry(err)
	if qe == nil {
		return err.Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s\n", qe.Message)
	if qe.Suggestion != "" {
		fmt.Fprintf(&b, "\nSuggestion: %s\n", qe.Suggestion)
	}
	fmt.Fprintf(&b, "\n[%s]", qe.Code)
	return b.String()
}

// FormatForCLI renders a compact terminal form. Plain errors are coerced to
// internal QuarryErrors first so every error shows a code.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	qe := coerce(err)

	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s\n", qe.Message)
	if qe.Suggestion != "" {
		fmt.Fprintf(&b, "  Hint: %s\n", qe.Suggestion)
	}
	fmt.Fprintf(&b, "  Code: %s\n", qe.Code)
	return b.String()
}

func coerce(err error) *QuarryError {
	if qe := asQuarry(err); qe != nil {
		return qe
	}
	return Wrap(ErrCodeInternal, err)
}

type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON renders the error for machine consumption.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	qe := coerce(err)

	je := jsonError{
		Code:       qe.Code,
		Message:    qe.Message,
		Category:   string(qe.Category),
		Severity:   string(qe.Severity),
		Details:    qe.Details,
		Suggestion: qe.Suggestion,
		Retryable:  qe.Retryable,
	}
	if qe.Cause != nil {
		je.Cause = qe.Cause.Error()
	}
	return json.Marshal(je)
}

// FormatForLog flattens the error into slog attribute pairs.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}
	qe := asQuarry(err)
	if qe == nil {
		return map[string]any{"error": err.Error()}
	}

	attrs := map[string]any{
		"error_code": qe.Code,
		"message":    qe.Message,
		"category":   string(qe.Category),
		"severity":   string(qe.Severity),
		"retryable":  qe.Retryable,
	}
	if qe.Cause != nil {
		attrs["cause"] = qe.Cause.Error()
	}
	if qe.Suggestion != "" {
		attrs["suggestion"] = qe.Suggestion
	}
	for k, v := range qe.Details {
		attrs["detail_"+k] = v
	}
	return attrs
}
