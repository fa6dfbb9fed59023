// Package httpx provides HTTP response utilities.
package httpx

import (
	"net/http"

	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Internal errors are reported generically; callers log them first.
func RespondError(w http.ResponseWriter, err error) {
	kind := shared.Kind(err)
	switch kind {
	case shared.KindNotFound:
		ProblemKind(w, http.StatusNotFound, "Not Found", kind, err.Error())
	case shared.KindValidation:
		ProblemKind(w, http.StatusBadRequest, "Validation Failed", kind, err.Error())
	case shared.KindImbalancedEntry:
		ProblemKind(w, http.StatusUnprocessableEntity, "Imbalanced Entry", kind, err.Error())
	case shared.KindForbidden:
		ProblemKind(w, http.StatusForbidden, "Forbidden", kind, err.Error())
	case shared.KindConcurrencyConflict:
		ProblemKind(w, http.StatusConflict, "Concurrency Conflict", kind, err.Error())
	case shared.KindConfiguration:
		ProblemKind(w, http.StatusUnprocessableEntity, "Configuration Error", kind, err.Error())
	default:
		ProblemKind(w, http.StatusInternalServerError, "Internal Error", shared.KindInternal, "")
	}
}
