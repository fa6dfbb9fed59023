package branchscope

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/resto-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

// Middleware derives the branch scope from session state on every request.
type Middleware struct {
	Logger *slog.Logger
}

// Require rejects requests whose session carries no resolvable branch context and
// stores the scope in the request context otherwise.
func (m Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, err := FromSession(shared.SessionFromContext(r.Context()))
		if err != nil {
			if m.Logger != nil {
				m.Logger.Warn("branch scope rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
	})
}
