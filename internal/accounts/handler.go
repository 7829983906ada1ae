package accounts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"

	"lumilearn/internal/auth"
)

// AccountReader is the slice of the auth repository these endpoints need.
type AccountReader interface {
	AccountByID(ctx context.Context, id string) (auth.Account, error)
	List(ctx context.Context, limit, offset int) ([]auth.Account, error)
}

type Handler struct {
	repo AccountReader
}

func NewHandler(repo AccountReader) *Handler {
	return &Handler{repo: repo}
}

// Me returns the profile of the authenticated account. Sits behind the
// require middleware, so a missing identity means the account vanished
// between token issuance and now.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.CodeInvalidToken, "invalid authentication token")
		return
	}

	account, err := h.repo.AccountByID(r.Context(), identity.AccountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, auth.CodeInvalidToken, "account no longer exists")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"account": account})
}

// List is the admin account listing.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	accounts, err := h.repo.List(r.Context(), limit, offset)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list accounts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func queryInt(r *http.Request, name string, fallback int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
