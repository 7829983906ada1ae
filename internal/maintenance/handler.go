package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"lumilearn/internal/observability"
)

// LockoutStore clears account locks whose deadline has passed.
type LockoutStore interface {
	ClearExpiredLockouts(ctx context.Context, now time.Time, batchSize int) (int64, error)
}

// Pruner bounds the in-memory rate-limit state. Nil when a shared store
// (Redis) handles expiry through TTLs.
type Pruner interface {
	Prune(olderThan time.Duration)
}

// CleanupHandler is invoked by a scheduler with the cron secret as a bearer
// token. Lockout and rate-limit expiry are lazy at request time; cleanup
// only reclaims storage.
type CleanupHandler struct {
	store      LockoutStore
	pruner     Pruner
	logger     *observability.Logger
	cronSecret string
	retention  time.Duration
	batchSize  int
}

func NewCleanupHandler(store LockoutStore, pruner Pruner, logger *observability.Logger, cronSecret string, retention time.Duration, batchSize int) *CleanupHandler {
	return &CleanupHandler{
		store:      store,
		pruner:     pruner,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		retention:  retention,
		batchSize:  batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	cleared, err := h.store.ClearExpiredLockouts(r.Context(), time.Now().UTC(), h.batchSize)
	if err != nil {
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	if h.pruner != nil {
		h.pruner.Prune(h.retention)
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{
		"cleared_lockouts": cleared,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"cleared_lockouts": cleared,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
