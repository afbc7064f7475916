package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/server/engine"
	"github.com/iudanet/gophsync/pkg/api"
)

// SyncEngine операции синхронизации
type SyncEngine interface {
	Pull(ctx context.Context, sc scope.Scope, req engine.PullRequest) (*engine.PullResult, error)
	Push(ctx context.Context, sc scope.Scope, changes []models.EntityChange) (*engine.PushResult, error)
}

// SyncHandler handles synchronization requests
type SyncHandler struct {
	logger *slog.Logger
	engine SyncEngine
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *slog.Logger, engine SyncEngine) *SyncHandler {
	return &SyncHandler{
		logger: logger,
		engine: engine,
	}
}

// Pull обрабатывает GET /api/v1/sync/pull?since=N&types=a,b&page_size=M
func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sc, ok := scopeFromRequest(w, r, h.logger)
	if !ok {
		return
	}

	q := r.URL.Query()
	req := engine.PullRequest{}

	if s := q.Get("since"); s != "" {
		since, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			sendError(w, h.logger, "invalid since parameter", http.StatusBadRequest)
			return
		}
		req.SinceVersion = since
	}
	if s := q.Get("page_size"); s != "" {
		size, err := strconv.Atoi(s)
		if err != nil || size < 0 {
			sendError(w, h.logger, "invalid page_size parameter", http.StatusBadRequest)
			return
		}
		req.PageSize = size
	}
	for _, v := range q["types"] {
		for t := range strings.SplitSeq(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				req.Types = append(req.Types, t)
			}
		}
	}

	res, err := h.engine.Pull(ctx, sc, req)
	if err != nil {
		sendEngineError(w, h.logger, err)
		return
	}

	resp := api.PullResponse{
		Changes:        make([]api.EntityChange, 0, len(res.Changes)),
		HighestVersion: res.HighestVersion,
		HasMore:        res.HasMore,
	}
	for _, ch := range res.Changes {
		resp.Changes = append(resp.Changes, api.FromModel(ch))
	}

	sendJSON(w, h.logger, resp, http.StatusOK)
}

// Push обрабатывает POST /api/v1/sync/push
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sc, ok := scopeFromRequest(w, r, h.logger)
	if !ok {
		return
	}

	var req api.PushRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode push request", slog.Any("error", err))
		sendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return
	}

	changes := make([]models.EntityChange, 0, len(req.Changes))
	for _, ch := range req.Changes {
		changes = append(changes, ch.ToModel(sc.UserID()))
	}

	res, err := h.engine.Push(ctx, sc, changes)
	if err != nil {
		sendEngineError(w, h.logger, err)
		return
	}

	resp := api.PushResponse{
		Outcomes:       make([]api.PushOutcome, 0, len(res.Outcomes)),
		HighestVersion: res.HighestVersion,
	}
	for _, o := range res.Outcomes {
		resp.Outcomes = append(resp.Outcomes, api.PushOutcome{
			Type:       o.Key.Type,
			ID:         o.Key.ID,
			Status:     string(o.Status),
			NewVersion: o.NewVersion,
			Payload:    o.Payload,
			Deleted:    o.Deleted,
			ConflictID: o.ConflictID,
			Reason:     string(o.Reason),
		})
	}

	sendJSON(w, h.logger, resp, http.StatusOK)
}
