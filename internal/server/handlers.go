package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/ports"
)

const maxBodyBytes = 16 << 20

type inletRequest struct {
	Body *domain.InletBody `json:"body"`
	User *domain.Actor     `json:"user"`
}

type outletRequest struct {
	Body *domain.OutletBody `json:"body"`
	User *domain.Actor      `json:"user"`
}

type handlers struct {
	pipelines map[string]ports.PipelineExecutor
	store     ports.CorrelationStore
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "pipelines": len(h.pipelines)}
	if h.store != nil {
		resp["correlations"] = h.store.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) pipeline(w http.ResponseWriter, r *http.Request) (ports.PipelineExecutor, bool) {
	id := chi.URLParam(r, "pipeline")
	AddLogField(r.Context(), "pipeline", id)

	exec, ok := h.pipelines[id]
	if !ok {
		err := domain.ErrNotFound(fmt.Sprintf("unknown pipeline %q", id)).WithCode(domain.ErrorCodeUnknownPipeline)
		AddError(r.Context(), err)
		writeError(w, err)
		return nil, false
	}
	return exec, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return domain.ErrInvalidRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func (h *handlers) inlet(w http.ResponseWriter, r *http.Request) {
	exec, ok := h.pipeline(w, r)
	if !ok {
		return
	}

	var req inletRequest
	if err := decode(w, r, &req); err != nil {
		AddError(r.Context(), err)
		writeError(w, err)
		return
	}
	if req.Body == nil {
		err := domain.ErrInvalidRequest("body is required")
		AddError(r.Context(), err)
		writeError(w, err)
		return
	}
	AddLogField(r.Context(), "exchange_id", req.Body.ExchangeID())

	if !exec.HasPreStages() {
		AddLogField(r.Context(), "stages", "none")
		writeJSON(w, http.StatusOK, req.Body)
		return
	}

	body, err := exec.RunPre(r.Context(), req.Body, req.User)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *handlers) outlet(w http.ResponseWriter, r *http.Request) {
	exec, ok := h.pipeline(w, r)
	if !ok {
		return
	}

	var req outletRequest
	if err := decode(w, r, &req); err != nil {
		AddError(r.Context(), err)
		writeError(w, err)
		return
	}
	if req.Body == nil {
		err := domain.ErrInvalidRequest("body is required")
		AddError(r.Context(), err)
		writeError(w, err)
		return
	}
	AddLogField(r.Context(), "exchange_id", req.Body.ID)

	if !exec.HasPostStages() {
		AddLogField(r.Context(), "stages", "none")
		writeJSON(w, http.StatusOK, req.Body)
		return
	}

	body, err := exec.RunPost(r.Context(), req.Body, req.User)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}
