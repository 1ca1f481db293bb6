package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hallvard/fleet/internal/api/middleware"
	"github.com/hallvard/fleet/internal/api/request"
	"github.com/hallvard/fleet/internal/api/response"
	"github.com/hallvard/fleet/internal/core"
	"github.com/hallvard/fleet/internal/model"
)

type Container struct {
	svc *core.ContainerService
}

func NewContainer(svc *core.ContainerService) *Container {
	return &Container{svc: svc}
}

func (h *Container) ListByMachine(w http.ResponseWriter, r *http.Request) {
	machineID, err := request.RequireID(chi.URLParam(r, "machineID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	pg := request.ParsePagination(r)
	containers, hasMore, err := h.svc.ListBrief(r.Context(), machineID, pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	var nextCursor string
	if hasMore && len(containers) > 0 {
		nextCursor = containers[len(containers)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, containers, nextCursor, hasMore)
}

// Create provisions a container owned by the authenticated user.
func (h *Container) Create(w http.ResponseWriter, r *http.Request) {
	machineID, err := request.RequireID(chi.URLParam(r, "machineID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Name      string `json:"name" validate:"required,container_name"`
		Image     string `json:"image" validate:"required,image"`
		GPUList   []int  `json:"gpu_list"`
		CPUCount  int    `json:"cpu_count" validate:"min=0"`
		MemoryGB  int    `json:"memory_gb" validate:"min=0"`
		SwapGB    int    `json:"swap_gb" validate:"min=0"`
		PublicKey string `json:"public_key" validate:"public_key"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	owner := middleware.UserFrom(r.Context())
	if owner == nil {
		response.WriteServiceError(w, core.Errf(core.ReasonInvalidToken, "no authenticated user"))
		return
	}

	container, err := h.svc.Create(r.Context(), owner.Name, machineID, core.CreateSpec{
		Name:     req.Name,
		Image:    req.Image,
		GPUList:  req.GPUList,
		CPUCount: req.CPUCount,
		MemoryGB: req.MemoryGB,
		SwapGB:   req.SwapGB,
	}, req.PublicKey)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, container)
}

func (h *Container) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	detail, err := h.svc.GetDetail(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, detail)
}

func (h *Container) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Remove(r.Context(), id); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Container) Start(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Start)
}

func (h *Container) Stop(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Stop)
}

func (h *Container) Restart(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Restart)
}

func (h *Container) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) error) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := op(r.Context(), id); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	// The node accepted; a background worker converges the status.
	response.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}

func (h *Container) AddCollaborator(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		UserID string `json:"user_id" validate:"required"`
		Role   string `json:"role" validate:"required"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.AddCollaborator(r.Context(), id, req.UserID, model.Role(req.Role)); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Container) RemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := request.RequireID(chi.URLParam(r, "userID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.RemoveCollaborator(r.Context(), id, userID); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Container) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := request.RequireID(chi.URLParam(r, "userID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Role string `json:"role" validate:"required"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.UpdateRole(r.Context(), id, userID, model.Role(req.Role)); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
