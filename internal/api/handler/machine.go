package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hallvard/fleet/internal/api/request"
	"github.com/hallvard/fleet/internal/api/response"
	"github.com/hallvard/fleet/internal/core"
	"github.com/hallvard/fleet/internal/model"
)

type Machine struct {
	svc *core.MachineService
}

func NewMachine(svc *core.MachineService) *Machine {
	return &Machine{svc: svc}
}

// List returns the machine inventory. With ?refresh=true every machine is
// probed first and statuses reconciled before the page is served.
func (h *Machine) List(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		machines, err := h.svc.RefreshStatuses(r.Context())
		if err != nil {
			response.WriteServiceError(w, err)
			return
		}
		response.WritePaginated(w, http.StatusOK, machines, "", false)
		return
	}

	pg := request.ParsePagination(r)
	machines, hasMore, err := h.svc.List(r.Context(), pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	var nextCursor string
	if hasMore && len(machines) > 0 {
		nextCursor = machines[len(machines)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, machines, nextCursor, hasMore)
}

func (h *Machine) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name" validate:"required"`
		IP          string `json:"ip" validate:"required,ip"`
		Type        string `json:"type" validate:"required"`
		CPUCores    int    `json:"cpu_cores" validate:"min=0"`
		MemoryGB    int    `json:"memory_gb" validate:"min=0"`
		GPUCount    int    `json:"gpu_count" validate:"min=0"`
		GPUType     string `json:"gpu_type"`
		DiskGB      int    `json:"disk_gb" validate:"min=0"`
		Description string `json:"description"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	m := &model.Machine{
		Name:        req.Name,
		IP:          req.IP,
		Type:        model.MachineType(req.Type),
		CPUCores:    req.CPUCores,
		MemoryGB:    req.MemoryGB,
		GPUCount:    req.GPUCount,
		GPUType:     req.GPUType,
		DiskGB:      req.DiskGB,
		Description: req.Description,
	}
	if err := h.svc.Create(r.Context(), m); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, m)
}

func (h *Machine) Get(w http.ResponseWriter, r *http.Request) {
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

func (h *Machine) Update(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Name        string `json:"name" validate:"required"`
		IP          string `json:"ip" validate:"required,ip"`
		Type        string `json:"type" validate:"required"`
		CPUCores    int    `json:"cpu_cores" validate:"min=0"`
		MemoryGB    int    `json:"memory_gb" validate:"min=0"`
		GPUCount    int    `json:"gpu_count" validate:"min=0"`
		GPUType     string `json:"gpu_type"`
		DiskGB      int    `json:"disk_gb" validate:"min=0"`
		Description string `json:"description"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	m := &model.Machine{
		ID:          id,
		Name:        req.Name,
		IP:          req.IP,
		Type:        model.MachineType(req.Type),
		CPUCores:    req.CPUCores,
		MemoryGB:    req.MemoryGB,
		GPUCount:    req.GPUCount,
		GPUType:     req.GPUType,
		DiskGB:      req.DiskGB,
		Description: req.Description,
	}
	if err := h.svc.Update(r.Context(), m); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, m)
}

func (h *Machine) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Machine) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Status string `json:"status" validate:"required"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.SetStatus(r.Context(), id, model.MachineStatus(req.Status)); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

// EnterMaintenance kicks off the asynchronous drain; the machine reaches
// MAINTENANCE once its containers have settled.
func (h *Machine) EnterMaintenance(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.EnterMaintenance(r.Context(), id); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "draining"})
}
