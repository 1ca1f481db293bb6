package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hallvard/fleet/internal/core"
)

func newContainerHandler() *Container {
	return NewContainer(nil)
}

// --- ListByMachine ---

func TestContainerListByMachine_EmptyID(t *testing.T) {
	h := newContainerHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodGet, "/machines//containers", nil)
	r = withChiURLParam(r, "machineID", "")

	h.ListByMachine(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "missing required ID")
}

// --- Create ---

func TestContainerCreate_InvalidJSON(t *testing.T) {
	h := newContainerHandler()
	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodPost, "/machines/"+validID+"/containers", "{bad json")
	r = withChiURLParam(r, "machineID", validID)

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "invalid JSON")
}

func TestContainerCreate_BadName(t *testing.T) {
	h := newContainerHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/machines/"+validID+"/containers", map[string]any{
		"name":  "bad name; rm -rf /",
		"image": "ubuntu:24.04",
	})
	r = withChiURLParam(r, "machineID", validID)

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "validation error")
}

func TestContainerCreate_NoAuthenticatedUser(t *testing.T) {
	h := newContainerHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/machines/"+validID+"/containers", map[string]any{
		"name":  "trainer",
		"image": "ubuntu:24.04",
	})
	r = withChiURLParam(r, "machineID", validID)

	h.Create(rec, r)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Equal(t, string(core.ReasonInvalidToken), body["error_reason"])
}

// --- Collaborators ---

func TestContainerAddCollaborator_MissingRole(t *testing.T) {
	h := newContainerHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/containers/"+validID+"/collaborators", map[string]any{
		"user_id": validID,
	})
	r = withChiURLParam(r, "id", validID)

	h.AddCollaborator(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContainerUpdateRole_EmptyUserID(t *testing.T) {
	h := newContainerHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPut, "/containers/"+validID+"/collaborators/", map[string]any{
		"role": "ADMIN",
	})
	r = withChiURLParam(r, "id", validID)

	h.UpdateRole(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "missing required ID")
}

// --- Lifecycle ---

func TestContainerStart_EmptyID(t *testing.T) {
	h := newContainerHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/containers//start", nil)
	r = withChiURLParam(r, "id", "")

	h.Start(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
