package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newMachineHandler() *Machine {
	return NewMachine(nil)
}

func TestMachineCreate_InvalidJSON(t *testing.T) {
	h := newMachineHandler()
	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodPost, "/machines", "{bad json")

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "invalid JSON")
}

func TestMachineCreate_BadIP(t *testing.T) {
	h := newMachineHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/machines", map[string]any{
		"name": "gpu-01",
		"ip":   "not-an-ip",
		"type": "GPU",
	})

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "validation error")
}

func TestMachineGet_EmptyID(t *testing.T) {
	h := newMachineHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodGet, "/machines/", nil)
	r = withChiURLParam(r, "id", "")

	h.Get(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "missing required ID")
}

func TestMachineSetStatus_MissingStatus(t *testing.T) {
	h := newMachineHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPut, "/machines/"+validID+"/status", map[string]any{})
	r = withChiURLParam(r, "id", validID)

	h.SetStatus(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMachineEnterMaintenance_EmptyID(t *testing.T) {
	h := newMachineHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/machines//maintenance", nil)
	r = withChiURLParam(r, "id", "")

	h.EnterMaintenance(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
