package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hallvard/fleet/internal/core"
)

func newUserHandler() *User {
	return NewUser(nil)
}

func TestUserRegister_InvalidJSON(t *testing.T) {
	h := newUserHandler()
	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodPost, "/auth/register", "{bad json")

	h.Register(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserRegister_BadUsername(t *testing.T) {
	h := newUserHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/auth/register", map[string]any{
		"name":     "has spaces",
		"password": "longenough",
	})

	h.Register(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "validation error")
}

func TestUserRegister_ShortPassword(t *testing.T) {
	h := newUserHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/auth/register", map[string]any{
		"name":     "alice",
		"password": "short",
	})

	h.Register(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserMe_NoUserInContext(t *testing.T) {
	h := newUserHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodGet, "/users/me", nil)

	h.Me(rec, r)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Equal(t, string(core.ReasonInvalidToken), body["error_reason"])
}

func TestUserDelete_EmptyID(t *testing.T) {
	h := newUserHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodDelete, "/users/", nil)
	r = withChiURLParam(r, "id", "")

	h.Delete(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
