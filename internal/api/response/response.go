package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hallvard/fleet/internal/core"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteServiceError maps a typed service failure onto an HTTP status and an
// error envelope carrying the machine-readable reason. Untyped errors stay
// opaque 500s.
func WriteServiceError(w http.ResponseWriter, err error) {
	var se *core.ServiceError
	if !errors.As(err, &se) {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, statusFor(se.Reason), map[string]string{
		"error":        se.Message,
		"error_reason": string(se.Reason),
	})
}

func statusFor(reason core.Reason) int {
	switch reason {
	case core.ReasonInvalidToken:
		return http.StatusUnauthorized
	case core.ReasonInsufficientPermission:
		return http.StatusForbidden
	case core.ReasonInvalidPayload, core.ReasonInvalidConfig:
		return http.StatusBadRequest
	case core.ReasonMachineNotFound, core.ReasonContainerNotFound, core.ReasonUserNotFound:
		return http.StatusNotFound
	case core.ReasonDuplicateEntry, core.ReasonContainerOffline,
		core.ReasonMachineMaintenance, core.ReasonWildContainer:
		return http.StatusConflict
	case core.ReasonMachineOffline, core.ReasonNodeError, core.ReasonUnexpectedResponse,
		core.ReasonCreateFailed, core.ReasonRemoveFailed, core.ReasonAddFailed, core.ReasonUpdateFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PaginatedResponse wraps a list with pagination metadata.
type PaginatedResponse struct {
	Items      any    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// WritePaginated writes a paginated JSON response.
func WritePaginated(w http.ResponseWriter, status int, items any, nextCursor string, hasMore bool) {
	WriteJSON(w, status, PaginatedResponse{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	})
}
